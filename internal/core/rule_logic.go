package core

import (
	"sort"
	"strings"
)

// matchesScope checks the rule's store/channel restriction. A nil channel
// means the rule applies everywhere.
func (r *DistributionRule) matchesScope(octx *OrderContext) bool {
	if r.Channel == nil {
		return true
	}
	return strings.EqualFold(*r.Channel, octx.Channel)
}

// Matches evaluates every configured condition as AND. An absent condition
// means "don't care", never "exclude". Date and day-of-week conditions gate
// on the order's creation time.
func (r *DistributionRule) Matches(octx *OrderContext) bool {
	c := r.Conditions

	if len(c.Countries) > 0 && !containsFold(c.Countries, octx.Destination.Country) {
		return false
	}
	if len(c.Regions) > 0 && !containsFold(c.Regions, octx.Destination.Region) {
		return false
	}
	if len(c.PostalPrefixes) > 0 && !hasPostalPrefix(c.PostalPrefixes, octx.Destination.PostalCode) {
		return false
	}
	if len(c.CustomerGroups) > 0 && !containsFold(c.CustomerGroups, octx.CustomerGroup) {
		return false
	}
	if len(c.Categories) > 0 {
		// Category lists match when any order line falls in a listed category.
		matched := false
		for _, ln := range octx.Lines {
			if containsFold(c.Categories, ln.Category) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if c.MinOrderValue != nil && octx.Subtotal.LessThan(*c.MinOrderValue) {
		return false
	}
	if c.MaxOrderValue != nil && octx.Subtotal.GreaterThan(*c.MaxOrderValue) {
		return false
	}

	if c.MinWeight != nil || c.MaxWeight != nil {
		weight := octx.TotalWeight()
		if c.MinWeight != nil && weight.LessThan(*c.MinWeight) {
			return false
		}
		if c.MaxWeight != nil && weight.GreaterThan(*c.MaxWeight) {
			return false
		}
	}

	if c.ValidFrom != nil && octx.CreatedAt.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidTo != nil && octx.CreatedAt.After(*c.ValidTo) {
		return false
	}

	if len(c.DaysOfWeek) > 0 {
		day := int(octx.CreatedAt.Weekday())
		found := false
		for _, d := range c.DaysOfWeek {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// SelectRule picks the winning rule for an order context: highest priority
// among matching active rules, ties broken by creation order (earlier wins)
// then ID. First match is authoritative; if nothing matches, the designated
// default rule wins. Pure function over the snapshot, so selection is
// deterministic for identical inputs.
func SelectRule(rules []DistributionRule, octx *OrderContext) (*DistributionRule, error) {
	sorted := make([]DistributionRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	for i := range sorted {
		r := &sorted[i]
		if !r.IsActive || r.IsDefault {
			continue
		}
		if r.matchesScope(octx) && r.Matches(octx) {
			return r, nil
		}
	}

	// At most one default exists system-wide (enforced by admin tooling);
	// it applies regardless of its own conditions.
	for i := range sorted {
		if sorted[i].IsActive && sorted[i].IsDefault {
			return &sorted[i], nil
		}
	}
	return nil, ErrRuleNotFound
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func hasPostalPrefix(prefixes []string, postal string) bool {
	p := strings.ToUpper(strings.ReplaceAll(postal, " ", ""))
	for _, prefix := range prefixes {
		if strings.HasPrefix(p, strings.ToUpper(strings.ReplaceAll(prefix, " ", ""))) {
			return true
		}
	}
	return false
}
