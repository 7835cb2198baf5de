package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const defaultRuleTTL = 30 * time.Second

// RuleEngine evaluates distribution rules against an order context and
// resolves the winning rule to ranked candidate locations. Rules are
// externally-authored configuration read through a TTL-cached snapshot;
// staleness affects routing choice only, never stock correctness.
type RuleEngine struct {
	pool      *pgxpool.Pool
	ledger    *StockLedger
	directory *LocationDirectory
	ttl       time.Duration

	mu       sync.RWMutex
	rules    []DistributionRule
	loadedAt time.Time
}

func NewRuleEngine(pool *pgxpool.Pool, ledger *StockLedger, directory *LocationDirectory, ttl time.Duration) *RuleEngine {
	if ttl <= 0 {
		ttl = defaultRuleTTL
	}
	return &RuleEngine{pool: pool, ledger: ledger, directory: directory, ttl: ttl}
}

// Refresh reloads the rule snapshot from the database unconditionally.
func (e *RuleEngine) Refresh(ctx context.Context) error {
	rules, err := e.loadRules(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = rules
	e.loadedAt = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *RuleEngine) snapshot(ctx context.Context) ([]DistributionRule, error) {
	e.mu.RLock()
	fresh := e.rules != nil && time.Since(e.loadedAt) < e.ttl
	rules := e.rules
	e.mu.RUnlock()
	if fresh {
		return rules, nil
	}
	if err := e.Refresh(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules, nil
}

// SelectLocations picks the winning rule for the order and resolves it to a
// ranked candidate list annotated with a per-SKU availability snapshot. The
// annotation is advisory for ranking; the authoritative check happens again
// at reservation/allocation time.
func (e *RuleEngine) SelectLocations(ctx context.Context, octx *OrderContext) (*RoutingDecision, error) {
	rules, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	rule, err := SelectRule(rules, octx)
	if err != nil {
		return nil, err
	}

	decision := &RoutingDecision{
		RuleID:             rule.ID,
		RuleName:           rule.Name,
		Strategy:           StrategyFIFO,
		FulfillmentPartner: rule.Action.FulfillmentPartner,
	}

	switch {
	case rule.Action.LocationID != nil:
		loc, err := e.directory.GetLocation(ctx, *rule.Action.LocationID)
		if err != nil {
			return nil, err
		}
		if !loc.IsActive {
			return nil, ErrLocationInactive
		}
		decision.Candidates = []Candidate{{
			Location: *loc,
			Priority: loc.Priority,
		}}
	case rule.Action.PoolID != nil:
		pool, err := e.directory.GetPool(ctx, *rule.Action.PoolID)
		if err != nil {
			return nil, err
		}
		if !pool.IsActive {
			return nil, ErrPoolNotFound
		}
		decision.Strategy = pool.Strategy
		for _, m := range pool.Members {
			loc, err := e.directory.GetLocation(ctx, m.LocationID)
			if err != nil || !loc.IsActive {
				continue // inactive members never serve
			}
			decision.Candidates = append(decision.Candidates, Candidate{
				Location:     *loc,
				Priority:     m.Priority,
				SplitPercent: m.SplitPercent,
			})
		}
	default:
		return nil, fmt.Errorf("rule %d (%s) has no location or pool action", rule.ID, rule.Name)
	}

	if rule.Action.StrategyOverride != nil {
		decision.Strategy = *rule.Action.StrategyOverride
	}

	if err := e.annotateAvailability(ctx, octx, decision); err != nil {
		return nil, err
	}
	return decision, nil
}

// annotateAvailability fills each candidate's per-SKU availability snapshot
// so the allocation engine avoids one round-trip per candidate.
func (e *RuleEngine) annotateAvailability(ctx context.Context, octx *OrderContext, decision *RoutingDecision) error {
	ids := make([]int, 0, len(decision.Candidates))
	for _, c := range decision.Candidates {
		ids = append(ids, c.Location.ID)
	}
	for i := range decision.Candidates {
		decision.Candidates[i].Availability = make(map[string]int, len(octx.Lines))
	}
	for _, ln := range octx.Lines {
		avail, err := e.ledger.AvailabilityByLocation(ctx, ln.SKU, ids)
		if err != nil {
			return err
		}
		for i := range decision.Candidates {
			decision.Candidates[i].Availability[ln.SKU] = avail[decision.Candidates[i].Location.ID]
		}
	}
	return nil
}

func (e *RuleEngine) loadRules(ctx context.Context) ([]DistributionRule, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT id, name, priority, is_default, is_active, channel,
		       countries, regions, postal_prefixes, categories, customer_groups,
		       min_order_value, max_order_value, min_weight, max_weight,
		       valid_from, valid_to, days_of_week,
		       location_id, pool_id, strategy_override, fulfillment_partner,
		       created_at
		FROM distribution_rules
		WHERE is_active = true
		ORDER BY priority DESC, created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution rules: %w", err)
	}
	defer rows.Close()

	var out []DistributionRule
	for rows.Next() {
		var r DistributionRule
		var minVal, maxVal, minW, maxW decimal.NullDecimal
		var days []int32
		var strategyOverride *string
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Priority, &r.IsDefault, &r.IsActive, &r.Channel,
			&r.Conditions.Countries, &r.Conditions.Regions, &r.Conditions.PostalPrefixes,
			&r.Conditions.Categories, &r.Conditions.CustomerGroups,
			&minVal, &maxVal, &minW, &maxW,
			&r.Conditions.ValidFrom, &r.Conditions.ValidTo, &days,
			&r.Action.LocationID, &r.Action.PoolID, &strategyOverride, &r.Action.FulfillmentPartner,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan distribution rule: %w", err)
		}
		if minVal.Valid {
			r.Conditions.MinOrderValue = &minVal.Decimal
		}
		if maxVal.Valid {
			r.Conditions.MaxOrderValue = &maxVal.Decimal
		}
		if minW.Valid {
			r.Conditions.MinWeight = &minW.Decimal
		}
		if maxW.Valid {
			r.Conditions.MaxWeight = &maxW.Decimal
		}
		for _, d := range days {
			r.Conditions.DaysOfWeek = append(r.Conditions.DaysOfWeek, int(d))
		}
		if strategyOverride != nil {
			s := AllocationStrategy(*strategyOverride)
			r.Action.StrategyOverride = &s
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
