package core

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// PlannedAssignment is one location's share of a line in an allocation plan.
type PlannedAssignment struct {
	LocationID int
	Quantity   int
}

// PlanAllocation divides qty across candidates according to the strategy,
// capped by each candidate's availability snapshot for the SKU. It returns
// the per-location assignments in consumption order and the quantity no
// candidate could cover. Pure planning: the ledger re-validates every unit
// when reservations are actually consumed, so a stale snapshot only shifts
// where the shortfall surfaces.
func PlanAllocation(qty int, strategy AllocationStrategy, candidates []Candidate, sku string, dest Destination) ([]PlannedAssignment, int) {
	if qty <= 0 || len(candidates) == 0 {
		return nil, qty
	}
	if strategy == StrategyEvenSplit {
		return planEvenSplit(qty, candidates, sku)
	}
	ranked := rankCandidates(strategy, candidates, dest)
	return consumeInOrder(qty, ranked, sku)
}

// rankCandidates orders candidates for fifo-style consumption. fifo keeps the
// rule engine's ranked order; nearest re-ranks by great-circle distance from
// the destination; priority uses each location's configured weight.
func rankCandidates(strategy AllocationStrategy, candidates []Candidate, dest Destination) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	switch strategy {
	case StrategyNearest:
		sort.SliceStable(ranked, func(i, j int) bool {
			return candidateDistance(ranked[i], dest) < candidateDistance(ranked[j], dest)
		})
	case StrategyPriority:
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Priority > ranked[j].Priority
		})
	}
	return ranked
}

// consumeInOrder takes stock greedily from each candidate in order, splitting
// the line across as many locations as necessary.
func consumeInOrder(qty int, ranked []Candidate, sku string) ([]PlannedAssignment, int) {
	var plan []PlannedAssignment
	remaining := qty
	for _, c := range ranked {
		if remaining == 0 {
			break
		}
		avail := c.Availability[sku]
		take := min(remaining, avail)
		if take <= 0 {
			continue
		}
		plan = append(plan, PlannedAssignment{LocationID: c.Location.ID, Quantity: take})
		remaining -= take
	}
	return plan, remaining
}

// planEvenSplit divides qty proportionally to each member's configured split
// percentage, rounding down and giving remainder units to the
// highest-priority member so no fractional allocations exist. Shares are then
// capped by availability and any residual is redistributed across members
// with spare capacity in list order.
func planEvenSplit(qty int, candidates []Candidate, sku string) ([]PlannedAssignment, int) {
	hundred := decimal.NewFromInt(100)
	total := decimal.NewFromInt(int64(qty))

	shares := make([]int, len(candidates))
	assigned := 0
	for i, c := range candidates {
		shares[i] = int(total.Mul(c.SplitPercent).Div(hundred).Floor().IntPart())
		assigned += shares[i]
	}

	// Remainder units go to the highest-priority member (earliest on ties).
	if rem := qty - assigned; rem > 0 {
		best := 0
		for i := 1; i < len(candidates); i++ {
			if candidates[i].Priority > candidates[best].Priority {
				best = i
			}
		}
		shares[best] += rem
	}

	// Cap by availability, then push what didn't fit onto members that still
	// have room, in list order, so every candidate is exhausted before the
	// line is reported short.
	capped := make([]int, len(candidates))
	residual := 0
	for i, c := range candidates {
		capped[i] = min(shares[i], c.Availability[sku])
		if capped[i] < 0 {
			capped[i] = 0
		}
		residual += shares[i] - capped[i]
	}
	for i, c := range candidates {
		if residual == 0 {
			break
		}
		spare := c.Availability[sku] - capped[i]
		if spare <= 0 {
			continue
		}
		extra := min(residual, spare)
		capped[i] += extra
		residual -= extra
	}

	var plan []PlannedAssignment
	for i, c := range candidates {
		if capped[i] > 0 {
			plan = append(plan, PlannedAssignment{LocationID: c.Location.ID, Quantity: capped[i]})
		}
	}
	return plan, residual
}

func candidateDistance(c Candidate, dest Destination) float64 {
	if c.Location.Latitude == nil || c.Location.Longitude == nil {
		return math.MaxFloat64 // unknown coordinates rank last
	}
	return haversineKm(dest.Latitude, dest.Longitude, *c.Location.Latitude, *c.Location.Longitude)
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
