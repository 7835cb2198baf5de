package app

import (
	"fulfillment-engine/internal/core"
)

// HoldStockResult mirrors core.HoldResult for transport adapters.
type HoldStockResult struct {
	Held   []core.HeldLine   `json:"held"`
	Failed []core.FailedLine `json:"failed,omitempty"`
}

// Ok reports whether every requested line was held.
func (r *HoldStockResult) Ok() bool { return len(r.Failed) == 0 }

// ReleaseResult reports how many holds a release or confirm touched.
type ReleaseResult struct {
	OwnerID string `json:"owner_id"`
	Count   int    `json:"count"`
}

type HoldListResult struct {
	OwnerID      string                  `json:"owner_id"`
	Reservations []core.StockReservation `json:"reservations"`
}

// RoutingResult is the rule engine's answer: which rule won and the ranked
// candidate locations with their per-SKU availability snapshot.
type RoutingResult struct {
	Decision core.RoutingDecision `json:"decision"`
}

// LineShortfall reports units no candidate could cover for one order line.
type LineShortfall struct {
	OrderLineID string `json:"order_line_id"`
	Remaining   int    `json:"remaining"`
}

// AllocateOrderResult carries the allocations that succeeded plus any
// per-line shortfalls. Shortfalls are reported outcomes, not errors: the
// allocations already made stand.
type AllocateOrderResult struct {
	OrderID     string                 `json:"order_id"`
	RuleID      int                    `json:"rule_id"`
	RuleName    string                 `json:"rule_name"`
	Strategy    core.AllocationStrategy `json:"strategy"`
	Allocations []core.StockAllocation `json:"allocations"`
	Shortfalls  []LineShortfall        `json:"shortfalls,omitempty"`
}

type AllocationListResult struct {
	OrderID     string                 `json:"order_id"`
	Allocations []core.StockAllocation `json:"allocations"`
}

// AvailabilityResult is a point-in-time availability snapshot. LocationID is
// nil for pool-wide queries, PoolID for single-location ones.
type AvailabilityResult struct {
	SKU        string `json:"sku"`
	LocationID *int   `json:"location_id,omitempty"`
	PoolID     *int   `json:"pool_id,omitempty"`
	Available  int    `json:"available"`
}

type LocationListResult struct {
	Locations []core.FulfillmentLocation `json:"locations"`
}
