package app

import (
	"context"

	"fulfillment-engine/internal/core"
)

// FulfillmentService is the single interface all transport adapters call. It
// decouples HTTP handlers from the engine services. Implementations must
// contain no presentation logic of any kind.
type FulfillmentService interface {
	// HoldStock places or adjusts time-boxed holds for a basket or order.
	// Partial failures are reported in the result, never as an error.
	HoldStock(ctx context.Context, req HoldStockRequest) (*HoldStockResult, error)

	// ReleaseHolds releases every active hold owned by the basket/order.
	ReleaseHolds(ctx context.Context, ownerID string) (*ReleaseResult, error)

	// ConfirmOrder re-tags a basket's holds to the order and removes their
	// idle-timeout deadline.
	ConfirmOrder(ctx context.Context, basketID, orderID string) (*ReleaseResult, error)

	// ListHolds returns the owner's active holds.
	ListHolds(ctx context.Context, ownerID string) (*HoldListResult, error)

	// RouteOrder runs the rule engine over an order context and returns the
	// winning rule with its ranked, availability-annotated candidates.
	RouteOrder(ctx context.Context, req OrderContextRequest) (*RoutingResult, error)

	// AllocateOrder routes the order and commits each line to concrete
	// locations, consuming the order's holds. Lines that cannot be fully
	// placed are reported as shortfalls alongside the allocations that
	// succeeded.
	AllocateOrder(ctx context.Context, req AllocateOrderRequest) (*AllocateOrderResult, error)

	// MarkPicked, MarkPacked, MarkShipped, CancelAllocation and MarkReturned
	// advance one allocation through its lifecycle.
	MarkPicked(ctx context.Context, allocationID string) (*core.StockAllocation, error)
	MarkPacked(ctx context.Context, allocationID string) (*core.StockAllocation, error)
	MarkShipped(ctx context.Context, allocationID string) (*core.StockAllocation, error)
	CancelAllocation(ctx context.Context, allocationID string) (*core.StockAllocation, error)
	MarkReturned(ctx context.Context, allocationID string) (*core.StockAllocation, error)

	// ListAllocations returns an order's allocations in creation order.
	ListAllocations(ctx context.Context, orderID string) (*AllocationListResult, error)

	// GetAvailability returns the availability snapshot for a SKU at one
	// location.
	GetAvailability(ctx context.Context, sku string, locationID int) (*AvailabilityResult, error)

	// GetPoolAvailability sums availability for a SKU across a pool's active
	// member locations.
	GetPoolAvailability(ctx context.Context, sku string, poolID int) (*AvailabilityResult, error)

	// ReceiveStock records a goods receipt at a location, creating the
	// inventory level on first receipt.
	ReceiveStock(ctx context.Context, req ReceiveStockRequest) error

	// RecordInbound registers stock that is on its way to a location.
	RecordInbound(ctx context.Context, req ReceiveStockRequest) error

	// ListLocations returns all active fulfillment locations.
	ListLocations(ctx context.Context) (*LocationListResult, error)

	// RefreshRouting reloads the rule and location snapshots immediately
	// instead of waiting for the cache TTL.
	RefreshRouting(ctx context.Context) error
}
