package app

import (
	"context"
	"errors"
	"time"

	"fulfillment-engine/internal/core"
)

type fulfillmentService struct {
	ledger       *core.StockLedger
	directory    *core.LocationDirectory
	rules        *core.RuleEngine
	reservations core.ReservationService
	allocations  core.AllocationService
}

// NewFulfillmentService constructs the facade that satisfies
// FulfillmentService.
func NewFulfillmentService(
	ledger *core.StockLedger,
	directory *core.LocationDirectory,
	rules *core.RuleEngine,
	reservations core.ReservationService,
	allocations core.AllocationService,
) FulfillmentService {
	return &fulfillmentService{
		ledger:       ledger,
		directory:    directory,
		rules:        rules,
		reservations: reservations,
		allocations:  allocations,
	}
}

// ── holds ───────────────────────────────────────────────────────────────────

func (s *fulfillmentService) HoldStock(ctx context.Context, req HoldStockRequest) (*HoldStockResult, error) {
	lines := make([]core.HoldLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = core.HoldLine{SKU: l.SKU, LocationID: l.LocationID, Quantity: l.Quantity}
	}

	var ttl *time.Duration
	if req.TTLSeconds > 0 {
		d := time.Duration(req.TTLSeconds) * time.Second
		ttl = &d
	}

	result, err := s.reservations.HoldStock(ctx, req.OwnerID, lines, ttl)
	if err != nil {
		return nil, err
	}
	return &HoldStockResult{Held: result.Held, Failed: result.Failed}, nil
}

func (s *fulfillmentService) ReleaseHolds(ctx context.Context, ownerID string) (*ReleaseResult, error) {
	count, err := s.reservations.ReleaseAll(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &ReleaseResult{OwnerID: ownerID, Count: count}, nil
}

func (s *fulfillmentService) ConfirmOrder(ctx context.Context, basketID, orderID string) (*ReleaseResult, error) {
	count, err := s.reservations.ConfirmForOrder(ctx, basketID, orderID)
	if err != nil {
		return nil, err
	}
	return &ReleaseResult{OwnerID: orderID, Count: count}, nil
}

func (s *fulfillmentService) ListHolds(ctx context.Context, ownerID string) (*HoldListResult, error) {
	reservations, err := s.reservations.ListActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &HoldListResult{OwnerID: ownerID, Reservations: reservations}, nil
}

// ── routing and allocation ──────────────────────────────────────────────────

func (s *fulfillmentService) RouteOrder(ctx context.Context, req OrderContextRequest) (*RoutingResult, error) {
	octx := buildOrderContext(req)
	decision, err := s.rules.SelectLocations(ctx, octx)
	if err != nil {
		return nil, err
	}
	return &RoutingResult{Decision: *decision}, nil
}

func (s *fulfillmentService) AllocateOrder(ctx context.Context, req AllocateOrderRequest) (*AllocateOrderResult, error) {
	octx := buildOrderContext(req.Context)
	decision, err := s.rules.SelectLocations(ctx, octx)
	if err != nil {
		return nil, err
	}

	result := &AllocateOrderResult{
		OrderID:  req.OrderID,
		RuleID:   decision.RuleID,
		RuleName: decision.RuleName,
		Strategy: decision.Strategy,
	}
	for _, line := range req.Context.Lines {
		allocs, err := s.allocations.AllocateOrderLine(ctx, req.OrderID, line.OrderLineID, line.SKU, line.Quantity,
			*decision, octx.Destination)
		result.Allocations = append(result.Allocations, allocs...)
		if err != nil {
			var short *core.UnfulfillableError
			if !errors.As(err, &short) {
				return nil, err
			}
			result.Shortfalls = append(result.Shortfalls, LineShortfall{
				OrderLineID: short.OrderLineID,
				Remaining:   short.Remaining,
			})
		}
	}
	return result, nil
}

func (s *fulfillmentService) MarkPicked(ctx context.Context, allocationID string) (*core.StockAllocation, error) {
	return s.applyTransition(ctx, allocationID, s.allocations.MarkPicked)
}

func (s *fulfillmentService) MarkPacked(ctx context.Context, allocationID string) (*core.StockAllocation, error) {
	return s.applyTransition(ctx, allocationID, s.allocations.MarkPacked)
}

func (s *fulfillmentService) MarkShipped(ctx context.Context, allocationID string) (*core.StockAllocation, error) {
	return s.applyTransition(ctx, allocationID, s.allocations.MarkShipped)
}

func (s *fulfillmentService) CancelAllocation(ctx context.Context, allocationID string) (*core.StockAllocation, error) {
	return s.applyTransition(ctx, allocationID, s.allocations.Cancel)
}

func (s *fulfillmentService) MarkReturned(ctx context.Context, allocationID string) (*core.StockAllocation, error) {
	return s.applyTransition(ctx, allocationID, s.allocations.MarkReturned)
}

func (s *fulfillmentService) applyTransition(ctx context.Context, allocationID string, fn func(context.Context, string) error) (*core.StockAllocation, error) {
	if err := fn(ctx, allocationID); err != nil {
		return nil, err
	}
	return s.allocations.GetAllocation(ctx, allocationID)
}

func (s *fulfillmentService) ListAllocations(ctx context.Context, orderID string) (*AllocationListResult, error) {
	allocs, err := s.allocations.ListForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &AllocationListResult{OrderID: orderID, Allocations: allocs}, nil
}

// ── inventory ───────────────────────────────────────────────────────────────

func (s *fulfillmentService) GetAvailability(ctx context.Context, sku string, locationID int) (*AvailabilityResult, error) {
	available, err := s.ledger.Availability(ctx, sku, locationID)
	if err != nil {
		return nil, err
	}
	return &AvailabilityResult{SKU: sku, LocationID: &locationID, Available: available}, nil
}

func (s *fulfillmentService) GetPoolAvailability(ctx context.Context, sku string, poolID int) (*AvailabilityResult, error) {
	available, err := s.ledger.PoolAvailability(ctx, sku, poolID)
	if err != nil {
		return nil, err
	}
	return &AvailabilityResult{SKU: sku, PoolID: &poolID, Available: available}, nil
}

func (s *fulfillmentService) ReceiveStock(ctx context.Context, req ReceiveStockRequest) error {
	return s.ledger.ReceiveStock(ctx, s.ledger.Pool(), req.SKU, req.LocationID, req.Quantity, req.Reference)
}

func (s *fulfillmentService) RecordInbound(ctx context.Context, req ReceiveStockRequest) error {
	return s.ledger.RecordInbound(ctx, s.ledger.Pool(), req.SKU, req.LocationID, req.Quantity, req.Reference)
}

func (s *fulfillmentService) ListLocations(ctx context.Context) (*LocationListResult, error) {
	locations, err := s.directory.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return &LocationListResult{Locations: locations}, nil
}

func (s *fulfillmentService) RefreshRouting(ctx context.Context) error {
	if err := s.directory.Refresh(ctx); err != nil {
		return err
	}
	return s.rules.Refresh(ctx)
}

func buildOrderContext(req OrderContextRequest) *core.OrderContext {
	createdAt := time.Now()
	if req.CreatedAt != nil {
		createdAt = *req.CreatedAt
	}
	lines := make([]core.OrderContextLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = core.OrderContextLine{
			SKU:      l.SKU,
			Quantity: l.Quantity,
			Category: l.Category,
			Weight:   l.Weight,
		}
	}
	return &core.OrderContext{
		Channel: req.Channel,
		Destination: core.Destination{
			Country:    req.Destination.Country,
			Region:     req.Destination.Region,
			PostalCode: req.Destination.PostalCode,
			Latitude:   req.Destination.Latitude,
			Longitude:  req.Destination.Longitude,
		},
		Lines:         lines,
		Subtotal:      req.Subtotal,
		CustomerGroup: req.CustomerGroup,
		CreatedAt:     createdAt,
	}
}
