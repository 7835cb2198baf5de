package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AllocationService commits routed order lines to concrete locations and
// walks each allocation through its fulfillment lifecycle. Allocating
// consumes the order's holds, so stock a customer was promised can never be
// allocated to someone else.
type AllocationService interface {
	// AllocateOrderLine splits one order line across the routing decision's
	// candidates and records an allocation per receiving location. When not
	// every unit can be placed it returns the allocations that did succeed
	// together with an UnfulfillableError carrying the shortfall.
	AllocateOrderLine(ctx context.Context, orderID, orderLineID, sku string, qty int, decision RoutingDecision, dest Destination) ([]StockAllocation, error)

	MarkPicked(ctx context.Context, allocationID string) error
	MarkPacked(ctx context.Context, allocationID string) error

	// MarkShipped finalizes the allocation and deducts the units from
	// on-hand stock.
	MarkShipped(ctx context.Context, allocationID string) error

	// Cancel aborts an allocation that has not shipped; the units become
	// available again immediately.
	Cancel(ctx context.Context, allocationID string) error

	// MarkReturned puts a shipped allocation's units back into on-hand
	// stock.
	MarkReturned(ctx context.Context, allocationID string) error

	GetAllocation(ctx context.Context, allocationID string) (*StockAllocation, error)
	ListForOrder(ctx context.Context, orderID string) ([]StockAllocation, error)
}

type allocationService struct {
	pool         *pgxpool.Pool
	ledger       *StockLedger
	reservations ReservationService
	now          func() time.Time
}

func NewAllocationService(pool *pgxpool.Pool, ledger *StockLedger, reservations ReservationService, clock func() time.Time) AllocationService {
	if clock == nil {
		clock = time.Now
	}
	return &allocationService{pool: pool, ledger: ledger, reservations: reservations, now: clock}
}

// allocationTransitions is the full lifecycle. Cancellation is open until the
// parcel leaves the building; after that the only way back is a return.
var allocationTransitions = map[AllocationStatus][]AllocationStatus{
	AllocationAllocated: {AllocationPicked, AllocationCancelled},
	AllocationPicked:    {AllocationPacked, AllocationCancelled},
	AllocationPacked:    {AllocationShipped, AllocationCancelled},
	AllocationShipped:   {AllocationReturned},
}

// CanTransition reports whether an allocation may move from one status to
// another.
func CanTransition(from, to AllocationStatus) bool {
	for _, next := range allocationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ── allocation ──────────────────────────────────────────────────────────────

func (s *allocationService) AllocateOrderLine(ctx context.Context, orderID, orderLineID, sku string, qty int, decision RoutingDecision, dest Destination) ([]StockAllocation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	plan, _ := PlanAllocation(qty, decision.Strategy, decision.Candidates, sku, dest)

	var out []StockAllocation
	remaining := qty
	for _, p := range plan {
		if remaining == 0 {
			break
		}
		placed, err := s.allocateAt(ctx, orderID, orderLineID, sku, p.LocationID, min(p.Quantity, remaining))
		if err != nil {
			return out, err
		}
		if placed != nil {
			out = append(out, *placed)
			remaining -= placed.Quantity
		}
	}

	// The plan works from an availability snapshot, which can neither see
	// units another request grabbed since nor units a backorderable location
	// would accept beyond stock. Sweep the candidates once more for whatever
	// is still open.
	if remaining > 0 {
		ranked := rankCandidates(decision.Strategy, decision.Candidates, dest)
		for _, c := range ranked {
			if remaining == 0 {
				break
			}
			placed, err := s.allocateAt(ctx, orderID, orderLineID, sku, c.Location.ID, remaining)
			if err != nil {
				return out, err
			}
			if placed != nil {
				out = append(out, *placed)
				remaining -= placed.Quantity
			}
		}
	}

	if remaining > 0 {
		return out, &UnfulfillableError{OrderLineID: orderLineID, Remaining: remaining}
	}
	return out, nil
}

// allocateAt covers up to qty units at one location from the order's holds,
// consumes them, and records the allocation. Returns nil when the location
// had nothing left to give.
func (s *allocationService) allocateAt(ctx context.Context, orderID, orderLineID, sku string, locationID, qty int) (*StockAllocation, error) {
	covered, err := s.reservations.CoverForAllocation(ctx, orderID, sku, locationID, qty)
	if err != nil {
		return nil, err
	}
	take := min(covered, qty)
	if take <= 0 {
		return nil, nil
	}
	if err := s.reservations.ConsumeHold(ctx, orderID, sku, locationID, take, orderID); err != nil {
		return nil, err
	}

	alloc := StockAllocation{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		OrderLineID: orderLineID,
		SKU:         sku,
		LocationID:  locationID,
		Quantity:    take,
		Status:      AllocationAllocated,
		AllocatedAt: s.now(),
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO stock_allocations (id, order_id, order_line_id, sku, location_id, quantity, status, allocated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, alloc.ID, alloc.OrderID, alloc.OrderLineID, alloc.SKU, alloc.LocationID, alloc.Quantity, alloc.Status, alloc.AllocatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record allocation for line %s: %w", orderLineID, translateConflict(err))
	}
	return &alloc, nil
}

// ── lifecycle ───────────────────────────────────────────────────────────────

func (s *allocationService) MarkPicked(ctx context.Context, allocationID string) error {
	return s.transition(ctx, allocationID, AllocationPicked, "picked_at", nil)
}

func (s *allocationService) MarkPacked(ctx context.Context, allocationID string) error {
	return s.transition(ctx, allocationID, AllocationPacked, "packed_at", nil)
}

func (s *allocationService) MarkShipped(ctx context.Context, allocationID string) error {
	return s.transition(ctx, allocationID, AllocationShipped, "shipped_at", s.ledger.ShipAllocated)
}

func (s *allocationService) Cancel(ctx context.Context, allocationID string) error {
	return s.transition(ctx, allocationID, AllocationCancelled, "cancelled_at", s.ledger.CancelAllocated)
}

func (s *allocationService) MarkReturned(ctx context.Context, allocationID string) error {
	return s.transition(ctx, allocationID, AllocationReturned, "returned_at", s.ledger.ReturnStock)
}

type ledgerEffect func(ctx context.Context, q pgxQuerier, sku string, locationID, qty int, reference string) error

// transition moves an allocation to the target status, stamping the matching
// timestamp and applying the ledger effect inside the same transaction. The
// status flip is guarded on the current status so a concurrent transition
// loses cleanly with a StateConflictError instead of double-applying.
func (s *allocationService) transition(ctx context.Context, allocationID string, target AllocationStatus, stampColumn string, effect ledgerEffect) error {
	return retryOnConflict(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transition transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		alloc, err := lockAllocation(ctx, tx, allocationID)
		if err != nil {
			return err
		}
		if !CanTransition(alloc.Status, target) {
			return &StateConflictError{AllocationID: allocationID, Current: alloc.Status, Target: target}
		}

		tag, err := tx.Exec(ctx,
			"UPDATE stock_allocations SET status = $2, "+stampColumn+" = $3 WHERE id = $1 AND status = $4",
			allocationID, target, s.now(), alloc.Status)
		if err != nil {
			return fmt.Errorf("failed to transition allocation %s: %w", allocationID, translateConflict(err))
		}
		if tag.RowsAffected() == 0 {
			return &StateConflictError{AllocationID: allocationID, Current: alloc.Status, Target: target}
		}

		if effect != nil {
			if err := effect(ctx, tx, alloc.SKU, alloc.LocationID, alloc.Quantity, alloc.OrderID); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

// ── reads ───────────────────────────────────────────────────────────────────

const allocationColumns = `id, order_id, order_line_id, sku, location_id, seller_id, quantity, status,
	allocated_at, picked_at, packed_at, shipped_at, cancelled_at, returned_at`

func (s *allocationService) GetAllocation(ctx context.Context, allocationID string) (*StockAllocation, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+allocationColumns+" FROM stock_allocations WHERE id = $1", allocationID)
	alloc, err := scanAllocation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAllocationNotFound
	}
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

func (s *allocationService) ListForOrder(ctx context.Context, orderID string) ([]StockAllocation, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+allocationColumns+" FROM stock_allocations WHERE order_id = $1 ORDER BY allocated_at, id", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []StockAllocation
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *alloc)
	}
	return out, rows.Err()
}

func lockAllocation(ctx context.Context, q pgxQuerier, allocationID string) (*StockAllocation, error) {
	row := q.QueryRow(ctx,
		"SELECT "+allocationColumns+" FROM stock_allocations WHERE id = $1 FOR UPDATE", allocationID)
	alloc, err := scanAllocation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAllocationNotFound
	}
	if err != nil {
		return nil, translateConflict(err)
	}
	return alloc, nil
}

func scanAllocation(row pgx.Row) (*StockAllocation, error) {
	var a StockAllocation
	err := row.Scan(&a.ID, &a.OrderID, &a.OrderLineID, &a.SKU, &a.LocationID, &a.SellerID, &a.Quantity, &a.Status,
		&a.AllocatedAt, &a.PickedAt, &a.PackedAt, &a.ShippedAt, &a.CancelledAt, &a.ReturnedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan allocation: %w", err)
	}
	return &a, nil
}
