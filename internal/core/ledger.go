package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so ledger
// operations can run standalone or inside a caller-provided transaction.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Movement types recorded in the stock_movements journal.
const (
	movementReceipt  = "RECEIPT"
	movementInbound  = "INBOUND"
	movementReserve  = "RESERVE"
	movementRelease  = "RELEASE"
	movementAllocate = "ALLOCATE"
	movementShipment = "SHIPMENT"
	movementCancel   = "CANCEL"
	movementReturn   = "RETURN"
)

// maxConflictRetries bounds internal retries on serialization/deadlock
// failures before ErrConcurrencyConflict is surfaced to the caller.
const maxConflictRetries = 3

// StockLedger is the single point of truth for per-(sku, location) counters.
// Every mutation is one guarded single-row UPDATE that bumps the version
// column and appends a stock_movements row. No operation ever drives a
// counter negative.
type StockLedger struct {
	pool *pgxpool.Pool
}

func NewStockLedger(pool *pgxpool.Pool) *StockLedger {
	return &StockLedger{pool: pool}
}

// Pool exposes the underlying pool for services that open their own
// transactions around ledger calls.
func (l *StockLedger) Pool() *pgxpool.Pool { return l.pool }

// Reserve increments the reserved counter iff promisable stock covers qty or
// the level is backorderable. Returns *InsufficientStockError as the normal
// out-of-stock outcome.
func (l *StockLedger) Reserve(ctx context.Context, q pgxQuerier, sku string, locationID, qty int, reference string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := q.Exec(ctx, `
		UPDATE inventory_levels
		SET reserved = reserved + $3, version = version + 1, updated_at = NOW()
		WHERE sku = $1 AND location_id = $2
		  AND (backorderable OR on_hand - reserved - allocated - safety_stock >= $3)
	`, sku, locationID, qty)
	if err != nil {
		return fmt.Errorf("failed to reserve %d of %s at location %d: %w", qty, sku, locationID, translateConflict(err))
	}
	if tag.RowsAffected() == 0 {
		level, lookupErr := l.level(ctx, q, sku, locationID)
		if lookupErr != nil {
			return lookupErr
		}
		return &InsufficientStockError{SKU: sku, LocationID: locationID, Requested: qty, Available: level.Promisable()}
	}
	return l.recordMovement(ctx, q, sku, locationID, movementReserve, qty, reference)
}

// Release gives reserved stock back, clamped at zero. Idempotence against
// double release is the caller's job (reservation status tracking).
func (l *StockLedger) Release(ctx context.Context, q pgxQuerier, sku string, locationID, qty int, reference string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := q.Exec(ctx, `
		UPDATE inventory_levels
		SET reserved = GREATEST(reserved - $3, 0), version = version + 1, updated_at = NOW()
		WHERE sku = $1 AND location_id = $2
	`, sku, locationID, qty)
	if err != nil {
		return fmt.Errorf("failed to release %d of %s at location %d: %w", qty, sku, locationID, translateConflict(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrLevelNotFound
	}
	return l.recordMovement(ctx, q, sku, locationID, movementRelease, -qty, reference)
}

// Allocate moves qty from reserved to allocated. A shortfall here is an
// invariant breach (allocating without a covering reservation), not a normal
// business outcome.
func (l *StockLedger) Allocate(ctx context.Context, q pgxQuerier, sku string, locationID, qty int, reference string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := q.Exec(ctx, `
		UPDATE inventory_levels
		SET reserved = reserved - $3, allocated = allocated + $3, version = version + 1, updated_at = NOW()
		WHERE sku = $1 AND location_id = $2 AND reserved >= $3
	`, sku, locationID, qty)
	if err != nil {
		return fmt.Errorf("failed to allocate %d of %s at location %d: %w", qty, sku, locationID, translateConflict(err))
	}
	if tag.RowsAffected() == 0 {
		if _, lookupErr := l.level(ctx, q, sku, locationID); lookupErr != nil {
			return lookupErr
		}
		return ErrReservedUnderflow
	}
	return l.recordMovement(ctx, q, sku, locationID, movementAllocate, qty, reference)
}

// ShipAllocated decrements both allocated and on_hand. This is the only
// operation that reduces physical stock; it runs when units leave the
// building, not when they were allocated.
func (l *StockLedger) ShipAllocated(ctx context.Context, q pgxQuerier, sku string, locationID, qty int, reference string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := q.Exec(ctx, `
		UPDATE inventory_levels
		SET allocated = allocated - $3, on_hand = on_hand - $3, version = version + 1, updated_at = NOW()
		WHERE sku = $1 AND location_id = $2 AND allocated >= $3 AND on_hand >= $3
	`, sku, locationID, qty)
	if err != nil {
		return fmt.Errorf("failed to ship %d of %s from location %d: %w", qty, sku, locationID, translateConflict(err))
	}
	if tag.RowsAffected() == 0 {
		if _, lookupErr := l.level(ctx, q, sku, locationID); lookupErr != nil {
			return lookupErr
		}
		return ErrAllocatedUnderflow
	}
	return l.recordMovement(ctx, q, sku, locationID, movementShipment, -qty, reference)
}

// CancelAllocated returns allocated units to available (allocation cancelled
// before shipment).
func (l *StockLedger) CancelAllocated(ctx context.Context, q pgxQuerier, sku string, locationID, qty int, reference string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := q.Exec(ctx, `
		UPDATE inventory_levels
		SET allocated = allocated - $3, version = version + 1, updated_at = NOW()
		WHERE sku = $1 AND location_id = $2 AND allocated >= $3
	`, sku, locationID, qty)
	if err != nil {
		return fmt.Errorf("failed to cancel allocation of %d of %s at location %d: %w", qty, sku, locationID, translateConflict(err))
	}
	if tag.RowsAffected() == 0 {
		if _, lookupErr := l.level(ctx, q, sku, locationID); lookupErr != nil {
			return lookupErr
		}
		return ErrAllocatedUnderflow
	}
	return l.recordMovement(ctx, q, sku, locationID, movementCancel, qty, reference)
}

// ReturnStock puts physically returned units back on hand after a shipped
// allocation is returned.
func (l *StockLedger) ReturnStock(ctx context.Context, q pgxQuerier, sku string, locationID, qty int, reference string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := q.Exec(ctx, `
		UPDATE inventory_levels
		SET on_hand = on_hand + $3, version = version + 1, updated_at = NOW()
		WHERE sku = $1 AND location_id = $2
	`, sku, locationID, qty)
	if err != nil {
		return fmt.Errorf("failed to return %d of %s to location %d: %w", qty, sku, locationID, translateConflict(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrLevelNotFound
	}
	return l.recordMovement(ctx, q, sku, locationID, movementReturn, qty, reference)
}

// ReceiveStock records a goods receipt, creating the level lazily on first
// receipt and draining any expected inbound quantity (clamped at zero).
func (l *StockLedger) ReceiveStock(ctx context.Context, q pgxQuerier, sku string, locationID, qty int, reference string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := q.Exec(ctx, `
		INSERT INTO inventory_levels (sku, location_id, on_hand)
		VALUES ($1, $2, $3)
		ON CONFLICT (sku, location_id) DO UPDATE
		SET on_hand = inventory_levels.on_hand + $3,
		    inbound = GREATEST(inventory_levels.inbound - $3, 0),
		    version = inventory_levels.version + 1,
		    updated_at = NOW()
	`, sku, locationID, qty)
	if err != nil {
		return fmt.Errorf("failed to receive %d of %s at location %d: %w", qty, sku, locationID, translateConflict(err))
	}
	return l.recordMovement(ctx, q, sku, locationID, movementReceipt, qty, reference)
}

// RecordInbound registers stock expected from a supplier (purchase order in
// transit). It does not affect availability.
func (l *StockLedger) RecordInbound(ctx context.Context, q pgxQuerier, sku string, locationID, qty int, reference string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := q.Exec(ctx, `
		INSERT INTO inventory_levels (sku, location_id, inbound)
		VALUES ($1, $2, $3)
		ON CONFLICT (sku, location_id) DO UPDATE
		SET inbound = inventory_levels.inbound + $3,
		    version = inventory_levels.version + 1,
		    updated_at = NOW()
	`, sku, locationID, qty)
	if err != nil {
		return fmt.Errorf("failed to record inbound of %d of %s at location %d: %w", qty, sku, locationID, translateConflict(err))
	}
	return l.recordMovement(ctx, q, sku, locationID, movementInbound, qty, reference)
}

// GetLevel fetches the full counter row for one (sku, location).
func (l *StockLedger) GetLevel(ctx context.Context, sku string, locationID int) (*InventoryLevel, error) {
	return l.level(ctx, l.pool, sku, locationID)
}

// Availability returns on_hand - reserved - allocated for one location.
func (l *StockLedger) Availability(ctx context.Context, sku string, locationID int) (int, error) {
	level, err := l.level(ctx, l.pool, sku, locationID)
	if err != nil {
		return 0, err
	}
	return level.Available(), nil
}

// PoolAvailability sums availability across a pool's active member locations.
func (l *StockLedger) PoolAvailability(ctx context.Context, sku string, poolID int) (int, error) {
	var exists bool
	if err := l.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM inventory_pools WHERE id = $1)", poolID,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("failed to look up pool %d: %w", poolID, err)
	}
	if !exists {
		return 0, ErrPoolNotFound
	}

	var total int
	err := l.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(il.on_hand - il.reserved - il.allocated), 0)
		FROM inventory_levels il
		JOIN pool_locations pl ON pl.location_id = il.location_id
		JOIN fulfillment_locations fl ON fl.id = il.location_id
		WHERE pl.pool_id = $1 AND il.sku = $2 AND fl.is_active = true
	`, poolID, sku).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum pool availability for %s in pool %d: %w", sku, poolID, err)
	}
	return total, nil
}

// AvailabilityByLocation returns an availability snapshot for one sku across
// the given locations. Missing levels report zero. Snapshot reads only: the
// guarded updates re-validate at commit time.
func (l *StockLedger) AvailabilityByLocation(ctx context.Context, sku string, locationIDs []int) (map[int]int, error) {
	out := make(map[int]int, len(locationIDs))
	for _, id := range locationIDs {
		out[id] = 0
	}
	rows, err := l.pool.Query(ctx, `
		SELECT location_id, on_hand - reserved - allocated
		FROM inventory_levels
		WHERE sku = $1 AND location_id = ANY($2)
	`, sku, locationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot availability for %s: %w", sku, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, avail int
		if err := rows.Scan(&id, &avail); err != nil {
			return nil, fmt.Errorf("failed to scan availability row: %w", err)
		}
		out[id] = avail
	}
	return out, rows.Err()
}

func (l *StockLedger) level(ctx context.Context, q pgxQuerier, sku string, locationID int) (*InventoryLevel, error) {
	var lv InventoryLevel
	err := q.QueryRow(ctx, `
		SELECT id, sku, location_id, on_hand, reserved, allocated,
		       safety_stock, inbound, min_stock, backorderable, version, updated_at
		FROM inventory_levels
		WHERE sku = $1 AND location_id = $2
	`, sku, locationID).Scan(
		&lv.ID, &lv.SKU, &lv.LocationID, &lv.OnHand, &lv.Reserved, &lv.Allocated,
		&lv.SafetyStock, &lv.Inbound, &lv.MinStock, &lv.Backorderable, &lv.Version, &lv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLevelNotFound
		}
		return nil, fmt.Errorf("failed to fetch inventory level for %s at location %d: %w", sku, locationID, err)
	}
	return &lv, nil
}

func (l *StockLedger) recordMovement(ctx context.Context, q pgxQuerier, sku string, locationID int, movementType string, qty int, reference string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO stock_movements (sku, location_id, movement_type, quantity, reference)
		VALUES ($1, $2, $3, $4, $5)
	`, sku, locationID, movementType, qty, reference)
	if err != nil {
		return fmt.Errorf("failed to record %s movement for %s at location %d: %w", movementType, sku, locationID, err)
	}
	return nil
}

// translateConflict maps serialization and deadlock failures onto the typed
// conflict error so callers can distinguish transient contention.
func translateConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return ErrConcurrencyConflict
	}
	return err
}

// retryOnConflict runs fn up to maxConflictRetries times, backing off briefly
// between attempts, and retries only ErrConcurrencyConflict. All other errors
// propagate to the immediate caller untouched.
func retryOnConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = fn(); !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return err
}
