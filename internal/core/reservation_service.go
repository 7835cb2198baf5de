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

// HoldLine is one requested hold: the desired total quantity for
// (owner, sku, location). Holding again for the same tuple adjusts the
// existing reservation by the delta instead of stacking a second one.
type HoldLine struct {
	SKU        string
	LocationID int
	Quantity   int // desired total; 0 releases the line's hold
}

type HeldLine struct {
	ReservationID string
	SKU           string
	LocationID    int
	Quantity      int
}

// FailedLine reports why one line could not be held. Insufficient stock and
// inactive locations are normal reported outcomes, not errors.
type FailedLine struct {
	SKU        string
	LocationID int
	Requested  int
	Reason     string // "insufficient_stock" or "location_inactive"
	Available  int
}

// HoldResult reports the outcome of a HoldStock call. When Failed is
// non-empty, every change applied earlier in the same call has been
// compensated: the system never leaves partial holds behind a failed call.
type HoldResult struct {
	Held   []HeldLine
	Failed []FailedLine
}

// Ok reports whether every requested line was held.
func (r *HoldResult) Ok() bool { return len(r.Failed) == 0 }

// ReservationService manages time-boxed holds against the stock ledger while
// baskets and confirmed orders are in flight.
type ReservationService interface {
	// HoldStock applies upsert-by-delta holds for each line. On any line
	// failure the lines applied in this call are rolled back and the result
	// reports which lines failed and why.
	HoldStock(ctx context.Context, ownerID string, lines []HoldLine, ttl *time.Duration) (*HoldResult, error)

	// ReleaseAll releases every active reservation owned by the basket/order.
	ReleaseAll(ctx context.Context, ownerID string) (int, error)

	// ConfirmForOrder re-tags a basket's active holds to the order and clears
	// their TTL; an order's hold survives until allocation, not basket idle
	// timeout.
	ConfirmForOrder(ctx context.Context, basketID, orderID string) (int, error)

	// ExpireDue releases holds whose deadline has passed. Safe to run from
	// concurrent sweeper replicas: each reservation is expired exactly once.
	ExpireDue(ctx context.Context, now time.Time) (int, error)

	// ListActive returns the owner's active reservations.
	ListActive(ctx context.Context, ownerID string) ([]StockReservation, error)

	// CoverForAllocation tops an order-scoped hold up to cover qty units at
	// the location, grabbing whatever promisable stock remains if the full
	// top-up cannot be reserved. Returns the covered quantity (held before
	// plus newly reserved), which may be less than qty. Used by the
	// allocation engine when the final location differs from the
	// preliminary hold.
	CoverForAllocation(ctx context.Context, ownerID, sku string, locationID, qty int) (int, error)

	// ConsumeHold consumes qty units of the active hold while moving them
	// from reserved to allocated in the ledger. The reservation flips to
	// consumed when fully drained.
	ConsumeHold(ctx context.Context, ownerID, sku string, locationID, qty int, reference string) error
}

type reservationService struct {
	pool      *pgxpool.Pool
	ledger    *StockLedger
	directory *LocationDirectory
	now       func() time.Time
}

// NewReservationService constructs the reservation manager. The clock is
// injected so TTL arithmetic is controllable in tests.
func NewReservationService(pool *pgxpool.Pool, ledger *StockLedger, directory *LocationDirectory, clock func() time.Time) ReservationService {
	if clock == nil {
		clock = time.Now
	}
	return &reservationService{pool: pool, ledger: ledger, directory: directory, now: clock}
}

// appliedHold records one line's change so a later line failure can undo it.
type appliedHold struct {
	reservationID string
	sku           string
	locationID    int
	prevQty       int // 0 = reservation did not exist before this call
	newQty        int
}

func (s *reservationService) HoldStock(ctx context.Context, ownerID string, lines []HoldLine, ttl *time.Duration) (*HoldResult, error) {
	result := &HoldResult{}
	var applied []appliedHold

	var expiresAt *time.Time
	if ttl != nil {
		t := s.now().Add(*ttl)
		expiresAt = &t
	}

	for _, line := range lines {
		if line.Quantity < 0 {
			return nil, ErrInvalidQuantity
		}

		active, err := s.directory.IsActive(ctx, line.LocationID)
		if err != nil {
			return nil, err
		}
		if !active {
			result.Failed = append(result.Failed, FailedLine{
				SKU: line.SKU, LocationID: line.LocationID,
				Requested: line.Quantity, Reason: "location_inactive",
			})
			continue
		}

		change, failed, err := s.applyHoldLine(ctx, ownerID, line, expiresAt)
		if err != nil {
			if rbErr := s.rollbackApplied(ctx, ownerID, applied); rbErr != nil {
				return nil, fmt.Errorf("hold failed (%w) and rollback also failed: %v", err, rbErr)
			}
			return nil, err
		}
		if failed != nil {
			result.Failed = append(result.Failed, *failed)
			continue
		}
		if change != nil {
			applied = append(applied, *change)
			if change.newQty > 0 {
				result.Held = append(result.Held, HeldLine{
					ReservationID: change.reservationID,
					SKU:           line.SKU,
					LocationID:    line.LocationID,
					Quantity:      change.newQty,
				})
			}
		}
	}

	// Partial failure: compensate everything this call changed so no holds
	// survive a failed multi-line request.
	if len(result.Failed) > 0 && len(applied) > 0 {
		if err := s.rollbackApplied(ctx, ownerID, applied); err != nil {
			return nil, fmt.Errorf("failed to compensate partial hold for %s: %w", ownerID, err)
		}
		result.Held = nil
	}
	return result, nil
}

// applyHoldLine adjusts a single line's hold inside one short transaction.
// The reservation row and its ledger counters move together or not at all.
func (s *reservationService) applyHoldLine(ctx context.Context, ownerID string, line HoldLine, expiresAt *time.Time) (*appliedHold, *FailedLine, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin hold transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var resID string
	var prevQty int
	err = tx.QueryRow(ctx, `
		SELECT id, quantity FROM stock_reservations
		WHERE owner_id = $1 AND sku = $2 AND location_id = $3 AND status = 'active'
		FOR UPDATE
	`, ownerID, line.SKU, line.LocationID).Scan(&resID, &prevQty)
	exists := true
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to look up reservation for %s: %w", ownerID, translateConflict(err))
	}

	delta := line.Quantity - prevQty
	if delta == 0 && exists {
		// Same quantity re-requested: refresh the TTL, nothing else moves.
		if _, err := tx.Exec(ctx,
			"UPDATE stock_reservations SET expires_at = $2 WHERE id = $1", resID, expiresAt,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to refresh reservation TTL: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to commit hold: %w", err)
		}
		return &appliedHold{reservationID: resID, sku: line.SKU, locationID: line.LocationID, prevQty: prevQty, newQty: prevQty}, nil, nil
	}

	if delta > 0 {
		if err := s.ledger.Reserve(ctx, tx, line.SKU, line.LocationID, delta, ownerID); err != nil {
			var insufficient *InsufficientStockError
			if errors.As(err, &insufficient) {
				return nil, &FailedLine{
					SKU: line.SKU, LocationID: line.LocationID,
					Requested: line.Quantity, Reason: "insufficient_stock",
					Available: insufficient.Available,
				}, nil
			}
			return nil, nil, err
		}
	} else if delta < 0 {
		if err := s.ledger.Release(ctx, tx, line.SKU, line.LocationID, -delta, ownerID); err != nil {
			return nil, nil, err
		}
	}

	switch {
	case line.Quantity == 0 && exists:
		if _, err := tx.Exec(ctx,
			"UPDATE stock_reservations SET status = 'released' WHERE id = $1", resID,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to release zeroed reservation: %w", err)
		}
	case exists:
		if _, err := tx.Exec(ctx,
			"UPDATE stock_reservations SET quantity = $2, expires_at = $3 WHERE id = $1",
			resID, line.Quantity, expiresAt,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to adjust reservation quantity: %w", err)
		}
	case line.Quantity > 0:
		resID = uuid.NewString()
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_reservations (id, owner_id, sku, location_id, quantity, status, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, 'active', $6, $7)
		`, resID, ownerID, line.SKU, line.LocationID, line.Quantity, s.now(), expiresAt); err != nil {
			return nil, nil, fmt.Errorf("failed to create reservation: %w", translateConflict(err))
		}
	default:
		// Releasing a line that was never held: nothing to do.
		return nil, nil, tx.Commit(ctx)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit hold: %w", err)
	}
	return &appliedHold{reservationID: resID, sku: line.SKU, locationID: line.LocationID, prevQty: prevQty, newQty: line.Quantity}, nil, nil
}

// rollbackApplied restores the holds changed earlier in a failed HoldStock
// call. This is explicit compensation, not a database transaction: lines may
// live on different rows (or shards), so each is undone independently.
func (s *reservationService) rollbackApplied(ctx context.Context, ownerID string, applied []appliedHold) error {
	var firstErr error
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		err := func() error {
			tx, err := s.pool.Begin(ctx)
			if err != nil {
				return err
			}
			defer tx.Rollback(ctx)

			delta := a.newQty - a.prevQty
			if delta > 0 {
				if err := s.ledger.Release(ctx, tx, a.sku, a.locationID, delta, ownerID); err != nil {
					return err
				}
			} else if delta < 0 {
				if err := s.ledger.Reserve(ctx, tx, a.sku, a.locationID, -delta, ownerID); err != nil {
					return err
				}
			}

			if a.prevQty == 0 {
				_, err = tx.Exec(ctx,
					"UPDATE stock_reservations SET status = 'released' WHERE id = $1 AND status = 'active'", a.reservationID)
			} else {
				_, err = tx.Exec(ctx,
					"UPDATE stock_reservations SET quantity = $2, status = 'active' WHERE id = $1", a.reservationID, a.prevQty)
			}
			if err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *reservationService) ReleaseAll(ctx context.Context, ownerID string) (int, error) {
	reservations, err := s.ListActive(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, r := range reservations {
		err := retryOnConflict(ctx, func() error {
			return s.releaseOne(ctx, r)
		})
		if err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// releaseOne flips one reservation to released and gives its stock back. The
// guarded status flip makes double release a no-op.
func (s *reservationService) releaseOne(ctx context.Context, r StockReservation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE stock_reservations SET status = 'released' WHERE id = $1 AND status = 'active'", r.ID)
	if err != nil {
		return fmt.Errorf("failed to release reservation %s: %w", r.ID, translateConflict(err))
	}
	if tag.RowsAffected() == 0 {
		return nil // already released/expired/consumed elsewhere
	}
	if err := s.ledger.Release(ctx, tx, r.SKU, r.LocationID, r.Quantity, r.OwnerID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *reservationService) ConfirmForOrder(ctx context.Context, basketID, orderID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stock_reservations
		SET owner_id = $2, expires_at = NULL
		WHERE owner_id = $1 AND status = 'active'
	`, basketID, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to confirm reservations of %s for order %s: %w", basketID, orderID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *reservationService) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, sku, location_id, quantity
		FROM stock_reservations
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to find due reservations: %w", err)
	}
	var due []StockReservation
	for rows.Next() {
		var r StockReservation
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.SKU, &r.LocationID, &r.Quantity); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan due reservation: %w", err)
		}
		due = append(due, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating due reservations: %w", err)
	}

	expired := 0
	for _, r := range due {
		flipped, err := s.expireOne(ctx, r)
		if err != nil {
			return expired, err
		}
		if flipped {
			expired++
		}
	}
	return expired, nil
}

// expireOne flips a single overdue reservation. Only the caller whose guarded
// UPDATE wins releases the stock; a concurrent sweeper's attempt affects zero
// rows and gives nothing back twice.
func (s *reservationService) expireOne(ctx context.Context, r StockReservation) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin expiry transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE stock_reservations SET status = 'expired' WHERE id = $1 AND status = 'active'", r.ID)
	if err != nil {
		return false, fmt.Errorf("failed to expire reservation %s: %w", r.ID, translateConflict(err))
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := s.ledger.Release(ctx, tx, r.SKU, r.LocationID, r.Quantity, r.OwnerID); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit expiry: %w", err)
	}
	return true, nil
}

func (s *reservationService) ListActive(ctx context.Context, ownerID string) ([]StockReservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, sku, location_id, quantity, status, created_at, expires_at
		FROM stock_reservations
		WHERE owner_id = $1 AND status = 'active'
		ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var out []StockReservation
	for rows.Next() {
		var r StockReservation
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.SKU, &r.LocationID, &r.Quantity, &r.Status, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *reservationService) CoverForAllocation(ctx context.Context, ownerID, sku string, locationID, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}

	var covered int
	err := retryOnConflict(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin cover transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		var resID string
		var held int
		err = tx.QueryRow(ctx, `
			SELECT id, quantity FROM stock_reservations
			WHERE owner_id = $1 AND sku = $2 AND location_id = $3 AND status = 'active'
			FOR UPDATE
		`, ownerID, sku, locationID).Scan(&resID, &held)
		exists := true
		if errors.Is(err, pgx.ErrNoRows) {
			exists = false
			held = 0
		} else if err != nil {
			return fmt.Errorf("failed to look up hold for %s: %w", ownerID, translateConflict(err))
		}

		covered = held
		if held >= qty {
			return tx.Commit(ctx)
		}

		topUp := qty - held
		grabbed := topUp
		if err := s.ledger.Reserve(ctx, tx, sku, locationID, topUp, ownerID); err != nil {
			var insufficient *InsufficientStockError
			if !errors.As(err, &insufficient) {
				return err
			}
			// Grab whatever promisable stock remains; the shortfall is the
			// allocation engine's problem to report.
			grabbed = insufficient.Available
			if grabbed <= 0 {
				return tx.Commit(ctx)
			}
			if err := s.ledger.Reserve(ctx, tx, sku, locationID, grabbed, ownerID); err != nil {
				return err
			}
		}

		covered = held + grabbed
		if exists {
			if _, err := tx.Exec(ctx,
				"UPDATE stock_reservations SET quantity = quantity + $2 WHERE id = $1", resID, grabbed,
			); err != nil {
				return fmt.Errorf("failed to top up hold: %w", err)
			}
		} else {
			if _, err := tx.Exec(ctx, `
				INSERT INTO stock_reservations (id, owner_id, sku, location_id, quantity, status, created_at, expires_at)
				VALUES ($1, $2, $3, $4, $5, 'active', $6, NULL)
			`, uuid.NewString(), ownerID, sku, locationID, grabbed, s.now()); err != nil {
				return fmt.Errorf("failed to create order-scoped hold: %w", translateConflict(err))
			}
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}
	return covered, nil
}

func (s *reservationService) ConsumeHold(ctx context.Context, ownerID, sku string, locationID, qty int, reference string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return retryOnConflict(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin consume transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		var resID string
		var held int
		err = tx.QueryRow(ctx, `
			SELECT id, quantity FROM stock_reservations
			WHERE owner_id = $1 AND sku = $2 AND location_id = $3 AND status = 'active'
			FOR UPDATE
		`, ownerID, sku, locationID).Scan(&resID, &held)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReservationNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock hold for %s: %w", ownerID, translateConflict(err))
		}
		if held < qty {
			return ErrReservationNotFound
		}

		if held == qty {
			_, err = tx.Exec(ctx,
				"UPDATE stock_reservations SET quantity = 0, status = 'consumed' WHERE id = $1", resID)
		} else {
			_, err = tx.Exec(ctx,
				"UPDATE stock_reservations SET quantity = quantity - $2 WHERE id = $1", resID, qty)
		}
		if err != nil {
			return fmt.Errorf("failed to consume hold %s: %w", resID, err)
		}

		if err := s.ledger.Allocate(ctx, tx, sku, locationID, qty, reference); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}
