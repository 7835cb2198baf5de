package core_test

import (
	"context"
	"testing"
	"time"

	"fulfillment-engine/internal/core"
)

func newReservationFixture(t *testing.T) (core.ReservationService, *core.StockLedger, func() time.Time) {
	pool := setupTestDB(t)
	t.Cleanup(pool.Close)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	ledger := core.NewStockLedger(pool)
	directory := core.NewLocationDirectory(pool, time.Minute)
	svc := core.NewReservationService(pool, ledger, directory, clock)
	return svc, ledger, clock
}

func TestReservationService_HoldAdjustsByDelta(t *testing.T) {
	svc, ledger, _ := newReservationFixture(t)
	ctx := context.Background()
	ttl := 15 * time.Minute

	result, err := svc.HoldStock(ctx, "basket-1", []core.HoldLine{
		{SKU: "SKU-1", LocationID: 1, Quantity: 5},
	}, &ttl)
	if err != nil {
		t.Fatalf("HoldStock: %v", err)
	}
	if !result.Ok() || result.Held[0].Quantity != 5 {
		t.Fatalf("first hold = %+v, want 5 units held", result)
	}
	firstID := result.Held[0].ReservationID

	// Holding again with a higher total adjusts the same reservation.
	result, err = svc.HoldStock(ctx, "basket-1", []core.HoldLine{
		{SKU: "SKU-1", LocationID: 1, Quantity: 8},
	}, &ttl)
	if err != nil {
		t.Fatalf("second HoldStock: %v", err)
	}
	if result.Held[0].ReservationID != firstID {
		t.Errorf("second hold created a new reservation; want the same one adjusted")
	}
	if result.Held[0].Quantity != 8 {
		t.Errorf("held = %d, want 8", result.Held[0].Quantity)
	}

	level, _ := ledger.GetLevel(ctx, "SKU-1", 1)
	if level.Reserved != 8 {
		t.Errorf("ledger reserved = %d, want 8; deltas must not stack", level.Reserved)
	}

	// Lowering the desired total releases the difference.
	if _, err := svc.HoldStock(ctx, "basket-1", []core.HoldLine{
		{SKU: "SKU-1", LocationID: 1, Quantity: 3},
	}, &ttl); err != nil {
		t.Fatalf("third HoldStock: %v", err)
	}
	level, _ = ledger.GetLevel(ctx, "SKU-1", 1)
	if level.Reserved != 3 {
		t.Errorf("ledger reserved = %d, want 3", level.Reserved)
	}
}

func TestReservationService_PartialFailureRollsBack(t *testing.T) {
	svc, ledger, _ := newReservationFixture(t)
	ctx := context.Background()
	ttl := 15 * time.Minute

	// Line 1 fits, line 2 asks for more than location 2 has (5 on hand).
	result, err := svc.HoldStock(ctx, "basket-1", []core.HoldLine{
		{SKU: "SKU-1", LocationID: 1, Quantity: 4},
		{SKU: "SKU-1", LocationID: 2, Quantity: 50},
	}, &ttl)
	if err != nil {
		t.Fatalf("HoldStock: %v", err)
	}
	if result.Ok() {
		t.Fatal("expected a failed line")
	}
	if len(result.Failed) != 1 || result.Failed[0].Reason != "insufficient_stock" {
		t.Fatalf("failed = %+v, want one insufficient_stock line", result.Failed)
	}

	// The successful first line must have been compensated.
	level, _ := ledger.GetLevel(ctx, "SKU-1", 1)
	if level.Reserved != 0 {
		t.Errorf("reserved at location 1 = %d, want 0 after rollback", level.Reserved)
	}
	active, err := svc.ListActive(ctx, "basket-1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active holds = %d, want 0", len(active))
	}
}

func TestReservationService_InactiveLocationFailsLine(t *testing.T) {
	svc, _, _ := newReservationFixture(t)
	ctx := context.Background()
	ttl := 15 * time.Minute

	result, err := svc.HoldStock(ctx, "basket-1", []core.HoldLine{
		{SKU: "SKU-1", LocationID: 3, Quantity: 1},
	}, &ttl)
	if err != nil {
		t.Fatalf("HoldStock: %v", err)
	}
	if result.Ok() || result.Failed[0].Reason != "location_inactive" {
		t.Errorf("result = %+v, want location_inactive failure", result)
	}
}

func TestReservationService_ConfirmClearsTTL(t *testing.T) {
	svc, _, _ := newReservationFixture(t)
	ctx := context.Background()
	ttl := time.Minute

	if _, err := svc.HoldStock(ctx, "basket-1", []core.HoldLine{
		{SKU: "SKU-1", LocationID: 1, Quantity: 5},
	}, &ttl); err != nil {
		t.Fatalf("HoldStock: %v", err)
	}

	count, err := svc.ConfirmForOrder(ctx, "basket-1", "order-9")
	if err != nil {
		t.Fatalf("ConfirmForOrder: %v", err)
	}
	if count != 1 {
		t.Fatalf("confirmed = %d, want 1", count)
	}

	holds, err := svc.ListActive(ctx, "order-9")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(holds) != 1 {
		t.Fatalf("order holds = %d, want 1", len(holds))
	}
	if holds[0].ExpiresAt != nil {
		t.Errorf("confirmed hold still has expiry %v; order holds must not idle out", holds[0].ExpiresAt)
	}
	if basket, _ := svc.ListActive(ctx, "basket-1"); len(basket) != 0 {
		t.Errorf("basket still owns %d holds after confirm", len(basket))
	}

	// A sweep far in the future must leave the confirmed hold alone.
	expired, err := svc.ExpireDue(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if expired != 0 {
		t.Errorf("expired = %d, want 0", expired)
	}
}

func TestReservationService_ExpireDueExactlyOnce(t *testing.T) {
	svc, ledger, clock := newReservationFixture(t)
	ctx := context.Background()
	ttl := time.Minute

	if _, err := svc.HoldStock(ctx, "basket-1", []core.HoldLine{
		{SKU: "SKU-1", LocationID: 1, Quantity: 6},
	}, &ttl); err != nil {
		t.Fatalf("HoldStock: %v", err)
	}

	due := clock().Add(2 * time.Minute)
	expired, err := svc.ExpireDue(ctx, due)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	// A second sweep over the same deadline must be a no-op: the guarded
	// status flip already claimed the reservation.
	expired, err = svc.ExpireDue(ctx, due)
	if err != nil {
		t.Fatalf("second ExpireDue: %v", err)
	}
	if expired != 0 {
		t.Errorf("second sweep expired = %d, want 0", expired)
	}

	level, _ := ledger.GetLevel(ctx, "SKU-1", 1)
	if level.Reserved != 0 {
		t.Errorf("reserved = %d, want 0; expiry must release exactly the held units once", level.Reserved)
	}
}

func TestReservationService_ReleaseAll(t *testing.T) {
	svc, ledger, _ := newReservationFixture(t)
	ctx := context.Background()
	ttl := 15 * time.Minute

	if _, err := svc.HoldStock(ctx, "basket-1", []core.HoldLine{
		{SKU: "SKU-1", LocationID: 1, Quantity: 4},
		{SKU: "SKU-1", LocationID: 2, Quantity: 2},
	}, &ttl); err != nil {
		t.Fatalf("HoldStock: %v", err)
	}

	count, err := svc.ReleaseAll(ctx, "basket-1")
	if err != nil {
		t.Fatalf("ReleaseAll: %v", err)
	}
	if count != 2 {
		t.Errorf("released = %d, want 2", count)
	}
	for _, loc := range []int{1, 2} {
		level, _ := ledger.GetLevel(ctx, "SKU-1", loc)
		if level.Reserved != 0 {
			t.Errorf("reserved at location %d = %d, want 0", loc, level.Reserved)
		}
	}

	// Releasing again is a harmless no-op.
	count, err = svc.ReleaseAll(ctx, "basket-1")
	if err != nil || count != 0 {
		t.Errorf("second ReleaseAll = (%d, %v), want (0, nil)", count, err)
	}
}
