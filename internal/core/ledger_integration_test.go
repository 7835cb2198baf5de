package core_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"fulfillment-engine/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Clean and seed test DB
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE stock_movements, stock_allocations, stock_reservations,
			inventory_levels, pool_locations, inventory_pools,
			distribution_rules, fulfillment_locations
			RESTART IDENTITY CASCADE;

		INSERT INTO fulfillment_locations (id, code, name, location_type, latitude, longitude, can_ship, priority, is_active) VALUES
		(1, 'WH-BER', 'Berlin DC', 'warehouse', 52.52, 13.405, true, 100, true),
		(2, 'WH-MUC', 'Munich DC', 'warehouse', 48.137, 11.575, true, 50, true),
		(3, 'ST-HAM', 'Hamburg Store', 'store', 53.551, 9.993, true, 10, false);
		SELECT setval('fulfillment_locations_id_seq', 3);

		INSERT INTO inventory_levels (sku, location_id, on_hand, reserved, allocated, safety_stock, backorderable) VALUES
		('SKU-1', 1, 20, 0, 0, 2, false),
		('SKU-1', 2, 5, 0, 0, 0, false),
		('SKU-2', 1, 0, 0, 0, 0, true);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

func TestStockLedger_ReserveRespectsSafetyStock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewStockLedger(pool)
	ctx := context.Background()

	// 20 on hand minus 2 safety stock = 18 promisable.
	if err := ledger.Reserve(ctx, pool, "SKU-1", 1, 18, "basket-1"); err != nil {
		t.Fatalf("Reserve within promisable: %v", err)
	}

	err := ledger.Reserve(ctx, pool, "SKU-1", 1, 1, "basket-2")
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if insufficient.Available != 0 {
		t.Errorf("Available = %d, want 0", insufficient.Available)
	}

	level, err := ledger.GetLevel(ctx, "SKU-1", 1)
	if err != nil {
		t.Fatalf("GetLevel: %v", err)
	}
	if level.Reserved != 18 || level.OnHand != 20 {
		t.Errorf("level = on_hand %d reserved %d, want 20/18; a failed reserve must not mutate the row", level.OnHand, level.Reserved)
	}
}

func TestStockLedger_BackorderableIgnoresStock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewStockLedger(pool)
	ctx := context.Background()

	// SKU-2 has zero on hand but is backorderable.
	if err := ledger.Reserve(ctx, pool, "SKU-2", 1, 7, "basket-1"); err != nil {
		t.Fatalf("Reserve on backorderable level: %v", err)
	}
	level, _ := ledger.GetLevel(ctx, "SKU-2", 1)
	if level.Reserved != 7 {
		t.Errorf("reserved = %d, want 7", level.Reserved)
	}
}

func TestStockLedger_FullMovementSequence(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewStockLedger(pool)
	ctx := context.Background()

	if err := ledger.Reserve(ctx, pool, "SKU-1", 1, 5, "order-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := ledger.Allocate(ctx, pool, "SKU-1", 1, 5, "order-1"); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := ledger.ShipAllocated(ctx, pool, "SKU-1", 1, 5, "order-1"); err != nil {
		t.Fatalf("ShipAllocated: %v", err)
	}

	level, err := ledger.GetLevel(ctx, "SKU-1", 1)
	if err != nil {
		t.Fatalf("GetLevel: %v", err)
	}
	if level.OnHand != 15 || level.Reserved != 0 || level.Allocated != 0 {
		t.Errorf("after ship: on_hand %d reserved %d allocated %d, want 15/0/0",
			level.OnHand, level.Reserved, level.Allocated)
	}

	// The movement journal must show the whole story.
	var count int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM stock_movements WHERE sku = 'SKU-1' AND location_id = 1 AND reference = 'order-1'",
	).Scan(&count); err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if count != 3 {
		t.Errorf("movement count = %d, want 3 (reserve, allocate, shipment)", count)
	}
}

func TestStockLedger_AllocateBeyondReservedFails(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewStockLedger(pool)
	ctx := context.Background()

	if err := ledger.Reserve(ctx, pool, "SKU-1", 1, 3, "order-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := ledger.Allocate(ctx, pool, "SKU-1", 1, 4, "order-1"); !errors.Is(err, core.ErrReservedUnderflow) {
		t.Errorf("err = %v, want ErrReservedUnderflow", err)
	}
}

func TestStockLedger_CancelAndReturnRestoreStock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewStockLedger(pool)
	ctx := context.Background()

	mustDo := func(name string, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	mustDo("Reserve", ledger.Reserve(ctx, pool, "SKU-1", 1, 6, "order-1"))
	mustDo("Allocate", ledger.Allocate(ctx, pool, "SKU-1", 1, 6, "order-1"))

	// Cancel 2 of the allocated units: they go straight back to available.
	mustDo("CancelAllocated", ledger.CancelAllocated(ctx, pool, "SKU-1", 1, 2, "order-1"))
	level, _ := ledger.GetLevel(ctx, "SKU-1", 1)
	if level.OnHand != 20 || level.Allocated != 4 {
		t.Fatalf("after cancel: on_hand %d allocated %d, want 20/4", level.OnHand, level.Allocated)
	}

	// Ship the rest, then return it.
	mustDo("ShipAllocated", ledger.ShipAllocated(ctx, pool, "SKU-1", 1, 4, "order-1"))
	mustDo("ReturnStock", ledger.ReturnStock(ctx, pool, "SKU-1", 1, 4, "order-1"))
	level, _ = ledger.GetLevel(ctx, "SKU-1", 1)
	if level.OnHand != 20 || level.Allocated != 0 {
		t.Errorf("after return: on_hand %d allocated %d, want 20/0", level.OnHand, level.Allocated)
	}
}

func TestStockLedger_ReceiveCreatesLevelAndDrainsInbound(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ledger := core.NewStockLedger(pool)
	ctx := context.Background()

	if err := ledger.RecordInbound(ctx, pool, "SKU-3", 2, 10, "PO-77"); err != nil {
		t.Fatalf("RecordInbound: %v", err)
	}
	if err := ledger.ReceiveStock(ctx, pool, "SKU-3", 2, 10, "PO-77"); err != nil {
		t.Fatalf("ReceiveStock: %v", err)
	}

	level, err := ledger.GetLevel(ctx, "SKU-3", 2)
	if err != nil {
		t.Fatalf("GetLevel: %v", err)
	}
	if level.OnHand != 10 || level.Inbound != 0 {
		t.Errorf("level = on_hand %d inbound %d, want 10/0", level.OnHand, level.Inbound)
	}
}

func TestStockLedger_PoolAvailability(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	_, err := pool.Exec(ctx, `
		INSERT INTO inventory_pools (id, code, name, strategy, is_active) VALUES (1, 'DE', 'Germany', 'fifo', true);
		SELECT setval('inventory_pools_id_seq', 1);
		INSERT INTO pool_locations (pool_id, location_id, position) VALUES (1, 1, 1), (1, 2, 2), (1, 3, 3);
	`)
	if err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	ledger := core.NewStockLedger(pool)
	// Location 1: 20, location 2: 5; location 3 is inactive and excluded.
	available, err := ledger.PoolAvailability(ctx, "SKU-1", 1)
	if err != nil {
		t.Fatalf("PoolAvailability: %v", err)
	}
	if available != 25 {
		t.Errorf("pool availability = %d, want 25", available)
	}

	if _, err := ledger.PoolAvailability(ctx, "SKU-1", 99); !errors.Is(err, core.ErrPoolNotFound) {
		t.Errorf("err = %v, want ErrPoolNotFound", err)
	}
}
