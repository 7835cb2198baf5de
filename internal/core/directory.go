package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultDirectoryTTL bounds how stale the cached location/pool snapshot may
// get. Staleness only affects routing choice; the ledger re-validates
// availability independently of anything cached here.
const defaultDirectoryTTL = 30 * time.Second

// LocationDirectory is the read-mostly registry of fulfillment locations and
// inventory pools. This engine never writes either table; admin tooling owns
// them. Reads go through a TTL-cached snapshot with explicit Refresh.
type LocationDirectory struct {
	pool *pgxpool.Pool
	ttl  time.Duration

	mu        sync.RWMutex
	loadedAt  time.Time
	locations map[int]FulfillmentLocation
	pools     map[int]InventoryPool
}

func NewLocationDirectory(pool *pgxpool.Pool, ttl time.Duration) *LocationDirectory {
	if ttl <= 0 {
		ttl = defaultDirectoryTTL
	}
	return &LocationDirectory{pool: pool, ttl: ttl}
}

// Refresh reloads locations and pools from the database unconditionally.
func (d *LocationDirectory) Refresh(ctx context.Context) error {
	locations, err := d.loadLocations(ctx)
	if err != nil {
		return err
	}
	pools, err := d.loadPools(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.locations = locations
	d.pools = pools
	d.loadedAt = time.Now()
	d.mu.Unlock()
	return nil
}

func (d *LocationDirectory) ensureFresh(ctx context.Context) error {
	d.mu.RLock()
	fresh := d.locations != nil && time.Since(d.loadedAt) < d.ttl
	d.mu.RUnlock()
	if fresh {
		return nil
	}
	return d.Refresh(ctx)
}

// GetLocation returns one location by ID, active or not.
func (d *LocationDirectory) GetLocation(ctx context.Context, id int) (*FulfillmentLocation, error) {
	if err := d.ensureFresh(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	loc, ok := d.locations[id]
	if !ok {
		return nil, ErrLocationInactive
	}
	return &loc, nil
}

// IsActive reports whether the location exists and is active.
func (d *LocationDirectory) IsActive(ctx context.Context, id int) (bool, error) {
	if err := d.ensureFresh(ctx); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	loc, ok := d.locations[id]
	return ok && loc.IsActive, nil
}

// ListActive returns all active locations ordered by priority descending,
// then ID for determinism.
func (d *LocationDirectory) ListActive(ctx context.Context) ([]FulfillmentLocation, error) {
	if err := d.ensureFresh(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	var out []FulfillmentLocation
	for _, loc := range d.locations {
		if loc.IsActive {
			out = append(out, loc)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetPool returns a pool with its ordered member list.
func (d *LocationDirectory) GetPool(ctx context.Context, id int) (*InventoryPool, error) {
	if err := d.ensureFresh(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.pools[id]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return &p, nil
}

func (d *LocationDirectory) loadLocations(ctx context.Context) (map[int]FulfillmentLocation, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, code, name, location_type, latitude, longitude,
		       can_ship, can_pickup, can_local_deliver, priority, is_active, created_at
		FROM fulfillment_locations
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fulfillment locations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]FulfillmentLocation)
	for rows.Next() {
		var loc FulfillmentLocation
		if err := rows.Scan(
			&loc.ID, &loc.Code, &loc.Name, &loc.Type, &loc.Latitude, &loc.Longitude,
			&loc.CanShip, &loc.CanPickup, &loc.CanLocalDeliver, &loc.Priority, &loc.IsActive, &loc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		out[loc.ID] = loc
	}
	return out, rows.Err()
}

func (d *LocationDirectory) loadPools(ctx context.Context) (map[int]InventoryPool, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, code, name, strategy, is_active
		FROM inventory_pools
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory pools: %w", err)
	}
	pools := make(map[int]InventoryPool)
	for rows.Next() {
		var p InventoryPool
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Strategy, &p.IsActive); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		pools[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memberRows, err := d.pool.Query(ctx, `
		SELECT pool_id, location_id, position, priority, split_percent
		FROM pool_locations
		ORDER BY pool_id, position, location_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pool members: %w", err)
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var poolID int
		var m PoolMember
		if err := memberRows.Scan(&poolID, &m.LocationID, &m.Position, &m.Priority, &m.SplitPercent); err != nil {
			return nil, fmt.Errorf("failed to scan pool member: %w", err)
		}
		p, ok := pools[poolID]
		if !ok {
			continue
		}
		p.Members = append(p.Members, m)
		pools[poolID] = p
	}
	return pools, memberRows.Err()
}
