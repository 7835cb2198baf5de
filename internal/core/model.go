package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// LocationType tags the kind of fulfillment node. Routing and allocation
// logic never switches on the concrete type, only on capability flags.
type LocationType string

const (
	LocationWarehouse LocationType = "warehouse"
	LocationStore     LocationType = "store"
	LocationDropship  LocationType = "dropship_vendor"
	Location3PL       LocationType = "3pl"
	LocationDarkStore LocationType = "dark_store"
)

// Capability is a fulfillment ability a location may advertise.
type Capability string

const (
	CanShip         Capability = "ship"
	CanPickup       Capability = "pickup"
	CanLocalDeliver Capability = "local_deliver"
)

// FulfillmentLocation is read-only from this engine's perspective; admin
// tooling owns writes.
type FulfillmentLocation struct {
	ID              int
	Code            string
	Name            string
	Type            LocationType
	Latitude        *float64
	Longitude       *float64
	CanShip         bool
	CanPickup       bool
	CanLocalDeliver bool
	Priority        int
	IsActive        bool
	CreatedAt       time.Time
}

// Can reports whether the location advertises the given capability.
func (l *FulfillmentLocation) Can(c Capability) bool {
	switch c {
	case CanShip:
		return l.CanShip
	case CanPickup:
		return l.CanPickup
	case CanLocalDeliver:
		return l.CanLocalDeliver
	}
	return false
}

// AllocationStrategy decides how a quantity is split across pool members.
type AllocationStrategy string

const (
	StrategyFIFO      AllocationStrategy = "fifo"
	StrategyNearest   AllocationStrategy = "nearest"
	StrategyPriority  AllocationStrategy = "priority"
	StrategyEvenSplit AllocationStrategy = "even_split"
)

// InventoryPool groups locations under one allocation strategy. Members are
// an ordered list owned by the pool; there is no back-pointer from locations.
type InventoryPool struct {
	ID       int
	Code     string
	Name     string
	Strategy AllocationStrategy
	IsActive bool
	Members  []PoolMember
}

// PoolMember is one location's membership in a pool. SplitPercent is only
// meaningful for even_split pools.
type PoolMember struct {
	LocationID   int
	Position     int
	Priority     int
	SplitPercent decimal.Decimal
}

// InventoryLevel is the authoritative stock row for one (sku, location).
// Available is derived, never stored.
type InventoryLevel struct {
	ID            int
	SKU           string
	LocationID    int
	OnHand        int
	Reserved      int
	Allocated     int
	SafetyStock   int
	Inbound       int
	MinStock      int
	Backorderable bool
	Version       int64
	UpdatedAt     time.Time
}

// Available is what can still be promised to a new shopper.
func (l *InventoryLevel) Available() int {
	return l.OnHand - l.Reserved - l.Allocated
}

// Promisable subtracts safety stock from Available. The reserve guard uses
// this unless the level is backorderable.
func (l *InventoryLevel) Promisable() int {
	return l.Available() - l.SafetyStock
}

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationReleased ReservationStatus = "released"
	ReservationExpired  ReservationStatus = "expired"
	ReservationConsumed ReservationStatus = "consumed"
)

// StockReservation is a time-boxed hold of stock at one location on behalf of
// a basket or order. ExpiresAt == nil means the hold has no TTL (confirmed
// orders awaiting allocation).
type StockReservation struct {
	ID         string
	OwnerID    string
	SKU        string
	LocationID int
	Quantity   int
	Status     ReservationStatus
	CreatedAt  time.Time
	ExpiresAt  *time.Time
}

type AllocationStatus string

const (
	AllocationAllocated AllocationStatus = "allocated"
	AllocationPicked    AllocationStatus = "picked"
	AllocationPacked    AllocationStatus = "packed"
	AllocationShipped   AllocationStatus = "shipped"
	AllocationCancelled AllocationStatus = "cancelled"
	AllocationReturned  AllocationStatus = "returned"
)

// StockAllocation is committed fulfillment responsibility for part of an
// order line at one location. A line may carry several allocations.
type StockAllocation struct {
	ID          string
	OrderID     string
	OrderLineID string
	SKU         string
	LocationID  int
	SellerID    *string
	Quantity    int
	Status      AllocationStatus
	AllocatedAt time.Time
	PickedAt    *time.Time
	PackedAt    *time.Time
	ShippedAt   *time.Time
	CancelledAt *time.Time
	ReturnedAt  *time.Time
}

// RuleConditions are AND-ed during matching; a nil/empty field means
// "don't care", never "exclude".
type RuleConditions struct {
	Countries      []string
	Regions        []string
	PostalPrefixes []string
	Categories     []string
	CustomerGroups []string
	MinOrderValue  *decimal.Decimal
	MaxOrderValue  *decimal.Decimal
	MinWeight      *decimal.Decimal
	MaxWeight      *decimal.Decimal
	ValidFrom      *time.Time
	ValidTo        *time.Time
	DaysOfWeek     []int // 0 = Sunday .. 6 = Saturday
}

// RuleAction resolves to either a single location or a pool. StrategyOverride,
// when set, replaces the pool's own strategy.
type RuleAction struct {
	LocationID         *int
	PoolID             *int
	StrategyOverride   *AllocationStrategy
	FulfillmentPartner *string
}

// DistributionRule is routing configuration: data, evaluated, never mutated
// by this engine.
type DistributionRule struct {
	ID         int
	Name       string
	Priority   int
	IsDefault  bool
	IsActive   bool
	Channel    *string // nil = any channel
	Conditions RuleConditions
	Action     RuleAction
	CreatedAt  time.Time
}

// Destination is the shipping target used for rule matching and the nearest
// strategy.
type Destination struct {
	Country    string
	Region     string
	PostalCode string
	Latitude   float64
	Longitude  float64
}

// OrderContextLine is one order line's routing-relevant attributes.
type OrderContextLine struct {
	SKU      string
	Quantity int
	Category string
	Weight   decimal.Decimal
}

// OrderContext is everything the rule engine sees about an order.
type OrderContext struct {
	Channel       string
	Destination   Destination
	Lines         []OrderContextLine
	Subtotal      decimal.Decimal
	CustomerGroup string
	CreatedAt     time.Time
}

// TotalWeight sums line weight × quantity.
func (o *OrderContext) TotalWeight() decimal.Decimal {
	total := decimal.Zero
	for _, ln := range o.Lines {
		total = total.Add(ln.Weight.Mul(decimal.NewFromInt(int64(ln.Quantity))))
	}
	return total
}

// Candidate is one ranked location a winning rule resolved to, annotated with
// a per-SKU availability snapshot so the allocation engine avoids a second
// round-trip. The snapshot is advisory; the ledger re-checks at commit time.
type Candidate struct {
	Location     FulfillmentLocation
	Priority     int
	SplitPercent decimal.Decimal
	Availability map[string]int
}

// RoutingDecision is the rule engine's answer for one order context.
type RoutingDecision struct {
	RuleID             int
	RuleName           string
	Strategy           AllocationStrategy
	FulfillmentPartner *string
	Candidates         []Candidate
}
