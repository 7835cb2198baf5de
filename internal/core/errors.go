package core

import (
	"errors"
	"fmt"
)

var (
	// ErrLocationInactive is returned when a hold or allocation targets a
	// location that is disabled or unknown in the directory.
	ErrLocationInactive = errors.New("fulfillment location is inactive")

	// ErrRuleNotFound means no distribution rule matched the order context and
	// no default rule is configured.
	ErrRuleNotFound = errors.New("no distribution rule matched and no default rule exists")

	// ErrConcurrencyConflict is surfaced after bounded internal retries on an
	// optimistic-lock mismatch. Callers may retry the whole operation.
	ErrConcurrencyConflict = errors.New("concurrent update conflict on inventory level")

	// ErrLevelNotFound means no inventory_levels row exists for the
	// (sku, location) pair. Levels are created lazily on first receipt.
	ErrLevelNotFound = errors.New("inventory level not found")

	// ErrReservationNotFound means no active reservation exists for the
	// requested (owner, sku, location) tuple.
	ErrReservationNotFound = errors.New("active reservation not found")

	// ErrReservedUnderflow indicates an allocate was attempted for more units
	// than are currently reserved. This is an invariant breach on the caller's
	// side, not a normal business outcome.
	ErrReservedUnderflow = errors.New("allocate exceeds reserved quantity")

	// ErrAllocatedUnderflow indicates a ship/cancel was attempted for more
	// units than are currently allocated.
	ErrAllocatedUnderflow = errors.New("operation exceeds allocated quantity")

	// ErrAllocationNotFound means no allocation exists with the given ID.
	ErrAllocationNotFound = errors.New("allocation not found")

	ErrInvalidQuantity = errors.New("quantity must be > 0")
	ErrPoolNotFound    = errors.New("inventory pool not found")
)

// InsufficientStockError is the normal business outcome when a reserve cannot
// be satisfied. It carries the shortfall so callers can offer backorder or an
// alternate location.
type InsufficientStockError struct {
	SKU        string
	LocationID int
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s at location %d: requested %d, available %d",
		e.SKU, e.LocationID, e.Requested, e.Available)
}

// StateConflictError rejects an allocation lifecycle transition attempted from
// an invalid current state.
type StateConflictError struct {
	AllocationID string
	Current      AllocationStatus
	Target       AllocationStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("allocation %s cannot transition %s -> %s", e.AllocationID, e.Current, e.Target)
}

// UnfulfillableError reports the remaining quantity after all ranked
// candidates were exhausted. Allocations made before the shortfall stand; the
// caller decides whether to backorder, split-ship, or cancel.
type UnfulfillableError struct {
	OrderLineID string
	Remaining   int
}

func (e *UnfulfillableError) Error() string {
	return fmt.Sprintf("order line %s unfulfillable: %d units remain unallocated", e.OrderLineID, e.Remaining)
}
