package app

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoldStockRequest places or adjusts holds for one owner. TTLSeconds of 0
// means the holds never idle out (order-scoped holds).
type HoldStockRequest struct {
	OwnerID    string          `json:"owner_id"`
	TTLSeconds int             `json:"ttl_seconds"`
	Lines      []HoldLineInput `json:"lines"`
}

// HoldLineInput requests a desired total quantity for (sku, location).
// Quantity 0 releases the line's hold.
type HoldLineInput struct {
	SKU        string `json:"sku"`
	LocationID int    `json:"location_id"`
	Quantity   int    `json:"quantity"`
}

// OrderContextRequest is the routing input: where the order is going, what it
// contains, and who is buying.
type OrderContextRequest struct {
	Channel       string             `json:"channel"`
	Destination   DestinationInput   `json:"destination"`
	Lines         []OrderLineInput   `json:"lines"`
	Subtotal      decimal.Decimal    `json:"subtotal"`
	CustomerGroup string             `json:"customer_group,omitempty"`
	CreatedAt     *time.Time         `json:"created_at,omitempty"`
}

type DestinationInput struct {
	Country    string  `json:"country"`
	Region     string  `json:"region,omitempty"`
	PostalCode string  `json:"postal_code,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

type OrderLineInput struct {
	OrderLineID string          `json:"order_line_id"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	Category    string          `json:"category,omitempty"`
	Weight      decimal.Decimal `json:"weight,omitempty"`
}

// AllocateOrderRequest routes and allocates a confirmed order in one call.
type AllocateOrderRequest struct {
	OrderID string              `json:"order_id"`
	Context OrderContextRequest `json:"context"`
}

// ReceiveStockRequest records a goods receipt or announced inbound quantity.
type ReceiveStockRequest struct {
	SKU        string `json:"sku"`
	LocationID int    `json:"location_id"`
	Quantity   int    `json:"quantity"`
	Reference  string `json:"reference,omitempty"`
}
