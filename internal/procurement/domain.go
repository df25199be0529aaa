// Package procurement manages purchase orders and inbound receiving. Receiving
// a PO line is the main way stock enters the ledger.
package procurement

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the purchase order lifecycle state.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusPartial   Status = "PARTIAL"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

// Order is one purchase order against a supplier.
type Order struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	SupplierRef string     `json:"supplier_ref"`
	WarehouseID uuid.UUID  `json:"warehouse_id"`
	Status      Status     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	Lines       []Line     `json:"lines"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Line is one SKU ordered at an agreed unit cost.
type Line struct {
	ID          uuid.UUID       `json:"id"`
	SKUID       uuid.UUID       `json:"sku_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// Remaining is the quantity still expected on the line.
func (l Line) Remaining() decimal.Decimal {
	return l.Quantity.Sub(l.ReceivedQty)
}

// CreateInput describes a new purchase order.
type CreateInput struct {
	TenantID    uuid.UUID
	ActorID     uuid.UUID
	SupplierRef string `validate:"required,max=128"`
	WarehouseID uuid.UUID
	Notes       string `validate:"max=2000"`
	Lines       []LineInput
}

// LineInput is one ordered line.
type LineInput struct {
	SKUID    uuid.UUID
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
}

// ReceiveInput records an inbound delivery against the order.
type ReceiveInput struct {
	TenantID uuid.UUID
	ActorID  uuid.UUID
	OrderID  uuid.UUID
	Receipts map[uuid.UUID]decimal.Decimal
}

var (
	// ErrNotFound indicates the order does not exist for the tenant.
	ErrNotFound = errors.New("procurement: order not found")
	// ErrInvalidStatus rejects a transition the lifecycle does not allow.
	ErrInvalidStatus = errors.New("procurement: invalid status transition")
	// ErrEmptyOrder rejects orders without lines.
	ErrEmptyOrder = errors.New("procurement: at least one line required")
	// ErrInvalidLine rejects non-positive quantities, negative costs or
	// duplicate SKUs.
	ErrInvalidLine = errors.New("procurement: invalid order line")
	// ErrEmptyReceipt rejects a receive call without any quantities.
	ErrEmptyReceipt = errors.New("procurement: nothing to receive")
	// ErrOverReceive rejects receiving beyond the remaining quantity.
	ErrOverReceive = errors.New("procurement: receipt exceeds remaining quantity")
	// ErrUnknownSKU rejects receipts for SKUs not on the order.
	ErrUnknownSKU = errors.New("procurement: sku not on order")
)
