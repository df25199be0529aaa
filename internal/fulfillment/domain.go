// Package fulfillment manages sales orders: reserving stock at allocation and
// converting reservations into physical depletion at shipment.
package fulfillment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the sales order lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusCancelled  Status = "CANCELLED"
)

// Order is a customer order fulfilled from one warehouse.
type Order struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	CustomerRef string     `json:"customer_ref"`
	WarehouseID uuid.UUID  `json:"warehouse_id"`
	Status      Status     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	Lines       []Line     `json:"lines"`
	AllocatedAt *time.Time `json:"allocated_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Line is one SKU demand on an order.
type Line struct {
	ID           uuid.UUID       `json:"id"`
	SKUID        uuid.UUID       `json:"sku_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	FulfilledQty decimal.Decimal `json:"fulfilled_qty"`
}

// CreateInput describes a new sales order.
type CreateInput struct {
	TenantID    uuid.UUID
	ActorID     uuid.UUID
	CustomerRef string `validate:"required,max=128"`
	WarehouseID uuid.UUID
	Notes       string `validate:"max=2000"`
	Lines       []LineInput
}

// LineInput is one requested line.
type LineInput struct {
	SKUID    uuid.UUID
	Quantity decimal.Decimal
}

// Shortage describes one SKU that blocked allocation.
type Shortage struct {
	SKUID     uuid.UUID       `json:"sku_id"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
	Short     decimal.Decimal `json:"short"`
}

// ShortageError reports the full set of under-stocked lines; allocation is
// all-or-nothing, so one shortage fails the whole order.
type ShortageError struct {
	Shortages []Shortage
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("fulfillment: insufficient stock for %d line(s)", len(e.Shortages))
}

// Is lets errors.Is(err, ErrShortage) match.
func (e *ShortageError) Is(target error) bool {
	return target == ErrShortage
}

var (
	// ErrNotFound indicates the order does not exist for the tenant.
	ErrNotFound = errors.New("fulfillment: order not found")
	// ErrInvalidStatus rejects a transition the lifecycle does not allow.
	ErrInvalidStatus = errors.New("fulfillment: invalid status transition")
	// ErrEmptyOrder rejects orders without lines.
	ErrEmptyOrder = errors.New("fulfillment: at least one line required")
	// ErrInvalidLine rejects non-positive quantities or duplicate SKUs.
	ErrInvalidLine = errors.New("fulfillment: invalid order line")
	// ErrShortage is the sentinel matched by errors.Is against ShortageError.
	ErrShortage = errors.New("fulfillment: insufficient stock")
)
