// Package transfers moves stock between warehouses. Stock leaves the source
// when the transfer is dispatched and arrives at the destination when the
// receiving side confirms, possibly partially.
package transfers

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the transfer order lifecycle state.
type Status string

const (
	StatusInTransit Status = "IN_TRANSIT"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Order is one warehouse-to-warehouse movement.
type Order struct {
	ID                uuid.UUID  `json:"id"`
	TenantID          uuid.UUID  `json:"tenant_id"`
	SourceWarehouseID uuid.UUID  `json:"source_warehouse_id"`
	DestWarehouseID   uuid.UUID  `json:"dest_warehouse_id"`
	Status            Status     `json:"status"`
	Notes             string     `json:"notes,omitempty"`
	Lines             []Line     `json:"lines"`
	DispatchedAt      time.Time  `json:"dispatched_at"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Line is one SKU on a transfer. ReceivedQty below Quantity after confirmation
// records a transit discrepancy; reconciling it is a manual adjustment.
type Line struct {
	ID          uuid.UUID       `json:"id"`
	SKUID       uuid.UUID       `json:"sku_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
}

// CreateInput dispatches a new transfer. Stock leaves the source immediately.
type CreateInput struct {
	TenantID          uuid.UUID
	ActorID           uuid.UUID
	SourceWarehouseID uuid.UUID
	DestWarehouseID   uuid.UUID
	Notes             string
	Lines             []LineInput
}

// LineInput is one requested transfer line.
type LineInput struct {
	SKUID    uuid.UUID
	Quantity decimal.Decimal
}

// ConfirmInput records arrival at the destination. Received may be nil for a
// full receipt, or list per-SKU received quantities.
type ConfirmInput struct {
	TenantID uuid.UUID
	ActorID  uuid.UUID
	OrderID  uuid.UUID
	Received map[uuid.UUID]decimal.Decimal
}

var (
	// ErrNotFound indicates the transfer does not exist for the tenant.
	ErrNotFound = errors.New("transfers: order not found")
	// ErrInvalidStatus rejects a transition the lifecycle does not allow.
	ErrInvalidStatus = errors.New("transfers: invalid status transition")
	// ErrEmptyOrder rejects transfers without lines.
	ErrEmptyOrder = errors.New("transfers: at least one line required")
	// ErrInvalidLine rejects non-positive or duplicate lines.
	ErrInvalidLine = errors.New("transfers: invalid line")
	// ErrSameWarehouse rejects transfers with identical endpoints.
	ErrSameWarehouse = errors.New("transfers: source and destination must differ")
	// ErrOverReceived rejects confirming more than was dispatched.
	ErrOverReceived = errors.New("transfers: received quantity exceeds dispatched quantity")
)
