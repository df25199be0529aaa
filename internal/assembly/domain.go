// Package assembly manages assembly orders: consuming components per an
// active BOM and receiving finished goods with a computed cost snapshot.
package assembly

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the assembly order lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Order is one production run of an assembly SKU.
type Order struct {
	ID            uuid.UUID        `json:"id"`
	TenantID      uuid.UUID        `json:"tenant_id"`
	AssemblySKUID uuid.UUID        `json:"assembly_sku_id"`
	BOMID         uuid.UUID        `json:"bom_id"`
	WarehouseID   uuid.UUID        `json:"warehouse_id"`
	PlannedQty    decimal.Decimal  `json:"planned_qty"`
	ProducedQty   decimal.Decimal  `json:"produced_qty"`
	WastedQty     decimal.Decimal  `json:"wasted_qty"`
	LandedCost    decimal.Decimal  `json:"landed_cost"`
	COGSPerUnit   *decimal.Decimal `json:"cogs_per_unit,omitempty"`
	Status        Status           `json:"status"`
	Notes         string           `json:"notes,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// CreateInput describes a new assembly order. The active BOM version is
// snapshotted at creation so later BOM edits do not change an open order.
type CreateInput struct {
	TenantID      uuid.UUID
	ActorID       uuid.UUID
	AssemblySKUID uuid.UUID
	WarehouseID   uuid.UUID
	PlannedQty    decimal.Decimal
	LandedCost    decimal.Decimal
	Notes         string
}

// CompleteInput closes a production run.
type CompleteInput struct {
	TenantID    uuid.UUID
	ActorID     uuid.UUID
	OrderID     uuid.UUID
	ProducedQty decimal.Decimal
	WastedQty   decimal.Decimal
}

// ComponentAvailability is one line of an availability report.
type ComponentAvailability struct {
	ComponentSKUID uuid.UUID       `json:"component_sku_id"`
	Required       decimal.Decimal `json:"required"`
	Available      decimal.Decimal `json:"available"`
	Short          decimal.Decimal `json:"short"`
}

// AvailabilityReport aggregates per-component availability for a planned run.
type AvailabilityReport struct {
	CanAssemble bool                    `json:"can_assemble"`
	Components  []ComponentAvailability `json:"components"`
}

var (
	// ErrNotFound indicates the order does not exist for the tenant.
	ErrNotFound = errors.New("assembly: order not found")
	// ErrInvalidStatus rejects a transition the lifecycle does not allow.
	ErrInvalidStatus = errors.New("assembly: invalid status transition")
	// ErrInvalidQuantity rejects non-positive planned or produced quantities.
	ErrInvalidQuantity = errors.New("assembly: invalid quantity")
	// ErrOverproduced rejects produced+wasted exceeding the planned quantity.
	ErrOverproduced = errors.New("assembly: produced plus wasted exceeds planned quantity")
)
