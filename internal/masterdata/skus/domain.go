// Package skus manages the SKU catalogue. The scanner channel resolves
// barcodes here and the assembly module reads component costs from it.
package skus

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SKU is a stock-keeping unit in a tenant's catalogue.
type SKU struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	Code        string          `json:"code"`
	Barcode     string          `json:"barcode,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	UOM         string          `json:"uom"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	IsAssembly  bool            `json:"is_assembly"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CreateInput carries the fields for a new SKU.
type CreateInput struct {
	TenantID    uuid.UUID
	Code        string `validate:"required,max=64"`
	Barcode     string `validate:"max=128"`
	Name        string `validate:"required,max=255"`
	Description string `validate:"max=2000"`
	UOM         string `validate:"required,max=16"`
	UnitCost    decimal.Decimal
	IsAssembly  bool
}

// UpdateInput carries mutable SKU fields; nil means unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	Barcode     *string
	UnitCost    *decimal.Decimal
	IsActive    *bool
}

var (
	// ErrNotFound indicates the SKU does not exist for the tenant.
	ErrNotFound = errors.New("skus: not found")
	// ErrDuplicate indicates the code or barcode is already in use.
	ErrDuplicate = errors.New("skus: duplicate code or barcode")
)
