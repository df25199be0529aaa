// Package bom manages versioned bills of material for assembly SKUs.
package bom

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BOM is one version of the component recipe for an assembly SKU. Creating a
// new version deactivates the previous one; at most one version per assembly
// SKU is active.
type BOM struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	AssemblySKUID uuid.UUID `json:"assembly_sku_id"`
	Version       int       `json:"version"`
	IsActive      bool      `json:"is_active"`
	Notes         string    `json:"notes,omitempty"`
	Lines         []Line    `json:"lines"`
	CreatedAt     time.Time `json:"created_at"`
}

// Line is one component requirement within a BOM.
type Line struct {
	ID             uuid.UUID       `json:"id"`
	ComponentSKUID uuid.UUID       `json:"component_sku_id"`
	Quantity       decimal.Decimal `json:"quantity"`
}

// CreateInput describes a new BOM version.
type CreateInput struct {
	TenantID      uuid.UUID
	AssemblySKUID uuid.UUID
	Notes         string
	Lines         []LineInput
}

// LineInput is one component line of a new BOM version.
type LineInput struct {
	ComponentSKUID uuid.UUID
	Quantity       decimal.Decimal
}

var (
	// ErrNotFound indicates no BOM matches.
	ErrNotFound = errors.New("bom: not found")
	// ErrNoActiveBOM indicates the assembly SKU has no active BOM version.
	ErrNoActiveBOM = errors.New("bom: no active version for assembly sku")
	// ErrEmptyBOM rejects a BOM without lines.
	ErrEmptyBOM = errors.New("bom: at least one component line required")
	// ErrInvalidLine rejects non-positive component quantities or duplicates.
	ErrInvalidLine = errors.New("bom: invalid component line")
	// ErrCircular rejects a BOM whose component tree contains the assembly
	// itself.
	ErrCircular = errors.New("bom: circular component reference")
	// ErrNotAssembly rejects a BOM for a SKU not flagged as an assembly.
	ErrNotAssembly = errors.New("bom: sku is not an assembly")
)
