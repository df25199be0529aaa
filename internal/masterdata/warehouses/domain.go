// Package warehouses manages the warehouse master data that every stock key
// references. A warehouse must exist and be active before events can be posted
// against it.
package warehouses

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Warehouse is a physical stock-holding site for a tenant.
type Warehouse struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location is an optional bin or shelf inside a warehouse.
type Location struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	WarehouseID uuid.UUID `json:"warehouse_id"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateInput carries the fields for a new warehouse.
type CreateInput struct {
	TenantID uuid.UUID
	Code     string `validate:"required,max=32"`
	Name     string `validate:"required,max=255"`
	Address  string `validate:"max=1000"`
}

var (
	// ErrNotFound indicates the warehouse does not exist for the tenant.
	ErrNotFound = errors.New("warehouses: not found")
	// ErrDuplicateCode indicates the code is already used by the tenant.
	ErrDuplicateCode = errors.New("warehouses: duplicate code")
)
