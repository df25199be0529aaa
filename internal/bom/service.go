package bom

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nexus-ims/nexus/internal/shared"
)

// Store is the persistence port used by the service.
type Store interface {
	CreateVersion(ctx context.Context, in CreateInput) (*BOM, error)
	GetActive(ctx context.Context, tenantID, assemblySKUID uuid.UUID) (*BOM, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*BOM, error)
	ListVersions(ctx context.Context, tenantID, assemblySKUID uuid.UUID) ([]BOM, error)
	ReachesComponent(ctx context.Context, tenantID, start, target uuid.UUID) (bool, error)
}

// CataloguePort answers whether a SKU is an assembly.
type CataloguePort interface {
	IsAssembly(ctx context.Context, tenantID, skuID uuid.UUID) (bool, error)
}

// AuditPort records BOM changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service validates and versions bills of material.
type Service struct {
	store     Store
	catalogue CataloguePort
	audit     AuditPort
	logger    *slog.Logger
}

// NewService wires the BOM service.
func NewService(store Store, catalogue CataloguePort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{store: store, catalogue: catalogue, audit: audit, logger: logger}
}

// Create validates and writes a new BOM version, deactivating the previous one.
func (s *Service) Create(ctx context.Context, in CreateInput) (*BOM, error) {
	if len(in.Lines) == 0 {
		return nil, ErrEmptyBOM
	}
	seen := make(map[uuid.UUID]struct{}, len(in.Lines))
	for _, line := range in.Lines {
		if line.ComponentSKUID == uuid.Nil || !line.Quantity.IsPositive() {
			return nil, ErrInvalidLine
		}
		if _, dup := seen[line.ComponentSKUID]; dup {
			return nil, fmt.Errorf("%w: duplicate component %s", ErrInvalidLine, line.ComponentSKUID)
		}
		seen[line.ComponentSKUID] = struct{}{}
		if line.ComponentSKUID == in.AssemblySKUID {
			return nil, ErrCircular
		}
	}

	isAssembly, err := s.catalogue.IsAssembly(ctx, in.TenantID, in.AssemblySKUID)
	if err != nil {
		return nil, fmt.Errorf("bom: check assembly sku: %w", err)
	}
	if !isAssembly {
		return nil, ErrNotAssembly
	}

	// Reject recipes where a component's own tree leads back to this assembly.
	for component := range seen {
		reaches, err := s.store.ReachesComponent(ctx, in.TenantID, component, in.AssemblySKUID)
		if err != nil {
			return nil, err
		}
		if reaches {
			return nil, fmt.Errorf("%w: via component %s", ErrCircular, component)
		}
	}

	b, err := s.store.CreateVersion(ctx, in)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			TenantID: in.TenantID,
			Action:   "bom.version_created",
			Entity:   "bom",
			EntityID: b.ID.String(),
			Meta: map[string]any{
				"assembly_sku_id": in.AssemblySKUID.String(),
				"version":         b.Version,
				"lines":           len(b.Lines),
			},
		}); err != nil {
			s.logger.Error("audit record failed", "bom_id", b.ID, "error", err)
		}
	}
	return b, nil
}

// GetActive returns the active version for an assembly SKU.
func (s *Service) GetActive(ctx context.Context, tenantID, assemblySKUID uuid.UUID) (*BOM, error) {
	return s.store.GetActive(ctx, tenantID, assemblySKUID)
}

// GetByID returns one version.
func (s *Service) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*BOM, error) {
	return s.store.GetByID(ctx, tenantID, id)
}

// ListVersions returns the version history for an assembly SKU.
func (s *Service) ListVersions(ctx context.Context, tenantID, assemblySKUID uuid.UUID) ([]BOM, error) {
	return s.store.ListVersions(ctx, tenantID, assemblySKUID)
}
