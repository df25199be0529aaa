package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/bom"
	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/shared"
)

// LedgerPort is the slice of the stock ledger the assembly flow uses.
type LedgerPort interface {
	InTx(ctx context.Context, fn func(ctx context.Context, p ledger.Poster) error) error
	GetStockLevel(ctx context.Context, key ledger.StockKey) (decimal.Decimal, error)
}

// BOMPort resolves bills of material.
type BOMPort interface {
	GetActive(ctx context.Context, tenantID, assemblySKUID uuid.UUID) (*bom.BOM, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*bom.BOM, error)
}

// CostPort reads component unit costs for the COGS snapshot.
type CostPort interface {
	UnitCost(ctx context.Context, tenantID, skuID uuid.UUID) (decimal.Decimal, error)
}

// OrderStore persists assembly orders.
type OrderStore interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*Order, error)
	List(ctx context.Context, tenantID uuid.UUID, status Status, p shared.Pagination) ([]Order, int, error)
	MarkStarted(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, at time.Time) error
	MarkCompleted(ctx context.Context, tx pgx.Tx, o *Order) error
	MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error
}

// Service drives the assembly order lifecycle. All stock effects go through
// the ledger; the order row and its events always commit together.
type Service struct {
	orders OrderStore
	ledger LedgerPort
	boms   BOMPort
	costs  CostPort
	logger *slog.Logger
}

// NewService wires the assembly service.
func NewService(orders OrderStore, ledgerPort LedgerPort, boms BOMPort, costs CostPort, logger *slog.Logger) *Service {
	return &Service{orders: orders, ledger: ledgerPort, boms: boms, costs: costs, logger: logger}
}

// Create opens a pending order, snapshotting the active BOM version.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if !in.PlannedQty.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	b, err := s.boms.GetActive(ctx, in.TenantID, in.AssemblySKUID)
	if err != nil {
		return nil, err
	}
	if in.LandedCost.IsNegative() {
		return nil, fmt.Errorf("%w: landed cost must not be negative", ErrInvalidQuantity)
	}
	o := &Order{
		ID:            uuid.New(),
		TenantID:      in.TenantID,
		AssemblySKUID: in.AssemblySKUID,
		BOMID:         b.ID,
		WarehouseID:   in.WarehouseID,
		PlannedQty:    in.PlannedQty,
		LandedCost:    in.LandedCost,
		Status:        StatusPending,
		Notes:         in.Notes,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// CheckAvailability reports, per component, whether the order's warehouse
// holds enough stock for the planned quantity. Advisory only: Start re-checks
// under the transaction.
func (s *Service) CheckAvailability(ctx context.Context, tenantID, orderID uuid.UUID) (*AvailabilityReport, error) {
	o, err := s.orders.GetByID(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	b, err := s.boms.GetByID(ctx, tenantID, o.BOMID)
	if err != nil {
		return nil, err
	}

	report := &AvailabilityReport{CanAssemble: true}
	for _, line := range b.Lines {
		required := line.Quantity.Mul(o.PlannedQty)
		available, err := s.ledger.GetStockLevel(ctx, ledger.StockKey{
			TenantID:    tenantID,
			SKUID:       line.ComponentSKUID,
			WarehouseID: o.WarehouseID,
		})
		if err != nil {
			return nil, err
		}
		ca := ComponentAvailability{
			ComponentSKUID: line.ComponentSKUID,
			Required:       required,
			Available:      available,
		}
		if available.LessThan(required) {
			ca.Short = required.Sub(available)
			report.CanAssemble = false
		}
		report.Components = append(report.Components, ca)
	}
	return report, nil
}

// Start consumes components: one ASSEMBLE_OUT per BOM line, all-or-nothing
// with the status flip to IN_PROGRESS.
func (s *Service) Start(ctx context.Context, tenantID, orderID, actorID uuid.UUID) (*Order, error) {
	var started *Order
	err := s.ledger.InTx(ctx, func(ctx context.Context, p ledger.Poster) error {
		o, err := s.orders.GetForUpdate(ctx, p.Tx(), tenantID, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return fmt.Errorf("%w: cannot start order in %s", ErrInvalidStatus, o.Status)
		}
		b, err := s.boms.GetByID(ctx, tenantID, o.BOMID)
		if err != nil {
			return err
		}
		for _, line := range b.Lines {
			if _, err := p.Post(ctx, componentEvent(o, line, ledger.EventAssembleOut,
				line.Quantity.Mul(o.PlannedQty).Neg(), actorID)); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := s.orders.MarkStarted(ctx, p.Tx(), tenantID, orderID, now); err != nil {
			return err
		}
		o.Status = StatusInProgress
		o.StartedAt = &now
		started = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

// Complete receives finished goods. The cost snapshot on the ASSEMBLE_IN event
// is landed cost plus the per-unit component cost of the BOM. Waste reduces
// output but is recorded on the order only, never as a ledger event.
func (s *Service) Complete(ctx context.Context, in CompleteInput) (*Order, error) {
	if !in.ProducedQty.IsPositive() || in.WastedQty.IsNegative() {
		return nil, ErrInvalidQuantity
	}
	var completed *Order
	err := s.ledger.InTx(ctx, func(ctx context.Context, p ledger.Poster) error {
		o, err := s.orders.GetForUpdate(ctx, p.Tx(), in.TenantID, in.OrderID)
		if err != nil {
			return err
		}
		if o.Status != StatusInProgress {
			return fmt.Errorf("%w: cannot complete order in %s", ErrInvalidStatus, o.Status)
		}
		if in.ProducedQty.Add(in.WastedQty).GreaterThan(o.PlannedQty) {
			return ErrOverproduced
		}
		b, err := s.boms.GetByID(ctx, in.TenantID, o.BOMID)
		if err != nil {
			return err
		}
		cogs, err := s.cogsPerUnit(ctx, in.TenantID, o, b)
		if err != nil {
			return err
		}

		actor := in.ActorID
		ref := o.ID
		if _, err := p.Post(ctx, ledger.EventInput{
			TenantID:         in.TenantID,
			SKUID:            o.AssemblySKUID,
			WarehouseID:      o.WarehouseID,
			EventType:        ledger.EventAssembleIn,
			QuantityDelta:    in.ProducedQty,
			ReferenceID:      &ref,
			ActorID:          &actor,
			UnitCostSnapshot: &cogs,
		}); err != nil {
			return err
		}

		now := time.Now().UTC()
		o.Status = StatusCompleted
		o.ProducedQty = in.ProducedQty
		o.WastedQty = in.WastedQty
		o.COGSPerUnit = &cogs
		o.CompletedAt = &now
		if err := s.orders.MarkCompleted(ctx, p.Tx(), o); err != nil {
			return err
		}
		completed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// Cancel aborts an order. A pending order just flips state; an in-progress
// order also returns its consumed components to stock.
func (s *Service) Cancel(ctx context.Context, tenantID, orderID, actorID uuid.UUID) (*Order, error) {
	var cancelled *Order
	err := s.ledger.InTx(ctx, func(ctx context.Context, p ledger.Poster) error {
		o, err := s.orders.GetForUpdate(ctx, p.Tx(), tenantID, orderID)
		if err != nil {
			return err
		}
		switch o.Status {
		case StatusPending:
		case StatusInProgress:
			b, err := s.boms.GetByID(ctx, tenantID, o.BOMID)
			if err != nil {
				return err
			}
			for _, line := range b.Lines {
				if _, err := p.Post(ctx, componentEvent(o, line, ledger.EventAssembleIn,
					line.Quantity.Mul(o.PlannedQty), actorID)); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: cannot cancel order in %s", ErrInvalidStatus, o.Status)
		}
		if err := s.orders.MarkCancelled(ctx, p.Tx(), tenantID, orderID); err != nil {
			return err
		}
		o.Status = StatusCancelled
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// GetByID returns one order.
func (s *Service) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error) {
	return s.orders.GetByID(ctx, tenantID, id)
}

// List pages through a tenant's orders.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, status Status, page, perPage int) ([]Order, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	orders, total, err := s.orders.List(ctx, tenantID, status, p)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(p.Page, p.PerPage, total), nil
}

func (s *Service) cogsPerUnit(ctx context.Context, tenantID uuid.UUID, o *Order, b *bom.BOM) (decimal.Decimal, error) {
	cogs := o.LandedCost
	for _, line := range b.Lines {
		cost, err := s.costs.UnitCost(ctx, tenantID, line.ComponentSKUID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("assembly: component cost: %w", err)
		}
		cogs = cogs.Add(line.Quantity.Mul(cost))
	}
	return cogs, nil
}

func componentEvent(o *Order, line bom.Line, eventType ledger.EventType, delta decimal.Decimal, actorID uuid.UUID) ledger.EventInput {
	ref := o.ID
	actor := actorID
	return ledger.EventInput{
		TenantID:      o.TenantID,
		SKUID:         line.ComponentSKUID,
		WarehouseID:   o.WarehouseID,
		EventType:     eventType,
		QuantityDelta: delta,
		ReferenceID:   &ref,
		ActorID:       &actor,
	}
}
