package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/shared"
)

// LedgerPort is the slice of the stock ledger the transfer flow uses.
type LedgerPort interface {
	InTx(ctx context.Context, fn func(ctx context.Context, p ledger.Poster) error) error
}

// OrderStore persists transfer orders.
type OrderStore interface {
	CreateInTx(ctx context.Context, tx pgx.Tx, o *Order) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*Order, error)
	List(ctx context.Context, tenantID uuid.UUID, status Status, p shared.Pagination) ([]Order, int, error)
	MarkConfirmed(ctx context.Context, tx pgx.Tx, o *Order, at time.Time) error
	MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error
}

// Service drives the transfer lifecycle.
type Service struct {
	orders OrderStore
	ledger LedgerPort
	logger *slog.Logger
}

// NewService wires the transfer service.
func NewService(orders OrderStore, ledgerPort LedgerPort, logger *slog.Logger) *Service {
	return &Service{orders: orders, ledger: ledgerPort, logger: logger}
}

// Create dispatches a transfer: TRANSFER_OUT leaves the source per line and
// the order goes IN_TRANSIT, atomically.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if in.SourceWarehouseID == in.DestWarehouseID {
		return nil, ErrSameWarehouse
	}
	if len(in.Lines) == 0 {
		return nil, ErrEmptyOrder
	}
	seen := make(map[uuid.UUID]struct{}, len(in.Lines))
	o := &Order{
		ID:                uuid.New(),
		TenantID:          in.TenantID,
		SourceWarehouseID: in.SourceWarehouseID,
		DestWarehouseID:   in.DestWarehouseID,
		Status:            StatusInTransit,
		Notes:             in.Notes,
		DispatchedAt:      time.Now().UTC(),
	}
	for _, line := range in.Lines {
		if line.SKUID == uuid.Nil || !line.Quantity.IsPositive() {
			return nil, ErrInvalidLine
		}
		if _, dup := seen[line.SKUID]; dup {
			return nil, fmt.Errorf("%w: duplicate sku %s", ErrInvalidLine, line.SKUID)
		}
		seen[line.SKUID] = struct{}{}
		o.Lines = append(o.Lines, Line{ID: uuid.New(), SKUID: line.SKUID, Quantity: line.Quantity})
	}

	err := s.ledger.InTx(ctx, func(ctx context.Context, p ledger.Poster) error {
		if err := s.orders.CreateInTx(ctx, p.Tx(), o); err != nil {
			return err
		}
		for _, line := range o.Lines {
			if _, err := p.Post(ctx, transferEvent(o, line.SKUID, o.SourceWarehouseID,
				ledger.EventTransferOut, line.Quantity.Neg(), in.ActorID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Confirm receives the transfer at the destination. Per-line received
// quantities may fall short of what was dispatched; the shortfall stays on the
// order as a recorded discrepancy for manual adjustment.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*Order, error) {
	var confirmed *Order
	err := s.ledger.InTx(ctx, func(ctx context.Context, p ledger.Poster) error {
		o, err := s.orders.GetForUpdate(ctx, p.Tx(), in.TenantID, in.OrderID)
		if err != nil {
			return err
		}
		if o.Status != StatusInTransit {
			return fmt.Errorf("%w: cannot confirm order in %s", ErrInvalidStatus, o.Status)
		}
		for i := range o.Lines {
			line := &o.Lines[i]
			received := line.Quantity
			if in.Received != nil {
				r, ok := in.Received[line.SKUID]
				if !ok {
					r = decimal.Zero
				}
				received = r
			}
			if received.IsNegative() {
				return fmt.Errorf("%w: sku %s", ErrInvalidLine, line.SKUID)
			}
			if received.GreaterThan(line.Quantity) {
				return fmt.Errorf("%w: sku %s", ErrOverReceived, line.SKUID)
			}
			line.ReceivedQty = received
			if received.IsZero() {
				continue
			}
			if _, err := p.Post(ctx, transferEvent(o, line.SKUID, o.DestWarehouseID,
				ledger.EventTransferIn, received, in.ActorID)); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := s.orders.MarkConfirmed(ctx, p.Tx(), o, now); err != nil {
			return err
		}
		o.Status = StatusCompleted
		o.ConfirmedAt = &now
		confirmed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// Cancel aborts an in-transit transfer, returning the full dispatched quantity
// to the source warehouse.
func (s *Service) Cancel(ctx context.Context, tenantID, orderID, actorID uuid.UUID) (*Order, error) {
	var cancelled *Order
	err := s.ledger.InTx(ctx, func(ctx context.Context, p ledger.Poster) error {
		o, err := s.orders.GetForUpdate(ctx, p.Tx(), tenantID, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusInTransit {
			return fmt.Errorf("%w: cannot cancel order in %s", ErrInvalidStatus, o.Status)
		}
		for _, line := range o.Lines {
			if _, err := p.Post(ctx, transferEvent(o, line.SKUID, o.SourceWarehouseID,
				ledger.EventTransferIn, line.Quantity, actorID)); err != nil {
				return err
			}
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

// GetByID returns one transfer with lines.
func (s *Service) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error) {
	return s.orders.GetByID(ctx, tenantID, id)
}

// List pages through a tenant's transfers.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, status Status, page, perPage int) ([]Order, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	orders, total, err := s.orders.List(ctx, tenantID, status, p)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(p.Page, p.PerPage, total), nil
}

func transferEvent(o *Order, skuID, warehouseID uuid.UUID, eventType ledger.EventType, delta decimal.Decimal, actorID uuid.UUID) ledger.EventInput {
	ref := o.ID
	actor := actorID
	return ledger.EventInput{
		TenantID:      o.TenantID,
		SKUID:         skuID,
		WarehouseID:   warehouseID,
		EventType:     eventType,
		QuantityDelta: delta,
		ReferenceID:   &ref,
		ActorID:       &actor,
	}
}
