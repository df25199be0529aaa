package fulfillment

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

// LedgerPort is the slice of the stock ledger the fulfillment flow uses.
type LedgerPort interface {
	InTx(ctx context.Context, fn func(ctx context.Context, p ledger.Poster) error) error
}

// OrderStore persists sales orders.
type OrderStore interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*Order, error)
	List(ctx context.Context, tenantID uuid.UUID, status Status, p shared.Pagination) ([]Order, int, error)
	MarkAllocated(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, at time.Time) error
	MarkShipped(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, at time.Time) error
	MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error
}

// IdempotencyPort guards retried allocation and shipment requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service drives the sales order lifecycle.
type Service struct {
	orders OrderStore
	ledger LedgerPort
	idem   IdempotencyPort
	logger *slog.Logger
}

// NewService wires the fulfillment service.
func NewService(orders OrderStore, ledgerPort LedgerPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	return &Service{orders: orders, ledger: ledgerPort, idem: idem, logger: logger}
}

// Create opens a pending order.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if len(in.Lines) == 0 {
		return nil, ErrEmptyOrder
	}
	seen := make(map[uuid.UUID]struct{}, len(in.Lines))
	o := &Order{
		ID:          uuid.New(),
		TenantID:    in.TenantID,
		CustomerRef: in.CustomerRef,
		WarehouseID: in.WarehouseID,
		Status:      StatusPending,
		Notes:       in.Notes,
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
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Allocate reserves stock for every line, all-or-nothing. A shortage on any
// line fails the whole order with a per-SKU report and leaves no reservations
// behind.
func (s *Service) Allocate(ctx context.Context, tenantID, orderID, actorID uuid.UUID, requestID string) (*Order, error) {
	return s.transition(ctx, requestID, func(ctx context.Context, p ledger.Poster) (*Order, error) {
		o, err := s.orders.GetForUpdate(ctx, p.Tx(), tenantID, orderID)
		if err != nil {
			return nil, err
		}
		if o.Status != StatusPending {
			return nil, fmt.Errorf("%w: cannot allocate order in %s", ErrInvalidStatus, o.Status)
		}

		// Pre-check every line before posting anything so the caller gets the
		// complete shortage picture, not just the first failing line.
		var shortages []Shortage
		for _, line := range o.Lines {
			available, err := p.Balance(ctx, ledger.StockKey{
				TenantID:    tenantID,
				SKUID:       line.SKUID,
				WarehouseID: o.WarehouseID,
			})
			if err != nil {
				return nil, err
			}
			if available.LessThan(line.Quantity) {
				shortages = append(shortages, Shortage{
					SKUID:     line.SKUID,
					Requested: line.Quantity,
					Available: available,
					Short:     line.Quantity.Sub(available),
				})
			}
		}
		if len(shortages) > 0 {
			return nil, &ShortageError{Shortages: shortages}
		}

		for _, line := range o.Lines {
			if _, err := p.Post(ctx, lineEvent(o, line, ledger.EventReserveOut, line.Quantity.Neg(), actorID)); err != nil {
				return nil, err
			}
		}
		now := time.Now().UTC()
		if err := s.orders.MarkAllocated(ctx, p.Tx(), tenantID, orderID, now); err != nil {
			return nil, err
		}
		o.Status = StatusProcessing
		o.AllocatedAt = &now
		return o, nil
	})
}

// Ship converts reservations into physical depletion: per line, RESERVE_IN
// releases the hold and SHIP_OUT depletes the stock.
func (s *Service) Ship(ctx context.Context, tenantID, orderID, actorID uuid.UUID, requestID string) (*Order, error) {
	return s.transition(ctx, requestID, func(ctx context.Context, p ledger.Poster) (*Order, error) {
		o, err := s.orders.GetForUpdate(ctx, p.Tx(), tenantID, orderID)
		if err != nil {
			return nil, err
		}
		if o.Status != StatusProcessing {
			return nil, fmt.Errorf("%w: cannot ship order in %s", ErrInvalidStatus, o.Status)
		}
		for _, line := range o.Lines {
			if _, err := p.Post(ctx, lineEvent(o, line, ledger.EventReserveIn, line.Quantity, actorID)); err != nil {
				return nil, err
			}
			if _, err := p.Post(ctx, lineEvent(o, line, ledger.EventShipOut, line.Quantity.Neg(), actorID)); err != nil {
				return nil, err
			}
		}
		now := time.Now().UTC()
		if err := s.orders.MarkShipped(ctx, p.Tx(), tenantID, orderID, now); err != nil {
			return nil, err
		}
		o.Status = StatusShipped
		o.ShippedAt = &now
		for i := range o.Lines {
			o.Lines[i].FulfilledQty = o.Lines[i].Quantity
		}
		return o, nil
	})
}

// Cancel aborts an order. A processing order releases its reservations.
func (s *Service) Cancel(ctx context.Context, tenantID, orderID, actorID uuid.UUID) (*Order, error) {
	return s.transition(ctx, "", func(ctx context.Context, p ledger.Poster) (*Order, error) {
		o, err := s.orders.GetForUpdate(ctx, p.Tx(), tenantID, orderID)
		if err != nil {
			return nil, err
		}
		switch o.Status {
		case StatusPending:
		case StatusProcessing:
			for _, line := range o.Lines {
				if _, err := p.Post(ctx, lineEvent(o, line, ledger.EventReserveIn, line.Quantity, actorID)); err != nil {
					return nil, err
				}
			}
		default:
			return nil, fmt.Errorf("%w: cannot cancel order in %s", ErrInvalidStatus, o.Status)
		}
		if err := s.orders.MarkCancelled(ctx, p.Tx(), tenantID, orderID); err != nil {
			return nil, err
		}
		o.Status = StatusCancelled
		return o, nil
	})
}

// GetByID returns one order with lines.
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

func (s *Service) transition(ctx context.Context, requestID string, fn func(ctx context.Context, p ledger.Poster) (*Order, error)) (*Order, error) {
	if requestID != "" {
		if err := s.idem.CheckAndInsert(ctx, requestID, "fulfillment"); err != nil {
			return nil, err
		}
	}
	var result *Order
	err := s.ledger.InTx(ctx, func(ctx context.Context, p ledger.Poster) error {
		o, err := fn(ctx, p)
		if err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		if requestID != "" {
			if delErr := s.idem.Delete(ctx, requestID); delErr != nil {
				s.logger.Error("idempotency rollback failed", "request_id", requestID, "error", delErr)
			}
		}
		return nil, err
	}
	return result, nil
}

func lineEvent(o *Order, line Line, eventType ledger.EventType, delta decimal.Decimal, actorID uuid.UUID) ledger.EventInput {
	ref := o.ID
	actor := actorID
	return ledger.EventInput{
		TenantID:      o.TenantID,
		SKUID:         line.SKUID,
		WarehouseID:   o.WarehouseID,
		EventType:     eventType,
		QuantityDelta: delta,
		ReferenceID:   &ref,
		ActorID:       &actor,
	}
}
