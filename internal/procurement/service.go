package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/shared"
)

// LedgerPort is the slice of the stock ledger the procurement flow uses.
type LedgerPort interface {
	InTx(ctx context.Context, fn func(ctx context.Context, p ledger.Poster) error) error
}

// OrderStore persists purchase orders.
type OrderStore interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*Order, error)
	List(ctx context.Context, tenantID uuid.UUID, status Status, p shared.Pagination) ([]Order, int, error)
	ApplyReceipt(ctx context.Context, tx pgx.Tx, o *Order, closedAt *time.Time) error
	MarkCancelled(ctx context.Context, tenantID, id uuid.UUID) error
}

// IdempotencyPort guards retried receive calls.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service drives the purchase order lifecycle.
type Service struct {
	orders OrderStore
	ledger LedgerPort
	idem   IdempotencyPort
	logger *slog.Logger
}

// NewService wires the procurement service.
func NewService(orders OrderStore, ledgerPort LedgerPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	return &Service{orders: orders, ledger: ledgerPort, idem: idem, logger: logger}
}

// Create opens a purchase order.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if len(in.Lines) == 0 {
		return nil, ErrEmptyOrder
	}
	seen := make(map[uuid.UUID]struct{}, len(in.Lines))
	o := &Order{
		ID:          uuid.New(),
		TenantID:    in.TenantID,
		SupplierRef: in.SupplierRef,
		WarehouseID: in.WarehouseID,
		Status:      StatusOpen,
		Notes:       in.Notes,
	}
	for _, line := range in.Lines {
		if line.SKUID == uuid.Nil || !line.Quantity.IsPositive() || line.UnitCost.IsNegative() {
			return nil, ErrInvalidLine
		}
		if _, dup := seen[line.SKUID]; dup {
			return nil, fmt.Errorf("%w: duplicate sku %s", ErrInvalidLine, line.SKUID)
		}
		seen[line.SKUID] = struct{}{}
		o.Lines = append(o.Lines, Line{
			ID:       uuid.New(),
			SKUID:    line.SKUID,
			Quantity: line.Quantity,
			UnitCost: line.UnitCost,
		})
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Receive books an inbound delivery: one RECEIVE event per received line with
// the PO's unit cost as the cost snapshot, plus per-line received_qty
// bookkeeping. The order closes when every line is fully received.
func (s *Service) Receive(ctx context.Context, in ReceiveInput, requestID string) (*Order, error) {
	if len(in.Receipts) == 0 {
		return nil, ErrEmptyReceipt
	}
	if requestID != "" {
		if err := s.idem.CheckAndInsert(ctx, requestID, "procurement"); err != nil {
			return nil, err
		}
	}
	var received *Order
	err := s.ledger.InTx(ctx, func(ctx context.Context, p ledger.Poster) error {
		o, err := s.orders.GetForUpdate(ctx, p.Tx(), in.TenantID, in.OrderID)
		if err != nil {
			return err
		}
		if o.Status != StatusOpen && o.Status != StatusPartial {
			return fmt.Errorf("%w: cannot receive against order in %s", ErrInvalidStatus, o.Status)
		}

		lineBySKU := make(map[uuid.UUID]*Line, len(o.Lines))
		for i := range o.Lines {
			lineBySKU[o.Lines[i].SKUID] = &o.Lines[i]
		}
		for skuID, qty := range in.Receipts {
			line, ok := lineBySKU[skuID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownSKU, skuID)
			}
			if !qty.IsPositive() {
				return fmt.Errorf("%w: sku %s", ErrInvalidLine, skuID)
			}
			if qty.GreaterThan(line.Remaining()) {
				return fmt.Errorf("%w: sku %s has %s remaining", ErrOverReceive, skuID, line.Remaining())
			}
			cost := line.UnitCost
			ref := o.ID
			actor := in.ActorID
			if _, err := p.Post(ctx, ledger.EventInput{
				TenantID:         in.TenantID,
				SKUID:            skuID,
				WarehouseID:      o.WarehouseID,
				EventType:        ledger.EventReceive,
				QuantityDelta:    qty,
				ReferenceID:      &ref,
				ActorID:          &actor,
				UnitCostSnapshot: &cost,
			}); err != nil {
				return err
			}
			line.ReceivedQty = line.ReceivedQty.Add(qty)
		}

		o.Status = StatusReceived
		var closedAt *time.Time
		for _, line := range o.Lines {
			if line.Remaining().IsPositive() {
				o.Status = StatusPartial
				break
			}
		}
		if o.Status == StatusReceived {
			now := time.Now().UTC()
			closedAt = &now
			o.ClosedAt = closedAt
		}
		if err := s.orders.ApplyReceipt(ctx, p.Tx(), o, closedAt); err != nil {
			return err
		}
		received = o
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
	return received, nil
}

// Cancel closes an order that has not received anything yet.
func (s *Service) Cancel(ctx context.Context, tenantID, orderID uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusOpen {
		return nil, fmt.Errorf("%w: cannot cancel order in %s", ErrInvalidStatus, o.Status)
	}
	if err := s.orders.MarkCancelled(ctx, tenantID, orderID); err != nil {
		return nil, err
	}
	o.Status = StatusCancelled
	return o, nil
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
