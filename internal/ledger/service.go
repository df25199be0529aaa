package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/nexus-ims/nexus/internal/shared"
)

// Store is the persistence port used by the service.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error
	SumBalance(ctx context.Context, tenantID, skuID, warehouseID uuid.UUID) (decimal.Decimal, error)
	History(ctx context.Context, tenantID uuid.UUID, f HistoryFilter, p shared.Pagination) ([]EventWithBalance, int, error)
}

// WarehousePort answers whether a warehouse is active for a tenant.
type WarehousePort interface {
	ActiveExists(ctx context.Context, tenantID, warehouseID uuid.UUID) (bool, error)
}

// IdempotencyPort guards retried posts.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort records ledger activity.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the single write path into the stock ledger and the read path for
// balances and history. All stock mutations in the system flow through it.
type Service struct {
	store      Store
	cache      BalanceCache
	warehouses WarehousePort
	idem       IdempotencyPort
	audit      AuditPort
	logger     *slog.Logger
	group      singleflight.Group
}

// NewService wires the ledger service.
func NewService(store Store, cache BalanceCache, warehouses WarehousePort, idem IdempotencyPort, audit AuditPort, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NoopBalanceCache{}
	}
	return &Service{
		store:      store,
		cache:      cache,
		warehouses: warehouses,
		idem:       idem,
		audit:      audit,
		logger:     logger,
	}
}

// GetStockLevel returns the current balance for one stock key, read-through
// cached. Concurrent misses for the same key are collapsed into one ledger
// scan.
func (s *Service) GetStockLevel(ctx context.Context, key StockKey) (decimal.Decimal, error) {
	if balance, ok, _ := s.cache.Get(ctx, key); ok {
		return balance, nil
	}
	v, err, _ := s.group.Do(flightKey(key), func() (any, error) {
		balance, err := s.store.SumBalance(ctx, key.TenantID, key.SKUID, key.WarehouseID)
		if err != nil {
			return decimal.Zero, err
		}
		if err := s.cache.Set(ctx, key, balance); err != nil {
			s.logger.Warn("balance cache set failed", "error", err)
		}
		return balance, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func flightKey(key StockKey) string {
	return key.TenantID.String() + ":" + key.SKUID.String() + ":" + key.WarehouseID.String()
}

// PostEvent validates, guards and appends one event in its own transaction,
// then synchronously invalidates the key's cached balance.
func (s *Service) PostEvent(ctx context.Context, in EventInput) (*Event, error) {
	if err := s.validate(ctx, in); err != nil {
		return nil, err
	}
	if in.RequestID != "" {
		if err := s.idem.CheckAndInsert(ctx, in.RequestID, "ledger"); err != nil {
			return nil, err
		}
	}

	var event *Event
	err := s.store.InTx(ctx, func(ctx context.Context, tx StoreTx) error {
		e, err := appendGuarded(ctx, tx, in)
		if err != nil {
			return err
		}
		event = e
		return nil
	})
	if err != nil {
		if in.RequestID != "" {
			if delErr := s.idem.Delete(ctx, in.RequestID); delErr != nil {
				s.logger.Error("idempotency rollback failed", "request_id", in.RequestID, "error", delErr)
			}
		}
		return nil, err
	}

	s.invalidate(ctx, StockKey{TenantID: in.TenantID, SKUID: in.SKUID, WarehouseID: in.WarehouseID})
	s.recordAudit(ctx, event)
	return event, nil
}

// Poster is the surface handed to InTx callbacks. Reservation flows post
// events through it and reach the open transaction for their own row updates.
type Poster interface {
	Post(ctx context.Context, in EventInput) (*Event, error)
	Balance(ctx context.Context, key StockKey) (decimal.Decimal, error)
	Tx() pgx.Tx
}

// InTx opens one ledger transaction and hands the callback a Poster. Every
// event posted through it and every row touched via its Tx commit or roll back
// together; cache invalidation for all touched keys happens after commit.
func (s *Service) InTx(ctx context.Context, fn func(ctx context.Context, p Poster) error) error {
	var (
		touched []StockKey
		posted  []*Event
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx StoreTx) error {
		p := &TxPoster{svc: s, tx: tx}
		if err := fn(ctx, p); err != nil {
			return err
		}
		touched = p.touched
		posted = p.posted
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, touched...)
	for _, e := range posted {
		s.recordAudit(ctx, e)
	}
	return nil
}

// GetTransactionHistory pages through the filtered event stream with running
// balances.
func (s *Service) GetTransactionHistory(ctx context.Context, tenantID uuid.UUID, f HistoryFilter, page, perPage int) ([]EventWithBalance, shared.Pagination, error) {
	if f.EventType != "" && !f.EventType.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("%w: %q", ErrUnknownEventType, f.EventType)
	}
	p := shared.NewPagination(page, perPage, 0)
	events, total, err := s.store.History(ctx, tenantID, f, p)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return events, shared.NewPagination(p.Page, p.PerPage, total), nil
}

func (s *Service) validate(ctx context.Context, in EventInput) error {
	if !in.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, in.EventType)
	}
	if in.QuantityDelta.IsZero() {
		return ErrInvalidQuantity
	}
	if in.TenantID == uuid.Nil || in.SKUID == uuid.Nil || in.WarehouseID == uuid.Nil {
		return errors.New("ledger: tenant, sku and warehouse are required")
	}
	active, err := s.warehouses.ActiveExists(ctx, in.TenantID, in.WarehouseID)
	if err != nil {
		return fmt.Errorf("ledger: check warehouse: %w", err)
	}
	if !active {
		return ErrWarehouseNotFound
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, keys ...StockKey) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		// TTL bounds the staleness window when this fails.
		s.logger.Error("balance cache invalidation failed", "keys", len(keys), "error", err)
	}
}

func (s *Service) recordAudit(ctx context.Context, e *Event) {
	if s.audit == nil {
		return
	}
	var actor uuid.UUID
	if e.ActorID != nil {
		actor = *e.ActorID
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: e.TenantID,
		ActorID:  actor,
		Action:   "stock.event_posted",
		Entity:   "stock_ledger",
		EntityID: e.ID.String(),
		Meta: map[string]any{
			"event_type":     string(e.EventType),
			"sku_id":         e.SKUID.String(),
			"warehouse_id":   e.WarehouseID.String(),
			"quantity_delta": e.QuantityDelta.String(),
		},
	})
	if err != nil {
		s.logger.Error("audit record failed", "event_id", e.ID, "error", err)
	}
}

// appendGuarded runs the service-level negative-balance pre-check and appends.
// The pre-check gives precise shortfall errors in the common case; the table
// trigger remains the backstop for the race between concurrent depletors.
func appendGuarded(ctx context.Context, tx StoreTx, in EventInput) (*Event, error) {
	if in.QuantityDelta.IsNegative() {
		available, err := tx.SumBalance(ctx, in.TenantID, in.SKUID, in.WarehouseID)
		if err != nil {
			return nil, err
		}
		if wouldBe := available.Add(in.QuantityDelta); wouldBe.IsNegative() {
			return nil, &NegativeBalanceError{
				SKUID:       in.SKUID,
				WarehouseID: in.WarehouseID,
				Requested:   in.QuantityDelta,
				Available:   available,
				WouldBe:     wouldBe,
			}
		}
	}
	e := &Event{
		ID:               uuid.New(),
		TenantID:         in.TenantID,
		SKUID:            in.SKUID,
		WarehouseID:      in.WarehouseID,
		LocationID:       in.LocationID,
		EventType:        in.EventType,
		QuantityDelta:    in.QuantityDelta,
		ReferenceID:      in.ReferenceID,
		ActorID:          in.ActorID,
		Notes:            in.Notes,
		ReasonCode:       in.ReasonCode,
		UnitCostSnapshot: in.UnitCostSnapshot,
		CreatedAt:        time.Now().UTC(),
	}
	if err := tx.Append(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// TxPoster posts events inside an open ledger transaction. Reservation flows
// use it to keep order-row updates and their compensating events atomic.
type TxPoster struct {
	svc     *Service
	tx      StoreTx
	touched []StockKey
	posted  []*Event
}

// Post validates, guards and appends one event inside the open transaction.
// The guard sees events posted earlier in the same transaction, so a batch
// that collectively over-depletes a key fails on the offending line.
func (p *TxPoster) Post(ctx context.Context, in EventInput) (*Event, error) {
	if err := p.svc.validate(ctx, in); err != nil {
		return nil, err
	}
	e, err := appendGuarded(ctx, p.tx, in)
	if err != nil {
		return nil, err
	}
	p.touched = append(p.touched, StockKey{TenantID: in.TenantID, SKUID: in.SKUID, WarehouseID: in.WarehouseID})
	p.posted = append(p.posted, e)
	return e, nil
}

// Balance reads the key's balance as of the open transaction, including events
// posted through this poster.
func (p *TxPoster) Balance(ctx context.Context, key StockKey) (decimal.Decimal, error) {
	return p.tx.SumBalance(ctx, key.TenantID, key.SKUID, key.WarehouseID)
}

// Tx exposes the underlying transaction for order-row updates that must commit
// with the posted events.
func (p *TxPoster) Tx() pgx.Tx {
	return p.tx.Tx()
}
