package transfers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/shared"
)

type fakeLedger struct {
	balances map[ledger.StockKey]decimal.Decimal
	events   []ledger.Event
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[ledger.StockKey]decimal.Decimal{}}
}

func (l *fakeLedger) InTx(ctx context.Context, fn func(ctx context.Context, p ledger.Poster) error) error {
	p := &fakePoster{ledger: l, pending: map[ledger.StockKey]decimal.Decimal{}}
	if err := fn(ctx, p); err != nil {
		return err
	}
	for key, delta := range p.pending {
		l.balances[key] = l.balances[key].Add(delta)
	}
	l.events = append(l.events, p.events...)
	return nil
}

type fakePoster struct {
	ledger  *fakeLedger
	pending map[ledger.StockKey]decimal.Decimal
	events  []ledger.Event
}

func (p *fakePoster) Post(ctx context.Context, in ledger.EventInput) (*ledger.Event, error) {
	key := ledger.StockKey{TenantID: in.TenantID, SKUID: in.SKUID, WarehouseID: in.WarehouseID}
	balance := p.ledger.balances[key].Add(p.pending[key])
	if wouldBe := balance.Add(in.QuantityDelta); wouldBe.IsNegative() {
		return nil, &ledger.NegativeBalanceError{
			SKUID: in.SKUID, WarehouseID: in.WarehouseID,
			Requested: in.QuantityDelta, Available: balance, WouldBe: wouldBe,
		}
	}
	p.pending[key] = p.pending[key].Add(in.QuantityDelta)
	e := ledger.Event{
		ID: uuid.New(), TenantID: in.TenantID, SKUID: in.SKUID, WarehouseID: in.WarehouseID,
		EventType: in.EventType, QuantityDelta: in.QuantityDelta, ReferenceID: in.ReferenceID,
	}
	p.events = append(p.events, e)
	return &e, nil
}

func (p *fakePoster) Balance(ctx context.Context, key ledger.StockKey) (decimal.Decimal, error) {
	return p.ledger.balances[key].Add(p.pending[key]), nil
}

func (p *fakePoster) Tx() pgx.Tx { return nil }

type memOrders struct {
	orders map[uuid.UUID]*Order
}

func newMemOrders() *memOrders { return &memOrders{orders: map[uuid.UUID]*Order{}} }

func (m *memOrders) CreateInTx(ctx context.Context, tx pgx.Tx, o *Order) error {
	cp := *o
	cp.Lines = append([]Line(nil), o.Lines...)
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error) {
	o, ok := m.orders[id]
	if !ok || o.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Lines = append([]Line(nil), o.Lines...)
	return &cp, nil
}

func (m *memOrders) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*Order, error) {
	return m.GetByID(ctx, tenantID, id)
}

func (m *memOrders) List(ctx context.Context, tenantID uuid.UUID, status Status, p shared.Pagination) ([]Order, int, error) {
	var out []Order
	for _, o := range m.orders {
		if o.TenantID == tenantID && (status == "" || o.Status == status) {
			out = append(out, *o)
		}
	}
	return out, len(out), nil
}

func (m *memOrders) MarkConfirmed(ctx context.Context, tx pgx.Tx, o *Order, at time.Time) error {
	cp := *o
	cp.Status = StatusCompleted
	cp.ConfirmedAt = &at
	cp.Lines = append([]Line(nil), o.Lines...)
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error {
	m.orders[id].Status = StatusCancelled
	return nil
}

type fixture struct {
	service *Service
	ledger  *fakeLedger
	tenant  uuid.UUID
	actor   uuid.UUID
	source  uuid.UUID
	dest    uuid.UUID
	sku     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: newFakeLedger(),
		tenant: uuid.New(),
		actor:  uuid.New(),
		source: uuid.New(),
		dest:   uuid.New(),
		sku:    uuid.New(),
	}
	f.service = NewService(newMemOrders(), f.ledger, slog.New(slog.DiscardHandler))
	return f
}

func (f *fixture) sourceKey() ledger.StockKey {
	return ledger.StockKey{TenantID: f.tenant, SKUID: f.sku, WarehouseID: f.source}
}

func (f *fixture) destKey() ledger.StockKey {
	return ledger.StockKey{TenantID: f.tenant, SKUID: f.sku, WarehouseID: f.dest}
}

func (f *fixture) dispatch(t *testing.T, quantity string) *Order {
	t.Helper()
	o, err := f.service.Create(context.Background(), CreateInput{
		TenantID:          f.tenant,
		ActorID:           f.actor,
		SourceWarehouseID: f.source,
		DestWarehouseID:   f.dest,
		Lines:             []LineInput{{SKUID: f.sku, Quantity: decimal.RequireFromString(quantity)}},
	})
	require.NoError(t, err)
	return o
}

func TestCreateDispatchesFromSource(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.sourceKey()] = decimal.NewFromInt(10)

	o := f.dispatch(t, "6")
	require.Equal(t, StatusInTransit, o.Status)
	require.True(t, f.ledger.balances[f.sourceKey()].Equal(decimal.NewFromInt(4)))
	require.True(t, f.ledger.balances[f.destKey()].IsZero(), "stock must not arrive before confirmation")
	require.Equal(t, ledger.EventTransferOut, f.ledger.events[0].EventType)
}

func TestCreateRejectsSameWarehouse(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Create(context.Background(), CreateInput{
		TenantID:          f.tenant,
		SourceWarehouseID: f.source,
		DestWarehouseID:   f.source,
		Lines:             []LineInput{{SKUID: f.sku, Quantity: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, ErrSameWarehouse)
}

func TestCreateFailsOnInsufficientSourceStock(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.sourceKey()] = decimal.NewFromInt(5)

	_, err := f.service.Create(context.Background(), CreateInput{
		TenantID:          f.tenant,
		SourceWarehouseID: f.source,
		DestWarehouseID:   f.dest,
		Lines:             []LineInput{{SKUID: f.sku, Quantity: decimal.NewFromInt(6)}},
	})
	require.ErrorIs(t, err, ledger.ErrNegativeBalance)
	require.True(t, f.ledger.balances[f.sourceKey()].Equal(decimal.NewFromInt(5)))
}

func TestConfirmFullReceipt(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.sourceKey()] = decimal.NewFromInt(10)
	o := f.dispatch(t, "6")

	confirmed, err := f.service.Confirm(context.Background(), ConfirmInput{
		TenantID: f.tenant, ActorID: f.actor, OrderID: o.ID,
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, confirmed.Status)
	require.True(t, confirmed.Lines[0].ReceivedQty.Equal(decimal.NewFromInt(6)))
	require.True(t, f.ledger.balances[f.destKey()].Equal(decimal.NewFromInt(6)))
}

func TestConfirmPartialReceiptRecordsDiscrepancy(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.sourceKey()] = decimal.NewFromInt(10)
	o := f.dispatch(t, "6")

	confirmed, err := f.service.Confirm(context.Background(), ConfirmInput{
		TenantID: f.tenant, ActorID: f.actor, OrderID: o.ID,
		Received: map[uuid.UUID]decimal.Decimal{f.sku: decimal.NewFromInt(4)},
	})
	require.NoError(t, err)
	require.True(t, confirmed.Lines[0].ReceivedQty.Equal(decimal.NewFromInt(4)))
	require.True(t, f.ledger.balances[f.destKey()].Equal(decimal.NewFromInt(4)))
	// The 2 lost units stay off both balances until someone adjusts.
	require.True(t, f.ledger.balances[f.sourceKey()].Equal(decimal.NewFromInt(4)))
}

func TestConfirmRejectsOverReceipt(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.sourceKey()] = decimal.NewFromInt(10)
	o := f.dispatch(t, "6")

	_, err := f.service.Confirm(context.Background(), ConfirmInput{
		TenantID: f.tenant, OrderID: o.ID,
		Received: map[uuid.UUID]decimal.Decimal{f.sku: decimal.NewFromInt(7)},
	})
	require.ErrorIs(t, err, ErrOverReceived)
	require.True(t, f.ledger.balances[f.destKey()].IsZero())
}

func TestConfirmTwiceRejected(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.sourceKey()] = decimal.NewFromInt(10)
	o := f.dispatch(t, "6")

	_, err := f.service.Confirm(context.Background(), ConfirmInput{TenantID: f.tenant, OrderID: o.ID})
	require.NoError(t, err)
	_, err = f.service.Confirm(context.Background(), ConfirmInput{TenantID: f.tenant, OrderID: o.ID})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCancelReturnsStockToSource(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.sourceKey()] = decimal.NewFromInt(10)
	o := f.dispatch(t, "6")

	cancelled, err := f.service.Cancel(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.True(t, f.ledger.balances[f.sourceKey()].Equal(decimal.NewFromInt(10)))
	require.True(t, f.ledger.balances[f.destKey()].IsZero())
}
