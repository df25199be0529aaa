package procurement

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
	p.pending[key] = p.pending[key].Add(in.QuantityDelta)
	e := ledger.Event{
		ID: uuid.New(), TenantID: in.TenantID, SKUID: in.SKUID, WarehouseID: in.WarehouseID,
		EventType: in.EventType, QuantityDelta: in.QuantityDelta,
		ReferenceID: in.ReferenceID, UnitCostSnapshot: in.UnitCostSnapshot,
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

func clone(o *Order) *Order {
	cp := *o
	cp.Lines = append([]Line(nil), o.Lines...)
	return &cp
}

func (m *memOrders) Create(ctx context.Context, o *Order) error {
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *memOrders) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Order, error) {
	o, ok := m.orders[id]
	if !ok || o.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return clone(o), nil
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

func (m *memOrders) ApplyReceipt(ctx context.Context, tx pgx.Tx, o *Order, closedAt *time.Time) error {
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *memOrders) MarkCancelled(ctx context.Context, tenantID, id uuid.UUID) error {
	m.orders[id].Status = StatusCancelled
	return nil
}

type memIdem struct{ keys map[string]bool }

func (s *memIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *memIdem) Delete(ctx context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

type fixture struct {
	service   *Service
	ledger    *fakeLedger
	tenant    uuid.UUID
	actor     uuid.UUID
	warehouse uuid.UUID
	sku       uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    newFakeLedger(),
		tenant:    uuid.New(),
		actor:     uuid.New(),
		warehouse: uuid.New(),
		sku:       uuid.New(),
	}
	f.service = NewService(newMemOrders(), f.ledger, &memIdem{keys: map[string]bool{}}, slog.New(slog.DiscardHandler))
	return f
}

func (f *fixture) key() ledger.StockKey {
	return ledger.StockKey{TenantID: f.tenant, SKUID: f.sku, WarehouseID: f.warehouse}
}

func (f *fixture) createOrder(t *testing.T, quantity, unitCost string) *Order {
	t.Helper()
	o, err := f.service.Create(context.Background(), CreateInput{
		TenantID:    f.tenant,
		ActorID:     f.actor,
		SupplierRef: "PO-2001",
		WarehouseID: f.warehouse,
		Lines: []LineInput{{
			SKUID:    f.sku,
			Quantity: decimal.RequireFromString(quantity),
			UnitCost: decimal.RequireFromString(unitCost),
		}},
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) receive(t *testing.T, orderID uuid.UUID, quantity string) (*Order, error) {
	t.Helper()
	return f.service.Receive(context.Background(), ReceiveInput{
		TenantID: f.tenant,
		ActorID:  f.actor,
		OrderID:  orderID,
		Receipts: map[uuid.UUID]decimal.Decimal{f.sku: decimal.RequireFromString(quantity)},
	}, "")
}

func TestReceiveFullClosesOrder(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "10", "2.5")

	received, err := f.receive(t, o.ID, "10")
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)
	require.NotNil(t, received.ClosedAt)
	require.True(t, received.Lines[0].ReceivedQty.Equal(decimal.NewFromInt(10)))

	require.True(t, f.ledger.balances[f.key()].Equal(decimal.NewFromInt(10)))
	require.Len(t, f.ledger.events, 1)
	require.Equal(t, ledger.EventReceive, f.ledger.events[0].EventType)
	require.True(t, f.ledger.events[0].UnitCostSnapshot.Equal(decimal.RequireFromString("2.5")))
	require.Equal(t, o.ID, *f.ledger.events[0].ReferenceID)
}

func TestReceivePartialKeepsOrderOpen(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "10", "2.5")

	received, err := f.receive(t, o.ID, "4")
	require.NoError(t, err)
	require.Equal(t, StatusPartial, received.Status)
	require.Nil(t, received.ClosedAt)
	require.True(t, received.Lines[0].Remaining().Equal(decimal.NewFromInt(6)))

	received, err = f.receive(t, o.ID, "6")
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)
	require.True(t, f.ledger.balances[f.key()].Equal(decimal.NewFromInt(10)))
}

func TestReceiveRejectsOverReceipt(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "10", "2.5")

	_, err := f.receive(t, o.ID, "4")
	require.NoError(t, err)
	_, err = f.receive(t, o.ID, "7")
	require.ErrorIs(t, err, ErrOverReceive)
	require.True(t, f.ledger.balances[f.key()].Equal(decimal.NewFromInt(4)), "failed receipt must post nothing")
}

func TestReceiveRejectsUnknownSKU(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "10", "2.5")

	_, err := f.service.Receive(context.Background(), ReceiveInput{
		TenantID: f.tenant,
		OrderID:  o.ID,
		Receipts: map[uuid.UUID]decimal.Decimal{uuid.New(): decimal.NewFromInt(1)},
	}, "")
	require.ErrorIs(t, err, ErrUnknownSKU)
}

func TestReceiveRejectsClosedOrder(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "10", "2.5")

	_, err := f.receive(t, o.ID, "10")
	require.NoError(t, err)
	_, err = f.receive(t, o.ID, "1")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestReceiveIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "10", "2.5")

	in := ReceiveInput{
		TenantID: f.tenant,
		OrderID:  o.ID,
		Receipts: map[uuid.UUID]decimal.Decimal{f.sku: decimal.NewFromInt(4)},
	}
	_, err := f.service.Receive(context.Background(), in, "rcv-1")
	require.NoError(t, err)
	_, err = f.service.Receive(context.Background(), in, "rcv-1")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.True(t, f.ledger.balances[f.key()].Equal(decimal.NewFromInt(4)))
}

func TestCancelOnlyBeforeReceipts(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, "10", "2.5")

	_, err := f.receive(t, o.ID, "4")
	require.NoError(t, err)
	_, err = f.service.Cancel(context.Background(), f.tenant, o.ID)
	require.ErrorIs(t, err, ErrInvalidStatus)

	o2 := f.createOrder(t, "5", "1")
	cancelled, err := f.service.Cancel(context.Background(), f.tenant, o2.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
}
