package fulfillment

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

func (l *fakeLedger) seed(key ledger.StockKey, qty string) {
	l.balances[key] = decimal.RequireFromString(qty)
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

func (l *fakeLedger) eventsOfType(t ledger.EventType) []ledger.Event {
	var out []ledger.Event
	for _, e := range l.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
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
			SKUID:       in.SKUID,
			WarehouseID: in.WarehouseID,
			Requested:   in.QuantityDelta,
			Available:   balance,
			WouldBe:     wouldBe,
		}
	}
	p.pending[key] = p.pending[key].Add(in.QuantityDelta)
	e := ledger.Event{
		ID:            uuid.New(),
		TenantID:      in.TenantID,
		SKUID:         in.SKUID,
		WarehouseID:   in.WarehouseID,
		EventType:     in.EventType,
		QuantityDelta: in.QuantityDelta,
		ReferenceID:   in.ReferenceID,
		ActorID:       in.ActorID,
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

func (m *memOrders) Create(ctx context.Context, o *Order) error {
	cp := *o
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

func (m *memOrders) MarkAllocated(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, at time.Time) error {
	o := m.orders[id]
	o.Status = StatusProcessing
	o.AllocatedAt = &at
	return nil
}

func (m *memOrders) MarkShipped(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, at time.Time) error {
	o := m.orders[id]
	o.Status = StatusShipped
	o.ShippedAt = &at
	for i := range o.Lines {
		o.Lines[i].FulfilledQty = o.Lines[i].Quantity
	}
	return nil
}

func (m *memOrders) MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error {
	m.orders[id].Status = StatusCancelled
	return nil
}

type memIdem struct {
	keys map[string]bool
}

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
	orders    *memOrders
	tenant    uuid.UUID
	actor     uuid.UUID
	warehouse uuid.UUID
	skuA      uuid.UUID
	skuB      uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    newFakeLedger(),
		orders:    newMemOrders(),
		tenant:    uuid.New(),
		actor:     uuid.New(),
		warehouse: uuid.New(),
		skuA:      uuid.New(),
		skuB:      uuid.New(),
	}
	f.service = NewService(f.orders, f.ledger, &memIdem{keys: map[string]bool{}}, slog.New(slog.DiscardHandler))
	return f
}

func (f *fixture) key(sku uuid.UUID) ledger.StockKey {
	return ledger.StockKey{TenantID: f.tenant, SKUID: sku, WarehouseID: f.warehouse}
}

func (f *fixture) createOrder(t *testing.T, lines ...LineInput) *Order {
	t.Helper()
	o, err := f.service.Create(context.Background(), CreateInput{
		TenantID:    f.tenant,
		ActorID:     f.actor,
		CustomerRef: "SO-1001",
		WarehouseID: f.warehouse,
		Lines:       lines,
	})
	require.NoError(t, err)
	return o
}

func qty(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestCreateRejectsEmptyAndInvalidLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, CreateInput{TenantID: f.tenant, CustomerRef: "SO-1", WarehouseID: f.warehouse})
	require.ErrorIs(t, err, ErrEmptyOrder)

	_, err = f.service.Create(ctx, CreateInput{TenantID: f.tenant, CustomerRef: "SO-1", WarehouseID: f.warehouse,
		Lines: []LineInput{{SKUID: f.skuA, Quantity: qty("0")}}})
	require.ErrorIs(t, err, ErrInvalidLine)

	_, err = f.service.Create(ctx, CreateInput{TenantID: f.tenant, CustomerRef: "SO-1", WarehouseID: f.warehouse,
		Lines: []LineInput{{SKUID: f.skuA, Quantity: qty("1")}, {SKUID: f.skuA, Quantity: qty("2")}}})
	require.ErrorIs(t, err, ErrInvalidLine)
}

func TestAllocateReservesEveryLine(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.key(f.skuA), "10")
	f.ledger.seed(f.key(f.skuB), "5")
	o := f.createOrder(t, LineInput{SKUID: f.skuA, Quantity: qty("4")}, LineInput{SKUID: f.skuB, Quantity: qty("5")})

	allocated, err := f.service.Allocate(context.Background(), f.tenant, o.ID, f.actor, "")
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, allocated.Status)
	require.NotNil(t, allocated.AllocatedAt)

	reserves := f.ledger.eventsOfType(ledger.EventReserveOut)
	require.Len(t, reserves, 2)
	for _, e := range reserves {
		require.Equal(t, o.ID, *e.ReferenceID)
	}
	require.True(t, f.ledger.balances[f.key(f.skuB)].IsZero())
}

func TestAllocateAllOrNothingWithShortageReport(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.key(f.skuA), "10")
	f.ledger.seed(f.key(f.skuB), "3")
	o := f.createOrder(t, LineInput{SKUID: f.skuA, Quantity: qty("4")}, LineInput{SKUID: f.skuB, Quantity: qty("5")})

	_, err := f.service.Allocate(context.Background(), f.tenant, o.ID, f.actor, "")
	require.ErrorIs(t, err, ErrShortage)

	var shortage *ShortageError
	require.ErrorAs(t, err, &shortage)
	require.Len(t, shortage.Shortages, 1)
	require.Equal(t, f.skuB, shortage.Shortages[0].SKUID)
	require.True(t, shortage.Shortages[0].Short.Equal(qty("2")))

	// Nothing reserved, order untouched.
	require.Empty(t, f.ledger.events)
	require.True(t, f.ledger.balances[f.key(f.skuA)].Equal(qty("10")))
	got, err := f.service.GetByID(context.Background(), f.tenant, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestAllocateRequiresPending(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.key(f.skuA), "10")
	o := f.createOrder(t, LineInput{SKUID: f.skuA, Quantity: qty("4")})

	_, err := f.service.Allocate(context.Background(), f.tenant, o.ID, f.actor, "")
	require.NoError(t, err)
	_, err = f.service.Allocate(context.Background(), f.tenant, o.ID, f.actor, "")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAllocateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.key(f.skuA), "10")
	o := f.createOrder(t, LineInput{SKUID: f.skuA, Quantity: qty("4")})

	_, err := f.service.Allocate(context.Background(), f.tenant, o.ID, f.actor, "alloc-1")
	require.NoError(t, err)
	_, err = f.service.Allocate(context.Background(), f.tenant, o.ID, f.actor, "alloc-1")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestShipReleasesReservationAndDepletes(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.key(f.skuA), "10")
	o := f.createOrder(t, LineInput{SKUID: f.skuA, Quantity: qty("4")})

	_, err := f.service.Allocate(context.Background(), f.tenant, o.ID, f.actor, "")
	require.NoError(t, err)

	shipped, err := f.service.Ship(context.Background(), f.tenant, o.ID, f.actor, "")
	require.NoError(t, err)
	require.Equal(t, StatusShipped, shipped.Status)
	require.True(t, shipped.Lines[0].FulfilledQty.Equal(qty("4")))

	require.Len(t, f.ledger.eventsOfType(ledger.EventReserveIn), 1)
	require.Len(t, f.ledger.eventsOfType(ledger.EventShipOut), 1)
	// 10 - 4 reserved + 4 released - 4 shipped = 6.
	require.True(t, f.ledger.balances[f.key(f.skuA)].Equal(qty("6")))
}

func TestShipRequiresProcessing(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.key(f.skuA), "10")
	o := f.createOrder(t, LineInput{SKUID: f.skuA, Quantity: qty("4")})

	_, err := f.service.Ship(context.Background(), f.tenant, o.ID, f.actor, "")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCancelPendingPostsNoEvents(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, LineInput{SKUID: f.skuA, Quantity: qty("4")})

	cancelled, err := f.service.Cancel(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Empty(t, f.ledger.events)
}

func TestCancelProcessingReleasesReservations(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.key(f.skuA), "10")
	o := f.createOrder(t, LineInput{SKUID: f.skuA, Quantity: qty("4")})

	_, err := f.service.Allocate(context.Background(), f.tenant, o.ID, f.actor, "")
	require.NoError(t, err)
	require.True(t, f.ledger.balances[f.key(f.skuA)].Equal(qty("6")))

	_, err = f.service.Cancel(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)
	require.True(t, f.ledger.balances[f.key(f.skuA)].Equal(qty("10")))
}

func TestCancelShippedRejected(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.key(f.skuA), "10")
	o := f.createOrder(t, LineInput{SKUID: f.skuA, Quantity: qty("4")})

	_, err := f.service.Allocate(context.Background(), f.tenant, o.ID, f.actor, "")
	require.NoError(t, err)
	_, err = f.service.Ship(context.Background(), f.tenant, o.ID, f.actor, "")
	require.NoError(t, err)

	_, err = f.service.Cancel(context.Background(), f.tenant, o.ID, f.actor)
	require.ErrorIs(t, err, ErrInvalidStatus)
}
