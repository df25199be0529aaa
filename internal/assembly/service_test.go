package assembly

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nexus-ims/nexus/internal/bom"
	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/shared"
)

// fakeLedger applies posted events to an in-memory balance map with the same
// all-or-nothing and guard semantics as the real ledger.
type fakeLedger struct {
	mu       sync.Mutex
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
	l.mu.Lock()
	defer l.mu.Unlock()
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

func (l *fakeLedger) GetStockLevel(ctx context.Context, key ledger.StockKey) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[key], nil
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
		ID:               uuid.New(),
		TenantID:         in.TenantID,
		SKUID:            in.SKUID,
		WarehouseID:      in.WarehouseID,
		EventType:        in.EventType,
		QuantityDelta:    in.QuantityDelta,
		ReferenceID:      in.ReferenceID,
		ActorID:          in.ActorID,
		UnitCostSnapshot: in.UnitCostSnapshot,
		CreatedAt:        time.Now().UTC(),
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

func (m *memOrders) MarkStarted(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, at time.Time) error {
	o := m.orders[id]
	o.Status = StatusInProgress
	o.StartedAt = &at
	return nil
}

func (m *memOrders) MarkCompleted(ctx context.Context, tx pgx.Tx, o *Order) error {
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error {
	m.orders[id].Status = StatusCancelled
	return nil
}

type fakeBOMs struct {
	active map[uuid.UUID]*bom.BOM
	byID   map[uuid.UUID]*bom.BOM
}

func (f *fakeBOMs) GetActive(ctx context.Context, tenantID, skuID uuid.UUID) (*bom.BOM, error) {
	b, ok := f.active[skuID]
	if !ok {
		return nil, bom.ErrNoActiveBOM
	}
	return b, nil
}

func (f *fakeBOMs) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*bom.BOM, error) {
	b, ok := f.byID[id]
	if !ok {
		return nil, bom.ErrNotFound
	}
	return b, nil
}

type fakeCosts struct {
	costs map[uuid.UUID]decimal.Decimal
}

func (f *fakeCosts) UnitCost(ctx context.Context, tenantID, skuID uuid.UUID) (decimal.Decimal, error) {
	return f.costs[skuID], nil
}

type fixture struct {
	service   *Service
	ledger    *fakeLedger
	orders    *memOrders
	costs     *fakeCosts
	tenant    uuid.UUID
	actor     uuid.UUID
	warehouse uuid.UUID
	assembly  uuid.UUID
	component uuid.UUID
	bom       *bom.BOM
}

// newFixture builds an assembly SKU whose BOM takes 2 components per unit at a
// component cost of 5.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    newFakeLedger(),
		orders:    newMemOrders(),
		tenant:    uuid.New(),
		actor:     uuid.New(),
		warehouse: uuid.New(),
		assembly:  uuid.New(),
		component: uuid.New(),
	}
	f.bom = &bom.BOM{
		ID:            uuid.New(),
		TenantID:      f.tenant,
		AssemblySKUID: f.assembly,
		Version:       1,
		IsActive:      true,
		Lines: []bom.Line{
			{ID: uuid.New(), ComponentSKUID: f.component, Quantity: decimal.NewFromInt(2)},
		},
	}
	boms := &fakeBOMs{
		active: map[uuid.UUID]*bom.BOM{f.assembly: f.bom},
		byID:   map[uuid.UUID]*bom.BOM{f.bom.ID: f.bom},
	}
	f.costs = &fakeCosts{costs: map[uuid.UUID]decimal.Decimal{f.component: decimal.NewFromInt(5)}}
	f.service = NewService(f.orders, f.ledger, boms, f.costs, slog.New(slog.DiscardHandler))
	return f
}

func (f *fixture) componentKey() ledger.StockKey {
	return ledger.StockKey{TenantID: f.tenant, SKUID: f.component, WarehouseID: f.warehouse}
}

func (f *fixture) assemblyKey() ledger.StockKey {
	return ledger.StockKey{TenantID: f.tenant, SKUID: f.assembly, WarehouseID: f.warehouse}
}

func (f *fixture) create(t *testing.T, planned, landed string) *Order {
	t.Helper()
	o, err := f.service.Create(context.Background(), CreateInput{
		TenantID:      f.tenant,
		ActorID:       f.actor,
		AssemblySKUID: f.assembly,
		WarehouseID:   f.warehouse,
		PlannedQty:    decimal.RequireFromString(planned),
		LandedCost:    decimal.RequireFromString(landed),
	})
	require.NoError(t, err)
	return o
}

func TestCreateSnapshotsActiveBOM(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, "10", "0")
	require.Equal(t, StatusPending, o.Status)
	require.Equal(t, f.bom.ID, o.BOMID)
}

func TestCreateRequiresActiveBOM(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Create(context.Background(), CreateInput{
		TenantID:      f.tenant,
		AssemblySKUID: uuid.New(),
		WarehouseID:   f.warehouse,
		PlannedQty:    decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, bom.ErrNoActiveBOM)
}

func TestCheckAvailabilityReportsShortfall(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.componentKey(), "15")
	o := f.create(t, "10", "0") // needs 20 components

	report, err := f.service.CheckAvailability(context.Background(), f.tenant, o.ID)
	require.NoError(t, err)
	require.False(t, report.CanAssemble)
	require.Len(t, report.Components, 1)
	require.True(t, report.Components[0].Required.Equal(decimal.NewFromInt(20)))
	require.True(t, report.Components[0].Short.Equal(decimal.NewFromInt(5)))
}

func TestStartConsumesComponents(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.componentKey(), "20")
	o := f.create(t, "10", "0")

	started, err := f.service.Start(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, started.Status)
	require.NotNil(t, started.StartedAt)

	balance, _ := f.ledger.GetStockLevel(context.Background(), f.componentKey())
	require.True(t, balance.IsZero())
	require.Len(t, f.ledger.events, 1)
	require.Equal(t, ledger.EventAssembleOut, f.ledger.events[0].EventType)
	require.Equal(t, o.ID, *f.ledger.events[0].ReferenceID)
}

func TestStartFailsAtomicallyOnShortage(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.componentKey(), "19")
	o := f.create(t, "10", "0")

	_, err := f.service.Start(context.Background(), f.tenant, o.ID, f.actor)
	require.ErrorIs(t, err, ledger.ErrNegativeBalance)

	balance, _ := f.ledger.GetStockLevel(context.Background(), f.componentKey())
	require.True(t, balance.Equal(decimal.NewFromInt(19)), "failed start must not consume stock")
	got, err := f.service.GetByID(context.Background(), f.tenant, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestStartRequiresPendingStatus(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.componentKey(), "40")
	o := f.create(t, "10", "0")

	_, err := f.service.Start(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)
	_, err = f.service.Start(context.Background(), f.tenant, o.ID, f.actor)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCompleteComputesCOGS(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.componentKey(), "20")
	o := f.create(t, "10", "10")

	_, err := f.service.Start(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)

	completed, err := f.service.Complete(context.Background(), CompleteInput{
		TenantID:    f.tenant,
		ActorID:     f.actor,
		OrderID:     o.ID,
		ProducedQty: decimal.NewFromInt(9),
		WastedQty:   decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)

	// landed 10 + 2 components/unit * cost 5 = 20 per unit.
	require.True(t, completed.COGSPerUnit.Equal(decimal.NewFromInt(20)), "got %s", completed.COGSPerUnit)

	balance, _ := f.ledger.GetStockLevel(context.Background(), f.assemblyKey())
	require.True(t, balance.Equal(decimal.NewFromInt(9)), "waste must not enter stock")

	last := f.ledger.events[len(f.ledger.events)-1]
	require.Equal(t, ledger.EventAssembleIn, last.EventType)
	require.True(t, last.UnitCostSnapshot.Equal(decimal.NewFromInt(20)))
}

func TestCompleteRejectsOverproduction(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.componentKey(), "20")
	o := f.create(t, "10", "0")
	_, err := f.service.Start(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)

	_, err = f.service.Complete(context.Background(), CompleteInput{
		TenantID:    f.tenant,
		OrderID:     o.ID,
		ProducedQty: decimal.NewFromInt(10),
		WastedQty:   decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, ErrOverproduced)
}

func TestCompleteRequiresInProgress(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, "10", "0")
	_, err := f.service.Complete(context.Background(), CompleteInput{
		TenantID:    f.tenant,
		OrderID:     o.ID,
		ProducedQty: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCancelPendingPostsNoEvents(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, "10", "0")

	cancelled, err := f.service.Cancel(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Empty(t, f.ledger.events)
}

func TestCancelInProgressReturnsComponents(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.componentKey(), "20")
	o := f.create(t, "10", "0")
	_, err := f.service.Start(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)

	_, err = f.service.Cancel(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)

	balance, _ := f.ledger.GetStockLevel(context.Background(), f.componentKey())
	require.True(t, balance.Equal(decimal.NewFromInt(20)), "cancel must return consumed components")
}

func TestCancelCompletedRejected(t *testing.T) {
	f := newFixture(t)
	f.ledger.seed(f.componentKey(), "20")
	o := f.create(t, "10", "0")
	_, err := f.service.Start(context.Background(), f.tenant, o.ID, f.actor)
	require.NoError(t, err)
	_, err = f.service.Complete(context.Background(), CompleteInput{
		TenantID:    f.tenant,
		OrderID:     o.ID,
		ProducedQty: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	_, err = f.service.Cancel(context.Background(), f.tenant, o.ID, f.actor)
	require.ErrorIs(t, err, ErrInvalidStatus)
}
