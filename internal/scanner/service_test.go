package scanner

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/masterdata/skus"
	"github.com/nexus-ims/nexus/internal/shared"
)

type fakeCatalogue struct {
	byBarcode map[string]*skus.SKU
}

func (c *fakeCatalogue) GetByBarcode(ctx context.Context, tenantID uuid.UUID, barcode string) (*skus.SKU, error) {
	if s, ok := c.byBarcode[barcode]; ok && s.TenantID == tenantID {
		return s, nil
	}
	return nil, skus.ErrNotFound
}

type fakeLedger struct {
	balances map[ledger.StockKey]decimal.Decimal
	posted   []ledger.EventInput
	postErr  error
}

func (l *fakeLedger) PostEvent(ctx context.Context, in ledger.EventInput) (*ledger.Event, error) {
	if l.postErr != nil {
		return nil, l.postErr
	}
	l.posted = append(l.posted, in)
	key := ledger.StockKey{TenantID: in.TenantID, SKUID: in.SKUID, WarehouseID: in.WarehouseID}
	l.balances[key] = l.balances[key].Add(in.QuantityDelta)
	return &ledger.Event{ID: uuid.New(), EventType: in.EventType, QuantityDelta: in.QuantityDelta}, nil
}

func (l *fakeLedger) GetStockLevel(ctx context.Context, key ledger.StockKey) (decimal.Decimal, error) {
	return l.balances[key], nil
}

type fixture struct {
	service   *Service
	ledger    *fakeLedger
	identity  shared.Identity
	warehouse uuid.UUID
	sku       *skus.SKU
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tenant := uuid.New()
	sku := &skus.SKU{ID: uuid.New(), TenantID: tenant, Code: "WID-1", Barcode: "4006381333931", Name: "Widget"}
	f := &fixture{
		ledger:    &fakeLedger{balances: map[ledger.StockKey]decimal.Decimal{}},
		identity:  shared.Identity{TenantID: tenant, ActorID: uuid.New()},
		warehouse: uuid.New(),
		sku:       sku,
	}
	catalogue := &fakeCatalogue{byBarcode: map[string]*skus.SKU{sku.Barcode: sku}}
	f.service = NewService(catalogue, f.ledger, slog.New(slog.DiscardHandler))
	return f
}

func (f *fixture) key() ledger.StockKey {
	return ledger.StockKey{TenantID: f.identity.TenantID, SKUID: f.sku.ID, WarehouseID: f.warehouse}
}

func (f *fixture) scan(eventType, quantity string) Reply {
	return f.service.Process(context.Background(), f.identity, Message{
		Barcode:     f.sku.Barcode,
		EventType:   eventType,
		Quantity:    quantity,
		WarehouseID: f.warehouse.String(),
	})
}

func TestReceiveScanPostsAndReturnsStock(t *testing.T) {
	f := newFixture(t)

	reply := f.scan("RECEIVE", "5")
	require.Equal(t, "ok", reply.Status)
	require.Equal(t, f.sku.ID, reply.SKU.ID)
	require.NotNil(t, reply.Event)
	require.NotNil(t, reply.Stock)
	require.True(t, reply.Stock.Equal(decimal.NewFromInt(5)))

	require.Len(t, f.ledger.posted, 1)
	require.Equal(t, f.identity.ActorID, *f.ledger.posted[0].ActorID)
}

func TestPickScanNegatesQuantity(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.key()] = decimal.NewFromInt(10)

	reply := f.scan("PICK", "3")
	require.Equal(t, "ok", reply.Status)
	require.True(t, f.ledger.posted[0].QuantityDelta.Equal(decimal.NewFromInt(-3)))
	require.True(t, reply.Stock.Equal(decimal.NewFromInt(7)))
}

func TestLookupReadsWithoutPosting(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.key()] = decimal.NewFromInt(42)

	reply := f.scan(TypeLookup, "")
	require.Equal(t, "ok", reply.Status)
	require.True(t, reply.Stock.Equal(decimal.NewFromInt(42)))
	require.Nil(t, reply.Event)
	require.Empty(t, f.ledger.posted)
}

func TestAdjustAllowsSignedQuantity(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances[f.key()] = decimal.NewFromInt(10)

	reply := f.scan("ADJUST", "-2")
	require.Equal(t, "ok", reply.Status)
	require.True(t, f.ledger.posted[0].QuantityDelta.Equal(decimal.NewFromInt(-2)))
}

func TestUnknownBarcode(t *testing.T) {
	f := newFixture(t)
	reply := f.service.Process(context.Background(), f.identity, Message{
		Barcode:     "no-such-label",
		EventType:   "RECEIVE",
		Quantity:    "1",
		WarehouseID: f.warehouse.String(),
	})
	require.Equal(t, "error", reply.Status)
	require.Contains(t, reply.Message, "barcode")
}

func TestReservationTypesRejected(t *testing.T) {
	f := newFixture(t)
	for _, eventType := range []string{"RESERVE_OUT", "SHIP_OUT", "TRANSFER_OUT", "bogus"} {
		reply := f.scan(eventType, "1")
		require.Equal(t, "error", reply.Status, eventType)
		require.Empty(t, f.ledger.posted)
	}
}

func TestBadQuantityAndWarehouse(t *testing.T) {
	f := newFixture(t)

	for _, quantity := range []string{"", "abc", "0", "-1"} {
		reply := f.scan("RECEIVE", quantity)
		require.Equal(t, "error", reply.Status, quantity)
	}

	reply := f.service.Process(context.Background(), f.identity, Message{
		Barcode: f.sku.Barcode, EventType: "RECEIVE", Quantity: "1", WarehouseID: "not-a-uuid",
	})
	require.Equal(t, "error", reply.Status)
}

func TestNegativeBalanceSurfacesAsError(t *testing.T) {
	f := newFixture(t)
	f.ledger.postErr = &ledger.NegativeBalanceError{
		SKUID: f.sku.ID, WarehouseID: f.warehouse,
		Requested: decimal.NewFromInt(-3), Available: decimal.NewFromInt(1),
	}
	reply := f.scan("PICK", "3")
	require.Equal(t, "error", reply.Status)
	require.NotEmpty(t, reply.Message)
}
