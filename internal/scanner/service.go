package scanner

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/masterdata/skus"
	"github.com/nexus-ims/nexus/internal/shared"
)

// CataloguePort resolves scanned barcodes.
type CataloguePort interface {
	GetByBarcode(ctx context.Context, tenantID uuid.UUID, barcode string) (*skus.SKU, error)
}

// LedgerPort posts events and reads balances for the channel.
type LedgerPort interface {
	PostEvent(ctx context.Context, in ledger.EventInput) (*ledger.Event, error)
	GetStockLevel(ctx context.Context, key ledger.StockKey) (decimal.Decimal, error)
}

// Service turns scan messages into ledger calls.
type Service struct {
	catalogue CataloguePort
	ledger    LedgerPort
	logger    *slog.Logger
}

// NewService wires the scanner service.
func NewService(catalogue CataloguePort, ledgerPort LedgerPort, logger *slog.Logger) *Service {
	return &Service{catalogue: catalogue, ledger: ledgerPort, logger: logger}
}

// Process handles one scan and always produces a reply. Errors come back as
// status "error" replies so the device loop never dies on bad input.
func (s *Service) Process(ctx context.Context, identity shared.Identity, msg Message) Reply {
	sku, err := s.catalogue.GetByBarcode(ctx, identity.TenantID, msg.Barcode)
	if err != nil {
		if errors.Is(err, skus.ErrNotFound) {
			return errorReply(ErrUnknownBarcode)
		}
		s.logger.Error("barcode lookup failed", "barcode", msg.Barcode, "error", err)
		return errorReply(err)
	}

	warehouseID, err := uuid.Parse(msg.WarehouseID)
	if err != nil {
		return errorReply(ErrBadWarehouse)
	}

	if msg.EventType == TypeLookup {
		stock, err := s.ledger.GetStockLevel(ctx, ledger.StockKey{
			TenantID:    identity.TenantID,
			SKUID:       sku.ID,
			WarehouseID: warehouseID,
		})
		if err != nil {
			return errorReply(err)
		}
		return Reply{Status: "ok", SKU: sku, Stock: &stock}
	}

	eventType, err := ledger.ParseEventType(msg.EventType)
	if err != nil {
		return errorReply(ErrUnsupportedType)
	}
	if _, ok := postableTypes[eventType]; !ok {
		return errorReply(ErrUnsupportedType)
	}

	delta, err := parseQuantity(msg.Quantity, eventType)
	if err != nil {
		return errorReply(err)
	}

	in := ledger.EventInput{
		TenantID:      identity.TenantID,
		SKUID:         sku.ID,
		WarehouseID:   warehouseID,
		EventType:     eventType,
		QuantityDelta: delta,
		ActorID:       &identity.ActorID,
		Notes:         msg.Notes,
		ReasonCode:    msg.ReasonCode,
	}
	if msg.LocationID != "" {
		locationID, err := uuid.Parse(msg.LocationID)
		if err != nil {
			return errorReply(errors.New("scanner: location_id must be a uuid"))
		}
		in.LocationID = &locationID
	}

	event, err := s.ledger.PostEvent(ctx, in)
	if err != nil {
		return errorReply(err)
	}
	stock, err := s.ledger.GetStockLevel(ctx, ledger.StockKey{
		TenantID:    identity.TenantID,
		SKUID:       sku.ID,
		WarehouseID: warehouseID,
	})
	if err != nil {
		// The post landed; reply without the balance rather than fail.
		s.logger.Warn("post-scan balance read failed", "sku_id", sku.ID, "error", err)
		return Reply{Status: "ok", SKU: sku, Event: event}
	}
	return Reply{Status: "ok", SKU: sku, Event: event, Stock: &stock}
}

// parseQuantity validates the scanned quantity and applies the channel's sign
// convention: devices always send how many units passed the scanner, so PICK
// becomes a negative delta here.
func parseQuantity(raw string, eventType ledger.EventType) (decimal.Decimal, error) {
	qty, err := decimal.NewFromString(raw)
	if err != nil || qty.IsZero() {
		return decimal.Decimal{}, ErrBadQuantity
	}
	switch eventType {
	case ledger.EventAdjust:
		return qty, nil
	case ledger.EventPick:
		if !qty.IsPositive() {
			return decimal.Decimal{}, ErrBadQuantity
		}
		return qty.Neg(), nil
	default:
		if !qty.IsPositive() {
			return decimal.Decimal{}, ErrBadQuantity
		}
		return qty, nil
	}
}

func errorReply(err error) Reply {
	return Reply{Status: "error", Message: err.Error()}
}
