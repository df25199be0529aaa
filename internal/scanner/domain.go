// Package scanner is the real-time channel for floor scanner guns. Each device
// keeps one websocket open and streams scan messages; every message resolves a
// barcode, posts a ledger event (or reads stock for LOOKUP) and gets an
// immediate reply on the same connection.
package scanner

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/nexus-ims/nexus/internal/ledger"
	"github.com/nexus-ims/nexus/internal/masterdata/skus"
)

// TypeLookup is the read-only pseudo event type. It never reaches the ledger.
const TypeLookup = "LOOKUP"

// postableTypes is the subset of the vocabulary a hand scanner may post.
// Reservation and transfer movements belong to their order flows, not to ad-hoc
// scans.
var postableTypes = map[ledger.EventType]struct{}{
	ledger.EventReceive: {},
	ledger.EventPick:    {},
	ledger.EventAdjust:  {},
	ledger.EventReturn:  {},
}

// Message is one inbound scan.
type Message struct {
	Barcode     string `json:"barcode"`
	EventType   string `json:"event_type"`
	Quantity    string `json:"quantity"`
	WarehouseID string `json:"warehouse_id"`
	LocationID  string `json:"location_id,omitempty"`
	ReasonCode  string `json:"reason_code,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Reply is the per-message response pushed back to the device.
type Reply struct {
	Status  string           `json:"status"`
	Message string           `json:"message,omitempty"`
	SKU     *skus.SKU        `json:"sku,omitempty"`
	Event   *ledger.Event    `json:"event,omitempty"`
	Stock   *decimal.Decimal `json:"stock,omitempty"`
}

var (
	// ErrUnknownBarcode indicates the barcode matched no active SKU.
	ErrUnknownBarcode = errors.New("scanner: barcode not recognised")
	// ErrUnsupportedType rejects event types the channel does not post.
	ErrUnsupportedType = errors.New("scanner: event type not allowed on scan channel")
	// ErrBadQuantity rejects missing, non-decimal or out-of-range quantities.
	// Only ADJUST may carry a signed quantity.
	ErrBadQuantity = errors.New("scanner: invalid quantity")
	// ErrBadWarehouse rejects missing or malformed warehouse ids.
	ErrBadWarehouse = errors.New("scanner: warehouse_id must be a uuid")
)
