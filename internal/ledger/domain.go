package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType enumerates the closed vocabulary of stock movements. The set is
// deliberately closed: a typo'd type would silently corrupt reporting, so
// anything outside the vocabulary is rejected before it reaches the store.
type EventType string

const (
	// EventReceive is an inbound receipt (purchase order, manual receive).
	EventReceive EventType = "RECEIVE"
	// EventPick is an outbound pick from the floor.
	EventPick EventType = "PICK"
	// EventAdjust is a manual correction, positive or negative.
	EventAdjust EventType = "ADJUST"
	// EventReturn is an inbound customer return.
	EventReturn EventType = "RETURN"
	// EventTransferOut leaves the source warehouse of a transfer order.
	EventTransferOut EventType = "TRANSFER_OUT"
	// EventTransferIn arrives at the destination warehouse of a transfer order.
	EventTransferIn EventType = "TRANSFER_IN"
	// EventCountCorrect compensates a cycle-count discrepancy.
	EventCountCorrect EventType = "COUNT_CORRECT"
	// EventWriteOff removes damaged or expired stock.
	EventWriteOff EventType = "WRITE_OFF"
	// EventAssembleOut consumes components for an assembly order.
	EventAssembleOut EventType = "ASSEMBLE_OUT"
	// EventAssembleIn receives finished goods from an assembly order.
	EventAssembleIn EventType = "ASSEMBLE_IN"
	// EventShipOut is the physical depletion when a sales order ships.
	EventShipOut EventType = "SHIP_OUT"
	// EventReserveOut is a soft hold placed by sales-order allocation.
	EventReserveOut EventType = "RESERVE_OUT"
	// EventReserveIn releases a soft hold back to available stock.
	EventReserveIn EventType = "RESERVE_IN"
)

var eventTypes = map[EventType]struct{}{
	EventReceive: {}, EventPick: {}, EventAdjust: {}, EventReturn: {},
	EventTransferOut: {}, EventTransferIn: {}, EventCountCorrect: {},
	EventWriteOff: {}, EventAssembleOut: {}, EventAssembleIn: {},
	EventShipOut: {}, EventReserveOut: {}, EventReserveIn: {},
}

// ParseEventType validates a raw string against the vocabulary.
func ParseEventType(raw string) (EventType, error) {
	et := EventType(raw)
	if _, ok := eventTypes[et]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, raw)
	}
	return et, nil
}

// Valid reports whether the event type belongs to the vocabulary.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// Event is one immutable signed quantity-delta record against a
// (tenant, SKU, warehouse) key. Rows are never updated or deleted; corrections
// are compensating events.
type Event struct {
	ID               uuid.UUID        `json:"id"`
	TenantID         uuid.UUID        `json:"tenant_id"`
	SKUID            uuid.UUID        `json:"sku_id"`
	WarehouseID      uuid.UUID        `json:"warehouse_id"`
	LocationID       *uuid.UUID       `json:"location_id,omitempty"`
	EventType        EventType        `json:"event_type"`
	QuantityDelta    decimal.Decimal  `json:"quantity_delta"`
	ReferenceID      *uuid.UUID       `json:"reference_id,omitempty"`
	ActorID          *uuid.UUID       `json:"actor_id,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	ReasonCode       string           `json:"reason_code,omitempty"`
	UnitCostSnapshot *decimal.Decimal `json:"unit_cost_snapshot,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// EventInput describes a candidate event before it is appended.
type EventInput struct {
	TenantID         uuid.UUID
	SKUID            uuid.UUID
	WarehouseID      uuid.UUID
	LocationID       *uuid.UUID
	EventType        EventType
	QuantityDelta    decimal.Decimal
	ReferenceID      *uuid.UUID
	ActorID          *uuid.UUID
	Notes            string
	ReasonCode       string
	UnitCostSnapshot *decimal.Decimal
	// RequestID, when supplied, makes the post idempotent: a retry carrying
	// the same id fails with shared.ErrIdempotencyConflict instead of
	// double-posting.
	RequestID string
}

// EventWithBalance annotates an event with the running balance of its key as
// of the event's timestamp.
type EventWithBalance struct {
	Event
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// HistoryFilter narrows the transaction history query. Zero values are ignored.
type HistoryFilter struct {
	SKUID       uuid.UUID
	WarehouseID uuid.UUID
	EventType   EventType
	ActorID     uuid.UUID
	DateFrom    time.Time
	DateTo      time.Time
}

var (
	// ErrUnknownEventType rejects event types outside the vocabulary.
	ErrUnknownEventType = errors.New("ledger: unknown event type")
	// ErrInvalidQuantity rejects zero or malformed deltas.
	ErrInvalidQuantity = errors.New("ledger: quantity delta must be non zero")
	// ErrWarehouseNotFound indicates the target warehouse is missing or
	// inactive for the tenant.
	ErrWarehouseNotFound = errors.New("ledger: warehouse not found or inactive")
	// ErrNegativeBalance is the sentinel matched by errors.Is against
	// NegativeBalanceError values.
	ErrNegativeBalance = errors.New("ledger: negative stock balance not allowed")
)

// NegativeBalanceError reports a rejected append with enough detail for the
// caller to render a precise shortfall.
type NegativeBalanceError struct {
	SKUID       uuid.UUID
	WarehouseID uuid.UUID
	Requested   decimal.Decimal
	Available   decimal.Decimal
	WouldBe     decimal.Decimal
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("ledger: negative stock balance not allowed: sku %s in warehouse %s has %s, delta %s would leave %s",
		e.SKUID, e.WarehouseID, e.Available, e.Requested, e.WouldBe)
}

// Is lets errors.Is(err, ErrNegativeBalance) match.
func (e *NegativeBalanceError) Is(target error) bool {
	return target == ErrNegativeBalance
}
