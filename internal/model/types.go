package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Exchange is the only venue this module reconciles.
const Exchange = "bitfinex"

// -----------------------------------------------------------------------------
// Enumerations
// -----------------------------------------------------------------------------

// Side is the canonical order side.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// ExchangeSide translates the canonical side to the exchange vocabulary.
func (s Side) ExchangeSide() string {
	if s == SideBid {
		return "buy"
	}
	return "sell"
}

// SideFromExchange translates "buy"/"sell" into a canonical side.
func SideFromExchange(side string) Side {
	if strings.EqualFold(side, "buy") {
		return SideBid
	}
	return SideAsk
}

// TradeSide is the taker direction of an executed trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// FeeSide records which leg of the market a fee was charged in.
type FeeSide string

const (
	FeeBase  FeeSide = "base"
	FeeQuote FeeSide = "quote"
)

// OrderState is the local lifecycle state of an order.
//
// pending -> open -> closed. closed is terminal.
type OrderState string

const (
	OrderPending OrderState = "pending"
	OrderOpen    OrderState = "open"
	OrderClosed  OrderState = "closed"
)

// MovementKind distinguishes deposits (credits) from withdrawals (debits).
type MovementKind string

const (
	MovementCredit MovementKind = "credit"
	MovementDebit  MovementKind = "debit"
)

// MovementStatus is the local status of a ledger movement.
type MovementStatus string

const (
	MovementUnconfirmed MovementStatus = "unconfirmed"
	MovementComplete    MovementStatus = "complete"
	MovementCanceled    MovementStatus = "canceled"
)

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// TickerSnapshot is the latest top-of-book and daily stats for one market.
// Overwritten in place; keyed by (Exchange, Market).
type TickerSnapshot struct {
	Exchange   string
	Market     string // Canonical market
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Last       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Volume     decimal.Decimal
	ObservedAt time.Time // Local receive time
}

// Trade is an executed fill. Insert-only, unique by (Exchange, TradeID).
type Trade struct {
	TradeID  string // External id
	Exchange string
	Market   string
	Side     TradeSide
	Amount   decimal.Decimal // Always positive
	Price    decimal.Decimal
	Fee      decimal.Decimal // Always positive
	FeeSide  FeeSide
	Time     time.Time
}

// Order is a limit order known locally.
type Order struct {
	LocalID        uuid.UUID
	OrderID        string // External id, empty until the exchange accepts the order
	Exchange       string
	Market         string
	Side           Side
	Price          decimal.Decimal
	Amount         decimal.Decimal // Original amount, always positive
	ExecutedAmount decimal.Decimal
	State          OrderState
	CreatedAt      time.Time
}

// Movement is a deposit or withdrawal. Insert-only, unique by (Exchange, Kind, RefID).
type Movement struct {
	Kind        MovementKind
	RefID       string // External id
	Exchange    string
	Asset       string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Address     string
	Description string
	TxID        string
	Status      MovementStatus
	Reference   string
	Time        time.Time
}

// Balance is the current holding of one currency. Overwritten on each sync.
type Balance struct {
	Exchange  string
	Currency  string
	Total     decimal.Decimal
	Available decimal.Decimal
	UpdatedAt time.Time
}

// -----------------------------------------------------------------------------
// External ids
// -----------------------------------------------------------------------------

// externalPrefix is the namespaced form older callers use ("bitfinex|123").
const externalPrefix = Exchange + "|"

// NormalizeOrderID strips an optional "<exchange>|" namespace from an external id.
func NormalizeOrderID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndexByte(id, '|'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// NamespacedID returns id in the "<exchange>|<id>" form.
func NamespacedID(id string) string {
	return externalPrefix + NormalizeOrderID(id)
}
