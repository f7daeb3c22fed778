package router

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/bitfinex-sync/internal/model"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	QueueSize int // Initial capacity of the event queue. Default: 1000
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		QueueSize: 1000,
	}
}

// Topic is the semantic meaning of a bound channel.
type Topic string

const (
	TopicTicker  Topic = "ticker"
	TopicAccount Topic = "account"
)

// Binding ties an exchange channel id to a topic and its context.
type Binding struct {
	Topic  Topic
	Market string // Canonical market, ticker bindings only
	UserID int64  // Account bindings only
}

// Event is one decoded data frame, ready for the reconciler.
type Event interface {
	// Received is the local receive time of the frame.
	Received() time.Time
}

// TickerUpdate replaces the ticker snapshot of one market.
type TickerUpdate struct {
	Snapshot   model.TickerSnapshot
	ReceivedAt time.Time
}

// Wallet is one wallet record from the account channel.
type Wallet struct {
	Type     string // "exchange", "trading", "deposit"
	Currency string // Canonical commodity
	Balance  decimal.Decimal
}

// WalletUpdate carries a wallet snapshot (ws) or a single wallet change (wu).
type WalletUpdate struct {
	Tag        string
	Wallets    []Wallet
	ReceivedAt time.Time
}

// TradeUpdate carries own-trade records from a snapshot (ts) or an update (tu).
type TradeUpdate struct {
	Tag        string
	Trades     []model.Trade
	ReceivedAt time.Time
}

// OrderUpdate carries order records from a snapshot (os) or a new, update or
// cancel notification (on, ou, oc). LocalID is unset on every order.
type OrderUpdate struct {
	Tag        string
	Orders     []model.Order
	ReceivedAt time.Time
}

func (e TickerUpdate) Received() time.Time { return e.ReceivedAt }
func (e WalletUpdate) Received() time.Time { return e.ReceivedAt }
func (e TradeUpdate) Received() time.Time  { return e.ReceivedAt }
func (e OrderUpdate) Received() time.Time  { return e.ReceivedAt }
