// Package store is the transactional persistence layer for reconciled exchange state.
//
// Every logical operation (one stream frame, one backfill page, one order action)
// runs inside a single WithTx call: all of its mutations commit together or none do.
// Two implementations share the same semantics: Postgres (pgx) and Memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bitfinex-sync/internal/model"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("store: not found")

	// ErrRollback may be returned from a WithTx callback to discard its
	// mutations without reporting a failure.
	ErrRollback = errors.New("store: rollback")
)

// PersistenceError reports a failure to begin or commit a transaction.
// Mutations made inside the transaction were discarded.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store runs transactions.
type Store interface {
	// WithTx runs fn in a transaction. fn returning nil commits; ErrRollback rolls
	// back and WithTx returns nil; any other error rolls back and is returned.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close()
}

// OrderFilter selects orders. Zero fields match everything.
type OrderFilter struct {
	Exchange string
	Market   string
	Side     model.Side
	States   []model.OrderState
	// WithOrderID restricts to orders the exchange has accepted.
	WithOrderID bool
}

// Matches reports whether o satisfies the filter.
func (f OrderFilter) Matches(o model.Order) bool {
	if f.Exchange != "" && o.Exchange != f.Exchange {
		return false
	}
	if f.Market != "" && o.Market != f.Market {
		return false
	}
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	if f.WithOrderID && o.OrderID == "" {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if o.State == s {
			return true
		}
	}
	return false
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// Tickers: one row per (exchange, market), last write wins.
	UpsertTicker(ctx context.Context, t model.TickerSnapshot) error
	GetTicker(ctx context.Context, exchange, market string) (model.TickerSnapshot, error)

	// Balances: one row per (exchange, currency).
	UpsertBalance(ctx context.Context, b model.Balance) (changed bool, err error)
	// SetBalanceTotal updates the total only, creating the row with a zero
	// available amount when missing.
	SetBalanceTotal(ctx context.Context, exchange, currency string, total decimal.Decimal, at time.Time) (changed bool, err error)
	ListBalances(ctx context.Context, exchange string) ([]model.Balance, error)

	// Trades: insert-only, unique by (exchange, trade_id).
	InsertTrade(ctx context.Context, t model.Trade) (inserted bool, err error)
	TradeExists(ctx context.Context, exchange, tradeID string) (bool, error)
	// LatestTradeTime returns the newest trade time for a market, zero when none.
	LatestTradeTime(ctx context.Context, exchange, market string) (time.Time, error)

	// Movements: insert-only, unique by (exchange, kind, ref_id).
	InsertMovement(ctx context.Context, m model.Movement) (inserted bool, err error)
	MovementExists(ctx context.Context, exchange string, kind model.MovementKind, refID string) (bool, error)
	// LatestMovementTime returns the newest movement time for an asset, zero when none.
	LatestMovementTime(ctx context.Context, exchange, asset string) (time.Time, error)

	// Orders: keyed by local id; unique by (exchange, order_id) once accepted.
	// Only SyncLiveOrder moves a closed order back to open.
	InsertOrder(ctx context.Context, o model.Order) error
	// UpsertOrder inserts or refreshes an order by (exchange, order_id). A new row
	// gets o.LocalID, or a fresh id when that is nil. Closed rows are left untouched.
	UpsertOrder(ctx context.Context, o model.Order) (changed bool, err error)
	// SyncLiveOrder records o as live in the exchange's snapshot, keyed by
	// (exchange, order_id). A closed row is reopened. Safe to race with
	// UpsertOrder for the same order id.
	SyncLiveOrder(ctx context.Context, o model.Order) (inserted, changed bool, err error)
	// UpdateOrder overwrites the row with o.LocalID, keeping it closed if it already was.
	UpdateOrder(ctx context.Context, o model.Order) error
	DeleteOrder(ctx context.Context, localID uuid.UUID) error
	GetOrder(ctx context.Context, localID uuid.UUID) (model.Order, error)
	GetOrderByOrderID(ctx context.Context, exchange, orderID string) (model.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error)
	// CloseOrders closes every non-closed order matching f and returns how many changed.
	CloseOrders(ctx context.Context, f OrderFilter) (int, error)
}

// orderChanged reports whether applying next to prev alters any reconciled field.
func orderChanged(prev, next model.Order) bool {
	return prev.State != next.State ||
		prev.Market != next.Market ||
		prev.Side != next.Side ||
		!prev.Price.Equal(next.Price) ||
		!prev.Amount.Equal(next.Amount) ||
		!prev.ExecutedAmount.Equal(next.ExecutedAmount)
}

// keepClosed returns next with its state forced to closed when prev was closed.
func keepClosed(prev, next model.Order) model.Order {
	if prev.State == model.OrderClosed {
		next.State = model.OrderClosed
	}
	return next
}
