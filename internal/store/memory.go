package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bitfinex-sync/internal/model"
)

type pairKey struct{ exchange, id string }

type movementKey struct {
	exchange string
	kind     model.MovementKind
	refID    string
}

type memData struct {
	tickers   map[pairKey]model.TickerSnapshot
	balances  map[pairKey]model.Balance
	trades    map[pairKey]model.Trade
	movements map[movementKey]model.Movement
	orders    map[uuid.UUID]model.Order
}

func newMemData() *memData {
	return &memData{
		tickers:   make(map[pairKey]model.TickerSnapshot),
		balances:  make(map[pairKey]model.Balance),
		trades:    make(map[pairKey]model.Trade),
		movements: make(map[movementKey]model.Movement),
		orders:    make(map[uuid.UUID]model.Order),
	}
}

func (d *memData) clone() *memData {
	return &memData{
		tickers:   maps.Clone(d.tickers),
		balances:  maps.Clone(d.balances),
		trades:    maps.Clone(d.trades),
		movements: maps.Clone(d.movements),
		orders:    maps.Clone(d.orders),
	}
}

// Memory is an in-process Store. Transactions are serialized and operate on a
// copy of the data that replaces the original on commit.
type Memory struct {
	mu   sync.Mutex
	data *memData

	// CommitHook, when set, runs before a commit is applied. A non-nil result
	// aborts the commit as a PersistenceError.
	CommitHook func() error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

// WithTx implements Store.
func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "begin", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(&memTx{d: work}); err != nil {
		if errors.Is(err, ErrRollback) {
			return nil
		}
		return err
	}

	if m.CommitHook != nil {
		if err := m.CommitHook(); err != nil {
			return &PersistenceError{Op: "commit", Err: err}
		}
	}
	m.data = work
	return nil
}

// Close implements Store.
func (m *Memory) Close() {}

type memTx struct {
	d *memData
}

func (t *memTx) UpsertTicker(_ context.Context, s model.TickerSnapshot) error {
	t.d.tickers[pairKey{s.Exchange, s.Market}] = s
	return nil
}

func (t *memTx) GetTicker(_ context.Context, exchange, market string) (model.TickerSnapshot, error) {
	s, ok := t.d.tickers[pairKey{exchange, market}]
	if !ok {
		return model.TickerSnapshot{}, ErrNotFound
	}
	return s, nil
}

func (t *memTx) UpsertBalance(_ context.Context, b model.Balance) (bool, error) {
	k := pairKey{b.Exchange, b.Currency}
	prev, ok := t.d.balances[k]
	changed := !ok || !prev.Total.Equal(b.Total) || !prev.Available.Equal(b.Available)
	t.d.balances[k] = b
	return changed, nil
}

func (t *memTx) SetBalanceTotal(_ context.Context, exchange, currency string, total decimal.Decimal, at time.Time) (bool, error) {
	k := pairKey{exchange, currency}
	prev, ok := t.d.balances[k]
	if ok && prev.Total.Equal(total) {
		return false, nil
	}
	if !ok {
		prev = model.Balance{Exchange: exchange, Currency: currency}
	}
	prev.Total = total
	prev.UpdatedAt = at
	t.d.balances[k] = prev
	return true, nil
}

func (t *memTx) ListBalances(_ context.Context, exchange string) ([]model.Balance, error) {
	var out []model.Balance
	for k, b := range t.d.balances {
		if k.exchange == exchange {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b model.Balance) int { return cmp.Compare(a.Currency, b.Currency) })
	return out, nil
}

func (t *memTx) InsertTrade(_ context.Context, tr model.Trade) (bool, error) {
	k := pairKey{tr.Exchange, tr.TradeID}
	if _, ok := t.d.trades[k]; ok {
		return false, nil
	}
	t.d.trades[k] = tr
	return true, nil
}

func (t *memTx) TradeExists(_ context.Context, exchange, tradeID string) (bool, error) {
	_, ok := t.d.trades[pairKey{exchange, tradeID}]
	return ok, nil
}

func (t *memTx) LatestTradeTime(_ context.Context, exchange, market string) (time.Time, error) {
	var latest time.Time
	for k, tr := range t.d.trades {
		if k.exchange == exchange && tr.Market == market && tr.Time.After(latest) {
			latest = tr.Time
		}
	}
	return latest, nil
}

func (t *memTx) InsertMovement(_ context.Context, mv model.Movement) (bool, error) {
	k := movementKey{mv.Exchange, mv.Kind, mv.RefID}
	if _, ok := t.d.movements[k]; ok {
		return false, nil
	}
	t.d.movements[k] = mv
	return true, nil
}

func (t *memTx) MovementExists(_ context.Context, exchange string, kind model.MovementKind, refID string) (bool, error) {
	_, ok := t.d.movements[movementKey{exchange, kind, refID}]
	return ok, nil
}

func (t *memTx) LatestMovementTime(_ context.Context, exchange, asset string) (time.Time, error) {
	var latest time.Time
	for k, mv := range t.d.movements {
		if k.exchange == exchange && mv.Asset == asset && mv.Time.After(latest) {
			latest = mv.Time
		}
	}
	return latest, nil
}

func (t *memTx) findByOrderID(exchange, orderID string) (model.Order, bool) {
	if orderID == "" {
		return model.Order{}, false
	}
	for _, o := range t.d.orders {
		if o.Exchange == exchange && o.OrderID == orderID {
			return o, true
		}
	}
	return model.Order{}, false
}

func (t *memTx) InsertOrder(_ context.Context, o model.Order) error {
	if _, ok := t.d.orders[o.LocalID]; ok {
		return fmt.Errorf("insert order %s: duplicate local id", o.LocalID)
	}
	if _, ok := t.findByOrderID(o.Exchange, o.OrderID); ok {
		return fmt.Errorf("insert order %s: duplicate order id %s", o.LocalID, o.OrderID)
	}
	t.d.orders[o.LocalID] = o
	return nil
}

func (t *memTx) UpsertOrder(ctx context.Context, o model.Order) (bool, error) {
	if o.OrderID == "" {
		return false, fmt.Errorf("upsert order: order id required")
	}
	prev, ok := t.findByOrderID(o.Exchange, o.OrderID)
	if !ok {
		if o.LocalID == uuid.Nil {
			o.LocalID = uuid.New()
		}
		return true, t.InsertOrder(ctx, o)
	}
	if prev.State == model.OrderClosed || !orderChanged(prev, o) {
		return false, nil
	}
	o.LocalID = prev.LocalID
	o.CreatedAt = prev.CreatedAt
	t.d.orders[prev.LocalID] = o
	return true, nil
}

func (t *memTx) SyncLiveOrder(ctx context.Context, o model.Order) (bool, bool, error) {
	if o.OrderID == "" {
		return false, false, fmt.Errorf("sync live order: order id required")
	}
	prev, ok := t.findByOrderID(o.Exchange, o.OrderID)
	if !ok {
		if o.LocalID == uuid.Nil {
			o.LocalID = uuid.New()
		}
		return true, false, t.InsertOrder(ctx, o)
	}
	if !orderChanged(prev, o) {
		return false, false, nil
	}
	o.LocalID = prev.LocalID
	o.CreatedAt = prev.CreatedAt
	t.d.orders[prev.LocalID] = o
	return false, true, nil
}

func (t *memTx) UpdateOrder(_ context.Context, o model.Order) error {
	prev, ok := t.d.orders[o.LocalID]
	if !ok {
		return ErrNotFound
	}
	if other, ok := t.findByOrderID(o.Exchange, o.OrderID); ok && other.LocalID != o.LocalID {
		return fmt.Errorf("update order %s: order id %s belongs to %s", o.LocalID, o.OrderID, other.LocalID)
	}
	t.d.orders[o.LocalID] = keepClosed(prev, o)
	return nil
}

func (t *memTx) DeleteOrder(_ context.Context, localID uuid.UUID) error {
	if _, ok := t.d.orders[localID]; !ok {
		return ErrNotFound
	}
	delete(t.d.orders, localID)
	return nil
}

func (t *memTx) GetOrder(_ context.Context, localID uuid.UUID) (model.Order, error) {
	o, ok := t.d.orders[localID]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (t *memTx) GetOrderByOrderID(_ context.Context, exchange, orderID string) (model.Order, error) {
	o, ok := t.findByOrderID(exchange, orderID)
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (t *memTx) ListOrders(_ context.Context, f OrderFilter) ([]model.Order, error) {
	var out []model.Order
	for _, o := range t.d.orders {
		if f.Matches(o) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b model.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.LocalID.String(), b.LocalID.String())
	})
	return out, nil
}

func (t *memTx) CloseOrders(_ context.Context, f OrderFilter) (int, error) {
	n := 0
	for id, o := range t.d.orders {
		if o.State == model.OrderClosed || !f.Matches(o) {
			continue
		}
		o.State = model.OrderClosed
		t.d.orders[id] = o
		n++
	}
	return n, nil
}
