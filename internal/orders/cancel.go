package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/bitfinex-sync/internal/model"
	"github.com/rickgao/bitfinex-sync/internal/store"
)

// Filter selects orders for CancelAll. The zero Filter selects every order.
type Filter struct {
	Market  string
	Side    model.Side
	LocalID uuid.UUID
	OrderID string
}

func (f Filter) empty() bool {
	return f.Market == "" && f.Side == "" && f.LocalID == uuid.Nil && f.OrderID == ""
}

// CancelAll cancels the selected orders and returns how many were closed locally.
//
// The zero Filter uses the exchange's cancel-all request and then closes every
// local open order. An id selects one order. Otherwise matching local open
// orders are cancelled concurrently; the operation is not atomic and every
// failure is joined into the returned error.
func (m *Manager) CancelAll(ctx context.Context, f Filter) (int, error) {
	switch {
	case f.empty():
		return m.cancelEverything(ctx)
	case f.LocalID != uuid.Nil || f.OrderID != "":
		order, err := m.Cancel(ctx, Ref{LocalID: f.LocalID, OrderID: f.OrderID})
		if err != nil {
			return 0, err
		}
		if order.State == model.OrderClosed {
			return 1, nil
		}
		return 0, nil
	}

	market := f.Market
	if market != "" {
		b, q, err := m.codec.ParseMarket(market)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
		}
		market = b + "_" + q
	}
	open, err := m.List(ctx, store.OrderFilter{
		Market: market,
		Side:   f.Side,
		States: []model.OrderState{model.OrderOpen},
	})
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}

	closed := make([]bool, len(open))
	errs := make([]error, len(open))

	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for i, o := range open {
		g.Go(func() error {
			res, err := m.Cancel(ctx, ByOrder(o))
			closed[i] = err == nil && res.State == model.OrderClosed
			errs[i] = err
			return err
		})
	}
	_ = g.Wait()

	n := 0
	for _, c := range closed {
		if c {
			n++
		}
	}
	m.logger.Info("cancel complete", "market", market, "side", f.Side, "matched", len(open), "closed", n)
	return n, errors.Join(errs...)
}

func (m *Manager) cancelEverything(ctx context.Context) (int, error) {
	resp, err := m.ex.CancelAllOrders(ctx)
	if err != nil {
		m.metrics.ObserveOrderAction("cancel_all", "error")
		return 0, err
	}
	if !resp.Succeeded() {
		m.metrics.ObserveOrderAction("cancel_all", "rejected")
		return 0, fmt.Errorf("%w: %s", ErrCancelRejected, resp.Result)
	}

	var n int
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.CloseOrders(ctx, store.OrderFilter{
			Exchange: model.Exchange,
			States:   []model.OrderState{model.OrderOpen},
		})
		return err
	})
	if err != nil {
		m.metrics.ObserveOrderAction("cancel_all", "error")
		return 0, fmt.Errorf("close local orders: %w", err)
	}

	m.metrics.ObserveOrderAction("cancel_all", "ok")
	m.logger.Info("cancelled all orders", "closed", n)
	return n, nil
}
