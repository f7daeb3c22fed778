package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/bitfinex-sync/internal/model"
	"github.com/rickgao/bitfinex-sync/internal/poller"
	"github.com/rickgao/bitfinex-sync/internal/store"
)

// ReconcileResult counts the changes made by one reconcile.
type ReconcileResult struct {
	Live      int // Orders in the exchange snapshot
	Inserted  int // Live orders not known locally
	Refreshed int // Known orders whose fields changed, including reopened ones
	Closed    int // Local open orders missing from the snapshot
}

// ReconcileOpenOrders brings local open orders in line with the exchange's live
// orders. Pending orders are left alone. A closed order that the snapshot still
// lists is reopened, so an order accepted while the snapshot was in flight and
// closed by it recovers on the next pass.
func (m *Manager) ReconcileOpenOrders(ctx context.Context) (ReconcileResult, error) {
	live, err := m.ex.ActiveOrders(ctx)
	if err != nil {
		m.metrics.ObserveOrderAction("reconcile", "error")
		return ReconcileResult{}, err
	}

	var res ReconcileResult
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		res = ReconcileResult{}
		seen := make(map[string]struct{}, len(live))

		for i := range live {
			o := live[i].ToModel(m.codec)
			if o.State != model.OrderOpen {
				continue
			}
			res.Live++
			seen[o.OrderID] = struct{}{}

			// The snapshot is authoritative for existence, so a live order
			// closed locally by an earlier, staler snapshot is reopened.
			o.LocalID = uuid.New()
			inserted, changed, err := tx.SyncLiveOrder(ctx, o)
			if err != nil {
				return err
			}
			switch {
			case inserted:
				res.Inserted++
			case changed:
				res.Refreshed++
			}
		}

		open, err := tx.ListOrders(ctx, store.OrderFilter{
			Exchange:    model.Exchange,
			States:      []model.OrderState{model.OrderOpen},
			WithOrderID: true,
		})
		if err != nil {
			return err
		}
		for _, o := range open {
			if _, ok := seen[o.OrderID]; ok {
				continue
			}
			o.State = model.OrderClosed
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			res.Closed++
		}
		return nil
	})
	if err != nil {
		m.metrics.ObserveOrderAction("reconcile", "error")
		return ReconcileResult{}, fmt.Errorf("reconcile open orders: %w", err)
	}

	m.metrics.ObserveOrderAction("reconcile", "ok")
	m.logger.Info("open orders reconciled",
		"live", res.Live,
		"inserted", res.Inserted,
		"refreshed", res.Refreshed,
		"closed", res.Closed,
	)
	return res, nil
}

// ReconcileJob reconciles open orders on every tick.
func ReconcileJob(m *Manager, interval time.Duration) poller.Job {
	return poller.Job{
		Name:     "reconcile_orders",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := m.ReconcileOpenOrders(ctx)
			return err
		},
	}
}
