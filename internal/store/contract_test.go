package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/bitfinex-sync/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// runContract exercises the semantics every Store implementation must share.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ticker last write wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		at := time.Now().UTC().Truncate(time.Microsecond)

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			return tx.UpsertTicker(ctx, model.TickerSnapshot{Exchange: model.Exchange, Market: "BTC_USD", Bid: d("1"), Ask: d("2"), ObservedAt: at})
		}))
		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			return tx.UpsertTicker(ctx, model.TickerSnapshot{Exchange: model.Exchange, Market: "BTC_USD", Bid: d("3"), Ask: d("4"), ObservedAt: at})
		}))

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			got, err := tx.GetTicker(ctx, model.Exchange, "BTC_USD")
			require.NoError(t, err)
			assert.True(t, got.Bid.Equal(d("3")))
			assert.True(t, got.Ask.Equal(d("4")))

			_, err = tx.GetTicker(ctx, model.Exchange, "LTC_USD")
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		}))
	})

	t.Run("trade insert is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tr := model.Trade{TradeID: "1", Exchange: model.Exchange, Market: "BTC_USD", Side: model.TradeBuy,
			Amount: d("1"), Price: d("100"), Fee: d("0.1"), FeeSide: model.FeeQuote, Time: time.Unix(1000, 0).UTC()}

		var first, second bool
		require.NoError(t, s.WithTx(ctx, func(tx Tx) (err error) {
			first, err = tx.InsertTrade(ctx, tr)
			return err
		}))
		require.NoError(t, s.WithTx(ctx, func(tx Tx) (err error) {
			second, err = tx.InsertTrade(ctx, tr)
			return err
		}))
		assert.True(t, first)
		assert.False(t, second)

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			ok, err := tx.TradeExists(ctx, model.Exchange, "1")
			require.NoError(t, err)
			assert.True(t, ok)

			latest, err := tx.LatestTradeTime(ctx, model.Exchange, "BTC_USD")
			require.NoError(t, err)
			assert.True(t, latest.Equal(tr.Time))

			none, err := tx.LatestTradeTime(ctx, model.Exchange, "LTC_USD")
			require.NoError(t, err)
			assert.True(t, none.IsZero())
			return nil
		}))
	})

	t.Run("movement key includes kind", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mv := model.Movement{Kind: model.MovementCredit, RefID: "9", Exchange: model.Exchange, Asset: "BTC",
			Amount: d("1"), Status: model.MovementComplete, Time: time.Unix(2000, 0).UTC()}

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			ok, err := tx.InsertMovement(ctx, mv)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = tx.InsertMovement(ctx, mv)
			require.NoError(t, err)
			assert.False(t, ok)

			mv.Kind = model.MovementDebit
			ok, err = tx.InsertMovement(ctx, mv)
			require.NoError(t, err)
			assert.True(t, ok)

			exists, err := tx.MovementExists(ctx, model.Exchange, model.MovementCredit, "9")
			require.NoError(t, err)
			assert.True(t, exists)

			latest, err := tx.LatestMovementTime(ctx, model.Exchange, "BTC")
			require.NoError(t, err)
			assert.True(t, latest.Equal(mv.Time))
			return nil
		}))
	})

	t.Run("balance total only", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		at := time.Unix(3000, 0).UTC()

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			changed, err := tx.UpsertBalance(ctx, model.Balance{Exchange: model.Exchange, Currency: "BTC", Total: d("2"), Available: d("1"), UpdatedAt: at})
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = tx.SetBalanceTotal(ctx, model.Exchange, "BTC", d("2.0"), at)
			require.NoError(t, err)
			assert.False(t, changed, "equal total is not a change")

			changed, err = tx.SetBalanceTotal(ctx, model.Exchange, "BTC", d("5"), at)
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = tx.SetBalanceTotal(ctx, model.Exchange, "USD", d("10"), at)
			require.NoError(t, err)
			assert.True(t, changed)
			return nil
		}))

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			bals, err := tx.ListBalances(ctx, model.Exchange)
			require.NoError(t, err)
			require.Len(t, bals, 2)
			assert.Equal(t, "BTC", bals[0].Currency)
			assert.True(t, bals[0].Total.Equal(d("5")))
			assert.True(t, bals[0].Available.Equal(d("1")), "available must be untouched")
			assert.True(t, bals[1].Available.IsZero())
			return nil
		}))
	})

	t.Run("rollback discards mutations", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.WithTx(ctx, func(tx Tx) error {
			_, err := tx.InsertTrade(ctx, model.Trade{TradeID: "x", Exchange: model.Exchange, Market: "BTC_USD",
				Side: model.TradeSell, FeeSide: model.FeeBase, Time: time.Unix(1, 0).UTC()})
			require.NoError(t, err)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = s.WithTx(ctx, func(tx Tx) error {
			_, err := tx.InsertTrade(ctx, model.Trade{TradeID: "y", Exchange: model.Exchange, Market: "BTC_USD",
				Side: model.TradeSell, FeeSide: model.FeeBase, Time: time.Unix(1, 0).UTC()})
			require.NoError(t, err)
			return ErrRollback
		})
		assert.NoError(t, err)

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			for _, id := range []string{"x", "y"} {
				ok, err := tx.TradeExists(ctx, model.Exchange, id)
				require.NoError(t, err)
				assert.False(t, ok, "trade %s should have been rolled back", id)
			}
			return nil
		}))
	})

	t.Run("order lifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		created := time.Unix(4000, 0).UTC()
		pending := model.Order{LocalID: uuid.New(), Exchange: model.Exchange, Market: "BTC_USD", Side: model.SideBid,
			Price: d("100"), Amount: d("1"), ExecutedAmount: decimal.Zero, State: model.OrderPending, CreatedAt: created}

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			require.NoError(t, tx.InsertOrder(ctx, pending))

			open := pending
			open.OrderID = "555"
			open.State = model.OrderOpen
			require.NoError(t, tx.UpdateOrder(ctx, open))

			got, err := tx.GetOrderByOrderID(ctx, model.Exchange, "555")
			require.NoError(t, err)
			assert.Equal(t, pending.LocalID, got.LocalID)
			assert.Equal(t, model.OrderOpen, got.State)
			return nil
		}))

		// Refresh by external id keeps the local identity.
		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			changed, err := tx.UpsertOrder(ctx, model.Order{OrderID: "555", Exchange: model.Exchange, Market: "BTC_USD",
				Side: model.SideBid, Price: d("100"), Amount: d("1"), ExecutedAmount: d("0.4"), State: model.OrderOpen, CreatedAt: created})
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = tx.UpsertOrder(ctx, model.Order{OrderID: "555", Exchange: model.Exchange, Market: "BTC_USD",
				Side: model.SideBid, Price: d("100.0"), Amount: d("1"), ExecutedAmount: d("0.40"), State: model.OrderOpen, CreatedAt: created})
			require.NoError(t, err)
			assert.False(t, changed, "identical refresh is not a change")

			got, err := tx.GetOrder(ctx, pending.LocalID)
			require.NoError(t, err)
			assert.True(t, got.ExecutedAmount.Equal(d("0.4")))
			return nil
		}))

		// Closed is terminal.
		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			n, err := tx.CloseOrders(ctx, OrderFilter{Exchange: model.Exchange, States: []model.OrderState{model.OrderOpen}})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			changed, err := tx.UpsertOrder(ctx, model.Order{OrderID: "555", Exchange: model.Exchange, Market: "BTC_USD",
				Side: model.SideBid, Price: d("100"), Amount: d("1"), ExecutedAmount: d("0.5"), State: model.OrderOpen, CreatedAt: created})
			require.NoError(t, err)
			assert.False(t, changed)

			reopen := pending
			reopen.OrderID = "555"
			reopen.State = model.OrderOpen
			require.NoError(t, tx.UpdateOrder(ctx, reopen))

			got, err := tx.GetOrder(ctx, pending.LocalID)
			require.NoError(t, err)
			assert.Equal(t, model.OrderClosed, got.State)
			return nil
		}))
	})

	t.Run("order upsert inserts unknown", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			changed, err := tx.UpsertOrder(ctx, model.Order{OrderID: "77", Exchange: model.Exchange, Market: "LTC_BTC",
				Side: model.SideAsk, Price: d("0.01"), Amount: d("3"), State: model.OrderOpen, CreatedAt: time.Unix(10, 0).UTC()})
			require.NoError(t, err)
			assert.True(t, changed)

			got, err := tx.GetOrderByOrderID(ctx, model.Exchange, "77")
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, got.LocalID)
			assert.Equal(t, model.SideAsk, got.Side)

			require.NoError(t, tx.DeleteOrder(ctx, got.LocalID))
			_, err = tx.GetOrder(ctx, got.LocalID)
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		}))
	})

	t.Run("live snapshot sync", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		live := func(id, executed string) model.Order {
			return model.Order{OrderID: id, Exchange: model.Exchange, Market: "BTC_USD", Side: model.SideBid,
				Price: d("100"), Amount: d("1"), ExecutedAmount: d(executed), State: model.OrderOpen, CreatedAt: time.Unix(20, 0).UTC()}
		}

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			inserted, changed, err := tx.SyncLiveOrder(ctx, live("88", "0"))
			require.NoError(t, err)
			assert.True(t, inserted)
			assert.False(t, changed)

			// The stream reports the same order through the other path.
			changed, err = tx.UpsertOrder(ctx, live("88", "0.25"))
			require.NoError(t, err)
			assert.True(t, changed)

			inserted, changed, err = tx.SyncLiveOrder(ctx, live("88", "0.25"))
			require.NoError(t, err)
			assert.False(t, inserted)
			assert.False(t, changed)

			// And the other way round.
			changed, err = tx.UpsertOrder(ctx, live("89", "0"))
			require.NoError(t, err)
			assert.True(t, changed)
			inserted, _, err = tx.SyncLiveOrder(ctx, live("89", "0"))
			require.NoError(t, err)
			assert.False(t, inserted)

			all, err := tx.ListOrders(ctx, OrderFilter{Exchange: model.Exchange})
			require.NoError(t, err)
			assert.Len(t, all, 2)
			return nil
		}))

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			before, err := tx.GetOrderByOrderID(ctx, model.Exchange, "88")
			require.NoError(t, err)
			_, err = tx.CloseOrders(ctx, OrderFilter{Exchange: model.Exchange})
			require.NoError(t, err)

			inserted, changed, err := tx.SyncLiveOrder(ctx, live("88", "0.25"))
			require.NoError(t, err)
			assert.False(t, inserted)
			assert.True(t, changed, "a live order reopens")

			got, err := tx.GetOrderByOrderID(ctx, model.Exchange, "88")
			require.NoError(t, err)
			assert.Equal(t, model.OrderOpen, got.State)
			assert.Equal(t, before.LocalID, got.LocalID)
			return nil
		}))
	})

	t.Run("order filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mk := func(id, market string, side model.Side, state model.OrderState, at int64) model.Order {
			return model.Order{LocalID: uuid.New(), OrderID: id, Exchange: model.Exchange, Market: market, Side: side,
				Price: d("1"), Amount: d("1"), State: state, CreatedAt: time.Unix(at, 0).UTC()}
		}

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			require.NoError(t, tx.InsertOrder(ctx, mk("1", "BTC_USD", model.SideBid, model.OrderOpen, 1)))
			require.NoError(t, tx.InsertOrder(ctx, mk("2", "BTC_USD", model.SideAsk, model.OrderOpen, 2)))
			require.NoError(t, tx.InsertOrder(ctx, mk("3", "LTC_USD", model.SideBid, model.OrderOpen, 3)))
			require.NoError(t, tx.InsertOrder(ctx, mk("", "BTC_USD", model.SideBid, model.OrderPending, 4)))
			return nil
		}))

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			all, err := tx.ListOrders(ctx, OrderFilter{Exchange: model.Exchange})
			require.NoError(t, err)
			assert.Len(t, all, 4)
			assert.Equal(t, "1", all[0].OrderID, "ordered by creation")

			btcBids, err := tx.ListOrders(ctx, OrderFilter{Market: "BTC_USD", Side: model.SideBid})
			require.NoError(t, err)
			assert.Len(t, btcBids, 2)

			accepted, err := tx.ListOrders(ctx, OrderFilter{WithOrderID: true})
			require.NoError(t, err)
			assert.Len(t, accepted, 3)

			n, err := tx.CloseOrders(ctx, OrderFilter{Market: "BTC_USD", States: []model.OrderState{model.OrderOpen}})
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			open, err := tx.ListOrders(ctx, OrderFilter{States: []model.OrderState{model.OrderOpen, model.OrderPending}})
			require.NoError(t, err)
			assert.Len(t, open, 2)
			return nil
		}))
	})
}
