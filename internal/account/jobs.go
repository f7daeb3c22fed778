package account

import (
	"context"
	"time"

	"github.com/rickgao/bitfinex-sync/internal/poller"
)

// MarketSource provides the markets whose tickers are synced.
type MarketSource interface {
	GetActiveMarkets() []string
}

// BalancesJob syncs exchange wallet balances on every tick.
func BalancesJob(s *Syncer, interval time.Duration) poller.Job {
	return poller.Job{
		Name:     "sync_balances",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := s.SyncBalances(ctx)
			return err
		},
	}
}

// TickersJob syncs the ticker of every active market on every tick.
func TickersJob(s *Syncer, markets MarketSource, interval time.Duration) poller.Job {
	return poller.Job{
		Name:     "sync_tickers",
		Interval: interval,
		Run: func(ctx context.Context) error {
			return s.SyncTickers(ctx, markets.GetActiveMarkets())
		},
	}
}
