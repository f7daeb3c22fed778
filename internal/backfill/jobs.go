package backfill

import (
	"context"
	"time"

	"github.com/rickgao/bitfinex-sync/internal/poller"
)

// MarketSource provides the markets whose trades are backfilled.
type MarketSource interface {
	GetActiveMarkets() []string
}

// TradesJob resumes trade history for every active market.
func TradesJob(e *Engine, markets MarketSource, interval time.Duration) poller.Job {
	return poller.Job{
		Name:     "backfill_trades",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := e.TradesAll(ctx, markets.GetActiveMarkets(), Resume)
			return err
		},
	}
}

// MovementsJob resumes deposit and withdrawal history for each currency.
func MovementsJob(e *Engine, currencies []string, interval time.Duration) poller.Job {
	return poller.Job{
		Name:     "backfill_movements",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := e.MovementsAll(ctx, currencies, Resume)
			return err
		},
	}
}
