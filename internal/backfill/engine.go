package backfill

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/rickgao/bitfinex-sync/internal/api"
	"github.com/rickgao/bitfinex-sync/internal/metrics"
	"github.com/rickgao/bitfinex-sync/internal/model"
	"github.com/rickgao/bitfinex-sync/internal/store"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

// Source fetches history pages, newest first.
type Source interface {
	MyTrades(ctx context.Context, symbol string, q api.HistoryQuery) ([]api.Trade, error)
	Movements(ctx context.Context, currency string, q api.HistoryQuery) ([]api.Movement, error)
}

// Kind names the history being backfilled.
type Kind string

const (
	KindTrades    Kind = "trades"
	KindMovements Kind = "movements"
)

// StopReason explains why a run ended.
type StopReason string

const (
	StopCaughtUp   StopReason = "caught_up"   // A page added no new records
	StopEmpty      StopReason = "empty"       // The exchange returned no rows
	StopMalformed  StopReason = "malformed"   // The page could not be decoded
	StopLowerBound StopReason = "lower_bound" // The cursor reached the lower bound
	StopMaxPages   StopReason = "max_pages"
	StopError      StopReason = "error"
)

// Config holds engine configuration.
type Config struct {
	PageSize    int // Rows requested per page (default: 500)
	Concurrency int // Markets or currencies backfilled at once (default: 2)
	MaxPages    int // Pages per run, 0 for no limit
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:    500,
		Concurrency: 2,
	}
}

// Result summarizes one run for one market or currency.
type Result struct {
	Kind     Kind
	Key      string // Canonical market or currency
	Pages    int
	Inserted int
	Skipped  int
	Oldest   time.Time // Frontier: oldest record inserted by this run
	Stop     StopReason
}

// Engine runs backfills.
type Engine struct {
	cfg     Config
	src     Source
	store   store.Store
	codec   *symbol.Codec
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCodec sets the symbol codec. Defaults to symbol.Default.
func WithCodec(c *symbol.Codec) Option {
	return func(e *Engine) {
		e.codec = c
	}
}

// WithClock overrides the time source used for the starting cursor.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a backfill engine.
func NewEngine(cfg Config, src Source, st store.Store, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	e := &Engine{
		cfg:     cfg,
		src:     src,
		store:   st,
		codec:   symbol.Default,
		metrics: m,
		logger:  logger.With("component", "backfill"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pageStats is the outcome of fetching and applying one page.
type pageStats struct {
	Fetched   int
	Inserted  int
	Skipped   int
	Malformed int
	Oldest    time.Time
}

func (s *pageStats) inserted(t time.Time) {
	s.Inserted++
	if s.Oldest.IsZero() || t.Before(s.Oldest) {
		s.Oldest = t
	}
}

type pageFunc func(ctx context.Context, q api.HistoryQuery) (pageStats, error)

// Trades backfills fills for a canonical market.
func (e *Engine) Trades(ctx context.Context, market string, since Since) (Result, error) {
	res := Result{Kind: KindTrades, Key: market}

	lower, err := e.lowerBound(ctx, since, func(tx store.Tx) (time.Time, error) {
		return tx.LatestTradeTime(ctx, model.Exchange, market)
	})
	if err != nil {
		res.Stop = StopError
		return res, err
	}

	native := e.codec.UnformatMarket(market)
	return e.paginate(ctx, res, lower, func(ctx context.Context, q api.HistoryQuery) (pageStats, error) {
		rows, err := e.src.MyTrades(ctx, native, q)
		if err != nil {
			return pageStats{}, err
		}
		st := pageStats{Fetched: len(rows)}
		if len(rows) == 0 {
			return st, nil
		}

		err = e.store.WithTx(ctx, func(tx store.Tx) error {
			for i := range rows {
				if rows[i].TID == 0 || rows[i].Timestamp.IsZero() {
					st.Malformed++
					continue
				}
				t := rows[i].ToModel(e.codec, market)
				ok, err := tx.InsertTrade(ctx, t)
				if err != nil {
					return fmt.Errorf("insert trade %s: %w", t.TradeID, err)
				}
				if !ok {
					st.Skipped++
					continue
				}
				st.inserted(t.Time)
			}
			if st.Inserted == 0 {
				return store.ErrRollback
			}
			return nil
		})
		return st, err
	})
}

// Movements backfills completed deposits and withdrawals for a canonical currency.
// Rows in any other status are skipped and re-evaluated on the next run.
func (e *Engine) Movements(ctx context.Context, currency string, since Since) (Result, error) {
	currency = e.codec.FormatCommodity(currency)
	res := Result{Kind: KindMovements, Key: currency}

	lower, err := e.lowerBound(ctx, since, func(tx store.Tx) (time.Time, error) {
		return tx.LatestMovementTime(ctx, model.Exchange, currency)
	})
	if err != nil {
		res.Stop = StopError
		return res, err
	}

	native := e.codec.UnformatCommodity(currency)
	return e.paginate(ctx, res, lower, func(ctx context.Context, q api.HistoryQuery) (pageStats, error) {
		rows, err := e.src.Movements(ctx, native, q)
		if err != nil {
			return pageStats{}, err
		}
		st := pageStats{Fetched: len(rows)}
		if len(rows) == 0 {
			return st, nil
		}

		err = e.store.WithTx(ctx, func(tx store.Tx) error {
			for i := range rows {
				if !strings.EqualFold(rows[i].Status, "COMPLETED") {
					st.Skipped++
					continue
				}
				mv, ok := rows[i].ToModel(e.codec)
				if !ok || rows[i].ID == 0 || mv.Time.IsZero() {
					st.Malformed++
					continue
				}
				inserted, err := tx.InsertMovement(ctx, mv)
				if err != nil {
					return fmt.Errorf("insert movement %s/%s: %w", mv.Kind, mv.RefID, err)
				}
				if !inserted {
					st.Skipped++
					continue
				}
				st.inserted(mv.Time)
			}
			if st.Inserted == 0 {
				return store.ErrRollback
			}
			return nil
		})
		return st, err
	})
}

// paginate drives the backward cursor until a stop condition is met.
func (e *Engine) paginate(ctx context.Context, res Result, lower time.Time, page pageFunc) (Result, error) {
	logger := e.logger.With("kind", res.Kind, "key", res.Key)
	until := e.now().UTC()

	for {
		if err := ctx.Err(); err != nil {
			res.Stop = StopError
			return res, err
		}
		if e.cfg.MaxPages > 0 && res.Pages >= e.cfg.MaxPages {
			res.Stop = StopMaxPages
			break
		}

		st, err := page(ctx, api.HistoryQuery{Since: lower, Until: until, Limit: e.cfg.PageSize})
		if err != nil {
			var decodeErr *api.DecodeError
			if errors.As(err, &decodeErr) {
				e.metrics.ObserveDecodeError("backfill")
				logger.Warn("malformed history page", "until", until, "error", err)
				res.Stop = StopMalformed
				break
			}
			res.Stop = StopError
			return res, fmt.Errorf("backfill %s %s: %w", res.Kind, res.Key, err)
		}

		res.Pages++
		res.Inserted += st.Inserted
		res.Skipped += st.Skipped
		e.metrics.ObserveBackfill(string(res.Kind), "inserted", st.Inserted)
		e.metrics.ObserveBackfill(string(res.Kind), "skipped", st.Skipped)
		if st.Malformed > 0 {
			e.metrics.ObserveBackfill(string(res.Kind), "malformed", st.Malformed)
			logger.Warn("dropped malformed history records", "count", st.Malformed)
		}

		if st.Fetched == 0 {
			res.Stop = StopEmpty
			break
		}
		if st.Inserted == 0 {
			res.Stop = StopCaughtUp
			break
		}

		if res.Oldest.IsZero() || st.Oldest.Before(res.Oldest) {
			res.Oldest = st.Oldest
		}

		next := st.Oldest
		if !next.Before(until) {
			next = until.Add(-time.Millisecond)
		}
		until = next

		if !lower.IsZero() && !until.After(lower) {
			res.Stop = StopLowerBound
			break
		}
	}

	logger.Info("backfill complete",
		"pages", res.Pages,
		"inserted", res.Inserted,
		"skipped", res.Skipped,
		"stop", res.Stop,
	)
	return res, nil
}

// lowerBound resolves since into the oldest time a run may request.
func (e *Engine) lowerBound(ctx context.Context, since Since, latest func(store.Tx) (time.Time, error)) (time.Time, error) {
	switch since.Mode {
	case FromNow:
		return time.Time{}, nil
	case FromTime:
		return since.Time, nil
	case ResumeFromLastKnown:
		var t time.Time
		err := e.store.WithTx(ctx, func(tx store.Tx) error {
			var err error
			t, err = latest(tx)
			if err != nil {
				return err
			}
			return store.ErrRollback
		})
		if err != nil {
			return time.Time{}, fmt.Errorf("resolve resume point: %w", err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("unknown since mode %v", since.Mode)
	}
}

// TradesAll backfills every market with bounded concurrency. A failing market
// does not stop the others; failures are joined into the returned error.
func (e *Engine) TradesAll(ctx context.Context, markets []string, since Since) ([]Result, error) {
	return e.all(ctx, markets, func(ctx context.Context, key string) (Result, error) {
		return e.Trades(ctx, key, since)
	})
}

// MovementsAll backfills every currency with bounded concurrency.
func (e *Engine) MovementsAll(ctx context.Context, currencies []string, since Since) ([]Result, error) {
	return e.all(ctx, currencies, func(ctx context.Context, key string) (Result, error) {
		return e.Movements(ctx, key, since)
	})
}

func (e *Engine) all(ctx context.Context, keys []string, run func(context.Context, string) (Result, error)) ([]Result, error) {
	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(keys))
		errs    []error
	)

	p := pool.New().WithMaxGoroutines(e.cfg.Concurrency)
	for _, key := range keys {
		p.Go(func() {
			res, err := run(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			if err != nil {
				errs = append(errs, err)
			}
		})
	}
	p.Wait()

	slices.SortFunc(results, func(a, b Result) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return results, errors.Join(errs...)
}
