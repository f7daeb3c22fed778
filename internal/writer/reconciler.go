package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/bitfinex-sync/internal/metrics"
	"github.com/rickgao/bitfinex-sync/internal/model"
	"github.com/rickgao/bitfinex-sync/internal/router"
	"github.com/rickgao/bitfinex-sync/internal/store"
)

// Result is the outcome of applying one event.
type Result string

const (
	ResultCommitted Result = "committed"
	ResultNoop      Result = "noop"
	ResultFailed    Result = "failed"
)

// exchangeWallet is the only wallet type reconciled into balances.
const exchangeWallet = "exchange"

// ReconcilerStats contains runtime statistics.
type ReconcilerStats struct {
	EventsApplied int64
	Committed     int64
	Noops         int64
	Failed        int64
	LastCommitAt  time.Time
}

// Reconciler consumes router events and applies them to the store.
type Reconciler struct {
	logger  *slog.Logger
	store   store.Store
	metrics *metrics.Metrics

	// Input from Message Router
	input *router.Queue[router.Event]

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats ReconcilerStats
}

// NewReconciler creates a Reconciler. m may be nil.
func NewReconciler(input *router.Queue[router.Event], st store.Store, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		logger:  logger,
		store:   st,
		metrics: m,
		input:   input,
	}
}

// Start begins consuming events.
func (w *Reconciler) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop(ctx)

	w.logger.Info("event reconciler started")
	return nil
}

// Stop shuts down the consumer, then applies whatever is still buffered.
func (w *Reconciler) Stop(ctx context.Context) error {
	w.logger.Info("stopping event reconciler")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("event reconciler stop timed out")
		return ctx.Err()
	}

	drained := 0
	for ctx.Err() == nil {
		ev, ok := w.input.TryPop()
		if !ok {
			break
		}
		w.Apply(ctx, ev)
		drained++
	}

	w.logger.Info("event reconciler stopped", "drained", drained)
	return nil
}

// Stats returns current statistics.
func (w *Reconciler) Stats() ReconcilerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// consumeLoop applies events in queue order until ctx is done or the queue
// is closed and drained.
func (w *Reconciler) consumeLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		ev, ok := w.input.Pop(ctx)
		if !ok {
			return
		}
		w.Apply(ctx, ev)
	}
}

// Apply reconciles one event in its own transaction.
func (w *Reconciler) Apply(ctx context.Context, ev router.Event) Result {
	var mutated bool
	err := w.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		mutated, err = w.apply(ctx, tx, ev)
		if err != nil {
			return err
		}
		if !mutated {
			return store.ErrRollback
		}
		return nil
	})

	result := ResultCommitted
	switch {
	case err != nil:
		result = ResultFailed
		var perr *store.PersistenceError
		if errors.As(err, &perr) {
			w.logger.Error("commit failed, frame rolled back", "event", eventName(ev), "error", err)
		} else {
			w.logger.Error("frame not applied, rolled back", "event", eventName(ev), "error", err)
		}
	case !mutated:
		result = ResultNoop
	}

	w.record(result)
	return result
}

func (w *Reconciler) record(result Result) {
	w.metrics.ObserveCommit(string(result))

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.EventsApplied++
	switch result {
	case ResultCommitted:
		w.stats.Committed++
		w.stats.LastCommitAt = time.Now()
	case ResultNoop:
		w.stats.Noops++
	case ResultFailed:
		w.stats.Failed++
	}
}

// apply stages every record of ev and reports whether any changed local state.
func (w *Reconciler) apply(ctx context.Context, tx store.Tx, ev router.Event) (bool, error) {
	switch e := ev.(type) {
	case router.TickerUpdate:
		if err := tx.UpsertTicker(ctx, e.Snapshot); err != nil {
			return false, fmt.Errorf("upsert ticker %s: %w", e.Snapshot.Market, err)
		}
		return true, nil

	case router.WalletUpdate:
		mutated := false
		for _, wl := range e.Wallets {
			if wl.Type != exchangeWallet {
				continue
			}
			changed, err := tx.SetBalanceTotal(ctx, model.Exchange, wl.Currency, wl.Balance, e.ReceivedAt)
			if err != nil {
				return false, fmt.Errorf("set balance %s: %w", wl.Currency, err)
			}
			mutated = mutated || changed
		}
		return mutated, nil

	case router.TradeUpdate:
		mutated := false
		for _, t := range e.Trades {
			inserted, err := tx.InsertTrade(ctx, t)
			if err != nil {
				return false, fmt.Errorf("insert trade %s: %w", t.TradeID, err)
			}
			if inserted {
				w.logger.Debug("trade recorded", "trade_id", t.TradeID, "market", t.Market)
			}
			mutated = mutated || inserted
		}
		return mutated, nil

	case router.OrderUpdate:
		mutated := false
		for _, o := range e.Orders {
			changed, err := tx.UpsertOrder(ctx, o)
			if err != nil {
				return false, fmt.Errorf("upsert order %s: %w", o.OrderID, err)
			}
			mutated = mutated || changed
		}
		return mutated, nil

	default:
		w.logger.Debug("ignoring event", "event", eventName(ev))
		return false, nil
	}
}

func eventName(ev router.Event) string {
	switch ev.(type) {
	case router.TickerUpdate:
		return "ticker"
	case router.WalletUpdate:
		return "wallet"
	case router.TradeUpdate:
		return "trade"
	case router.OrderUpdate:
		return "order"
	default:
		return fmt.Sprintf("%T", ev)
	}
}
