// Package market tracks the markets the gatherer streams and syncs.
//
// The active set is the configured live pairs, narrowed to the pairs the exchange
// currently lists. When the symbol listing cannot be fetched the configured pairs
// are used unchanged.
package market

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

// ChangeBufferSize is the capacity of the MarketChange channel.
const ChangeBufferSize = 100

// SymbolSource lists the native pairs the exchange currently trades.
type SymbolSource interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Registry tracks the active canonical markets.
type Registry interface {
	// Start performs the initial sync and begins periodic refresh.
	Start(ctx context.Context) error

	// Stop gracefully shuts down.
	Stop(ctx context.Context) error

	// GetActiveMarkets returns the active canonical markets, sorted.
	GetActiveMarkets() []string

	// IsActive reports whether a canonical market is active.
	IsActive(market string) bool

	// SubscribeChanges returns a channel of active-set changes.
	SubscribeChanges() <-chan MarketChange
}

// MarketChange reports a market entering or leaving the active set.
type MarketChange struct {
	Market    string
	EventType string // "added" or "removed"
}

// Config holds Market Registry configuration.
type Config struct {
	LivePairs       []string // Canonical markets to track
	RefreshInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LivePairs:       []string{"BTC_USD"},
		RefreshInterval: 10 * time.Minute,
	}
}

type registryImpl struct {
	cfg    Config
	source SymbolSource
	codec  *symbol.Codec
	logger *slog.Logger

	mu         sync.RWMutex
	active     map[string]struct{}
	lastSyncAt time.Time
	changes    chan MarketChange

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a registry. A nil source disables the exchange listing check.
func NewRegistry(cfg Config, source SymbolSource, codec *symbol.Codec, logger *slog.Logger) Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if codec == nil {
		codec = symbol.Default
	}

	return &registryImpl{
		cfg:     cfg,
		source:  source,
		codec:   codec,
		logger:  logger,
		active:  make(map[string]struct{}),
		changes: make(chan MarketChange, ChangeBufferSize),
	}
}

// Start performs the initial sync and begins periodic refresh.
func (r *registryImpl) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.refresh(ctx)

	if r.cfg.RefreshInterval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.refreshLoop(ctx)
		}()
	}

	r.logger.Info("market registry started", "active_markets", len(r.GetActiveMarkets()))
	return nil
}

// Stop gracefully shuts down.
func (r *registryImpl) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("market registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetActiveMarkets returns the active canonical markets, sorted.
func (r *registryImpl) GetActiveMarkets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.active))
	for m := range r.active {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// IsActive reports whether a canonical market is active.
func (r *registryImpl) IsActive(market string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[market]
	return ok
}

// SubscribeChanges returns a channel of active-set changes.
func (r *registryImpl) SubscribeChanges() <-chan MarketChange {
	return r.changes
}
