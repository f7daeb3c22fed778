package market

import (
	"context"
	"time"
)

func (r *registryImpl) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh recomputes the active set and emits a change for every difference.
func (r *registryImpl) refresh(ctx context.Context) {
	next := r.configured()

	if r.source != nil {
		listed, err := r.source.Symbols(ctx)
		if err != nil {
			r.logger.Warn("symbol listing unavailable, using configured pairs", "error", err)
		} else {
			next = r.intersect(next, listed)
		}
	}

	r.mu.Lock()
	for m := range next {
		if _, ok := r.active[m]; !ok {
			r.notifyChange(MarketChange{Market: m, EventType: "added"})
		}
	}
	for m := range r.active {
		if _, ok := next[m]; !ok {
			r.notifyChange(MarketChange{Market: m, EventType: "removed"})
		}
	}
	r.active = next
	r.lastSyncAt = time.Now()
	r.mu.Unlock()

	r.logger.Debug("market registry refreshed", "active_markets", len(next))
}

// configured returns the canonical form of every valid configured pair.
func (r *registryImpl) configured() map[string]struct{} {
	out := make(map[string]struct{}, len(r.cfg.LivePairs))
	for _, p := range r.cfg.LivePairs {
		base, quote, err := r.codec.ParseMarket(p)
		if err != nil {
			r.logger.Warn("ignoring invalid live pair", "pair", p, "error", err)
			continue
		}
		out[base+"_"+quote] = struct{}{}
	}
	return out
}

func (r *registryImpl) intersect(configured map[string]struct{}, listed []string) map[string]struct{} {
	exchange := make(map[string]struct{}, len(listed))
	for _, native := range listed {
		exchange[r.codec.FormatMarket(native)] = struct{}{}
	}

	out := make(map[string]struct{}, len(configured))
	for m := range configured {
		if _, ok := exchange[m]; ok {
			out[m] = struct{}{}
		} else {
			r.logger.Warn("configured pair not listed by exchange", "market", m)
		}
	}
	return out
}

// notifyChange sends without blocking (caller holds the lock).
func (r *registryImpl) notifyChange(c MarketChange) {
	select {
	case r.changes <- c:
	default:
		r.logger.Warn("market change buffer full, dropping", "market", c.Market, "event", c.EventType)
	}
}
