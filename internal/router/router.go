package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"github.com/rickgao/bitfinex-sync/internal/connection"
	"github.com/rickgao/bitfinex-sync/internal/metrics"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

// Router decodes raw stream frames, tracks channel bindings, and emits one
// Event per bound data frame.
type Router interface {
	// Start begins routing messages from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router and closes the event queue.
	Stop(ctx context.Context) error

	// Events returns the output queue for the reconciler.
	Events() *Queue[Event]

	// Stats returns current router statistics.
	Stats() RouterStats
}

// Restarter tears down the stream connection.
type Restarter interface {
	Restart(reason string)
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	EventsRouted     int64
	ParseErrors      int64
	UnboundFrames    int64
	AuthFailures     int64
	Bindings         int
	Queue            QueueStats
}

// Option configures a Router.
type Option func(*router)

// WithMetrics records frame, decode and auth counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *router) { r.metrics = m }
}

// WithCodec overrides the symbol codec.
func WithCodec(c *symbol.Codec) Option {
	return func(r *router) { r.codec = c }
}

// router is the internal implementation.
type router struct {
	cfg       RouterConfig
	logger    *slog.Logger
	codec     *symbol.Codec
	metrics   *metrics.Metrics
	restarter Restarter

	// Input from the stream session
	input <-chan connection.RawMessage

	// Output to the reconciler
	events *Queue[Event]

	// Owned by the route goroutine
	bindings *Bindings

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	mu           sync.RWMutex
	received     int64
	routed       int64
	parseErrors  int64
	unbound      int64
	authFailures int64
	bound        int
}

// NewRouter creates a new Message Router. restarter may be nil.
func NewRouter(cfg RouterConfig, input <-chan connection.RawMessage, restarter Restarter, logger *slog.Logger, opts ...Option) Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &router{
		cfg:       cfg,
		logger:    logger,
		codec:     symbol.Default,
		restarter: restarter,
		input:     input,
		events:    NewQueue[Event](cfg.QueueSize),
		bindings:  NewBindings(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.events.OnGrow(func(int) { r.metrics.ObserveBufferGrow() })
	return r
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop(ctx)

	r.logger.Info("message router started", "queue_size", r.cfg.QueueSize)
	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

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
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	r.events.Close()
	return nil
}

// Events returns the output queue.
func (r *router) Events() *Queue[Event] {
	return r.events
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived: r.received,
		EventsRouted:     r.routed,
		ParseErrors:      r.parseErrors,
		UnboundFrames:    r.unbound,
		AuthFailures:     r.authFailures,
		Bindings:         r.bound,
		Queue:            r.events.Stats(),
	}
}

// routeLoop is the main routing goroutine. The event queue closes when the
// input channel does, so the reconciler drains and exits.
func (r *router) routeLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				r.events.Close()
				return
			}
			r.route(raw)
		}
	}
}

// route decodes and dispatches a single frame.
func (r *router) route(raw connection.RawMessage) {
	defer r.finish()

	if r.bindings.Observe(raw.Gen) {
		r.logger.Info("new stream connection, channel bindings cleared", "gen", raw.Gen)
	}

	frame, err := Decode(raw.Data)
	if err != nil {
		r.decodeFailed(err, len(raw.Data))
		return
	}

	switch f := frame.(type) {
	case Heartbeat:
		r.metrics.ObserveFrame("heartbeat")

	case SubscriptionAck:
		r.metrics.ObserveFrame("subscribed")
		if f.Channel != string(TopicTicker) {
			r.logger.Debug("ignoring subscription", "channel", f.Channel, "chan_id", f.ChanID)
			return
		}
		market := r.codec.FormatMarket(f.Pair)
		r.bindings.Bind(f.ChanID, Binding{Topic: TopicTicker, Market: market})
		r.logger.Info("subscribed to ticker channel", "market", market, "chan_id", f.ChanID)

	case AuthAck:
		r.metrics.ObserveFrame("auth")
		if !f.OK() {
			r.authFailed(f)
			return
		}
		r.bindings.Bind(f.ChanID, Binding{Topic: TopicAccount, UserID: f.UserID})
		r.logger.Info("subscribed to account channel", "chan_id", f.ChanID, "user_id", f.UserID)

	case InfoEvent:
		r.metrics.ObserveFrame("info")
		if f.Event == "error" {
			r.logger.Warn("stream error event", "code", f.Code, "msg", f.Msg)
		} else {
			r.logger.Debug("stream event", "event", f.Event, "code", f.Code)
		}

	case DataFrame:
		r.dispatch(f, raw)

	case Unknown:
		r.metrics.ObserveFrame("unknown")
		r.logger.Debug("skipping unrecognized frame", "size", len(f.Raw))
	}
}

// finish counts a fully processed frame.
func (r *router) finish() {
	r.mu.Lock()
	r.received++
	r.bound = r.bindings.Len()
	r.mu.Unlock()
}

func (r *router) authFailed(f AuthAck) {
	r.mu.Lock()
	r.authFailures++
	r.mu.Unlock()
	r.metrics.ObserveAuthFailure()

	r.logger.Error("account auth failed", "code", f.Code, "msg", f.Msg)
	if r.restarter != nil {
		r.restarter.Restart("auth failed: " + f.Msg)
	}
}

func (r *router) decodeFailed(err error, size int) {
	r.mu.Lock()
	r.parseErrors++
	r.mu.Unlock()

	what := "frame"
	var de *DecodeError
	if errors.As(err, &de) {
		what = de.What
	}
	r.metrics.ObserveDecodeError(what)
	r.logger.Warn("dropping undecodable data", "what", what, "error", err, "size", size)
}

// dispatch turns a bound data frame into an Event.
func (r *router) dispatch(f DataFrame, raw connection.RawMessage) {
	binding, ok := r.bindings.Lookup(f.ChanID)
	if !ok {
		r.mu.Lock()
		r.unbound++
		r.mu.Unlock()
		r.metrics.ObserveFrame("unbound")
		return
	}

	var ev Event
	switch binding.Topic {
	case TopicTicker:
		r.metrics.ObserveFrame("ticker")
		snap, err := decodeTicker(f.Payload, binding.Market, raw.ReceivedAt)
		if err != nil {
			r.decodeFailed(err, len(raw.Data))
			return
		}
		ev = TickerUpdate{Snapshot: snap, ReceivedAt: raw.ReceivedAt}

	case TopicAccount:
		r.metrics.ObserveFrame("account")
		ev = r.decodeAccount(f.Payload, raw)
	}

	if ev == nil {
		return
	}
	if r.events.Push(ev) {
		r.mu.Lock()
		r.routed++
		r.mu.Unlock()
	}
}

// decodeAccount selects a sub-decoder by the account tag. Malformed records
// are dropped individually. Unknown tags yield no event.
func (r *router) decodeAccount(payload []json.RawMessage, raw connection.RawMessage) Event {
	if len(payload) < 2 {
		return nil
	}
	tag, err := stringField(payload[0])
	if err != nil {
		r.decodeFailed(decodeErr("frame", "account tag: %v", err), len(raw.Data))
		return nil
	}

	kind := accountKind(tag)
	if kind == "" {
		r.logger.Debug("ignoring account message", "tag", tag)
		return nil
	}

	recs, err := records(payload[1])
	if err != nil {
		r.decodeFailed(&DecodeError{What: kind, Err: err}, len(raw.Data))
		return nil
	}

	switch kind {
	case "wallet":
		ev := WalletUpdate{Tag: tag, ReceivedAt: raw.ReceivedAt}
		for _, rec := range recs {
			w, err := decodeWallet(rec, r.codec)
			if err != nil {
				r.decodeFailed(err, len(raw.Data))
				continue
			}
			ev.Wallets = append(ev.Wallets, w)
		}
		return ev

	case "trade":
		ev := TradeUpdate{Tag: tag, ReceivedAt: raw.ReceivedAt}
		for _, rec := range recs {
			if tag == "tu" {
				rec = tradeUpdateRecord(rec)
			}
			t, err := decodeTrade(rec, r.codec)
			if err != nil {
				r.decodeFailed(err, len(raw.Data))
				continue
			}
			ev.Trades = append(ev.Trades, t)
		}
		return ev

	default:
		ev := OrderUpdate{Tag: tag, ReceivedAt: raw.ReceivedAt}
		for _, rec := range recs {
			o, err := decodeOrder(rec, r.codec)
			if err != nil {
				r.decodeFailed(err, len(raw.Data))
				continue
			}
			ev.Orders = append(ev.Orders, o)
		}
		return ev
	}
}

func accountKind(tag string) string {
	switch tag {
	case "ws", "wu":
		return "wallet"
	case "ts", "tu":
		return "trade"
	case "os", "on", "ou", "oc":
		return "order"
	default:
		return ""
	}
}
