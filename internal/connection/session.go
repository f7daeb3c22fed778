package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/bitfinex-sync/internal/auth"
	"github.com/rickgao/bitfinex-sync/internal/metrics"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

// Session keeps one authenticated, subscribed stream connection alive.
type Session interface {
	// Start launches the connection loop and returns immediately.
	Start(ctx context.Context) error

	// Stop cancels the loop and waits for it to exit.
	Stop(ctx context.Context) error

	// Messages returns the frames of every connection generation, in arrival order.
	// The channel is closed once the loop exits.
	Messages() <-chan RawMessage

	// Restart tears down the current connection and reconnects.
	Restart(reason string)

	// State returns the current lifecycle state.
	State() State

	// Generation returns the generation of the newest connection, 0 before the first.
	Generation() uint64
}

// MarketSource provides the canonical markets to subscribe.
type MarketSource interface {
	GetActiveMarkets() []string
}

// AuthSigner produces the signed account-channel auth message.
type AuthSigner interface {
	SignAuth() auth.AuthMessage
}

// SessionOption configures a Session.
type SessionOption func(*session)

// WithSessionMetrics records reconnects.
func WithSessionMetrics(m *metrics.Metrics) SessionOption {
	return func(s *session) { s.metrics = m }
}

// WithCodec overrides the symbol codec used for subscribe pairs.
func WithCodec(c *symbol.Codec) SessionOption {
	return func(s *session) { s.codec = c }
}

// WithClientFactory overrides how connections are created.
func WithClientFactory(f func(ClientConfig, *slog.Logger) Client) SessionOption {
	return func(s *session) { s.newClient = f }
}

type session struct {
	cfg       SessionConfig
	markets   MarketSource
	signer    AuthSigner
	codec     *symbol.Codec
	metrics   *metrics.Metrics
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	out     chan RawMessage
	restart chan string

	state atomic.Int32
	gen   atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a stream Session. A nil signer skips account authentication.
func NewSession(cfg SessionConfig, markets MarketSource, signer AuthSigner, logger *slog.Logger, opts ...SessionOption) Session {
	if logger == nil {
		logger = slog.Default()
	}

	s := &session{
		cfg:       cfg,
		markets:   markets,
		signer:    signer,
		codec:     symbol.Default,
		logger:    logger,
		newClient: NewClient,
		out:       make(chan RawMessage, cfg.MessageBufferSize),
		restart:   make(chan string, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the connection loop.
func (s *session) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.out)
		s.run(ctx)
	}()

	s.logger.Info("stream session started", "url", s.cfg.Client.URL)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *session) Stop(ctx context.Context) error {
	s.logger.Info("stopping stream session")

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("stream session stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, stream session still running")
		return ctx.Err()
	}
}

// Messages returns the output channel for the router.
func (s *session) Messages() <-chan RawMessage {
	return s.out
}

// Restart tears down the current connection. Requests made while one is
// already queued are coalesced.
func (s *session) Restart(reason string) {
	select {
	case s.restart <- reason:
	default:
	}
}

// State returns the current lifecycle state.
func (s *session) State() State {
	return State(s.state.Load())
}

// Generation returns the generation of the newest connection.
func (s *session) Generation() uint64 {
	return s.gen.Load()
}

func (s *session) setState(st State) {
	if State(s.state.Swap(int32(st))) != st {
		s.logger.Debug("stream session state", "state", st.String())
	}
}

// run dials, serves and re-dials until ctx is done.
func (s *session) run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	if s.cfg.ReconnectBaseWait > 0 {
		b.InitialInterval = s.cfg.ReconnectBaseWait
	}
	if s.cfg.ReconnectMaxWait > 0 {
		b.MaxInterval = s.cfg.ReconnectMaxWait
	}

	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		ready, err := s.serve(ctx)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}

		if ready {
			b.Reset()
		}
		s.metrics.ObserveReconnect()

		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = b.MaxInterval
		}
		if IsRestart(err) {
			s.logger.Info("stream restart requested", "reason", err, "gen", s.gen.Load(), "backoff", sleep)
		} else {
			s.logger.Warn("stream connection lost, reconnecting",
				"error", err,
				"gen", s.gen.Load(),
				"backoff", sleep,
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// serve runs one connection generation. ready reports whether the connection
// got as far as subscribing and authenticating.
func (s *session) serve(ctx context.Context) (ready bool, err error) {
	// A restart requested against an earlier connection does not apply to this one.
	select {
	case <-s.restart:
	default:
	}

	s.setState(StateConnecting)
	client := s.newClient(s.cfg.Client, s.logger)
	if err := client.Connect(ctx); err != nil {
		return false, fmt.Errorf("dial %s: %w", s.cfg.Client.URL, err)
	}
	defer client.Close()

	gen := s.gen.Add(1)
	logger := s.logger.With("gen", gen)

	s.setState(StateSubscribing)
	if err := s.subscribe(client); err != nil {
		return false, err
	}
	s.setState(StateReady)
	logger.Info("stream connection ready")

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case reason := <-s.restart:
			return true, fmt.Errorf("%w: %s", ErrRestart, reason)
		case <-client.Done():
			// Frames read before the failure still belong to this generation.
			for {
				select {
				case msg := <-client.Frames():
					if !s.forward(ctx, msg, gen) {
						return true, ctx.Err()
					}
				default:
					return true, client.Err()
				}
			}
		case msg := <-client.Frames():
			if !s.forward(ctx, msg, gen) {
				return true, ctx.Err()
			}
		}
	}
}

func (s *session) forward(ctx context.Context, msg Inbound, gen uint64) bool {
	select {
	case s.out <- RawMessage{Data: msg.Data, Gen: gen, ReceivedAt: msg.ReceivedAt}:
		return true
	case <-ctx.Done():
		return false
	}
}

// subscribe sends one ticker subscription per active market, then the auth message.
func (s *session) subscribe(client Client) error {
	var markets []string
	if s.markets != nil {
		markets = s.markets.GetActiveMarkets()
	}

	for _, m := range markets {
		req := SubscribeRequest{Event: "subscribe", Channel: "ticker", Pair: s.codec.UnformatMarket(m)}
		if err := client.SendJSON(req); err != nil {
			return fmt.Errorf("subscribe %s: %w", m, err)
		}
	}

	if s.signer == nil {
		return nil
	}
	if err := client.SendJSON(s.signer.SignAuth()); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// IsRestart reports whether err ended a connection because of Restart.
func IsRestart(err error) bool {
	return errors.Is(err, ErrRestart)
}
