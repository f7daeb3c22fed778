package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/bitfinex-sync/internal/account"
	"github.com/rickgao/bitfinex-sync/internal/api"
	"github.com/rickgao/bitfinex-sync/internal/backfill"
	"github.com/rickgao/bitfinex-sync/internal/config"
	"github.com/rickgao/bitfinex-sync/internal/connection"
	"github.com/rickgao/bitfinex-sync/internal/database"
	"github.com/rickgao/bitfinex-sync/internal/market"
	"github.com/rickgao/bitfinex-sync/internal/metrics"
	"github.com/rickgao/bitfinex-sync/internal/orders"
	"github.com/rickgao/bitfinex-sync/internal/poller"
	"github.com/rickgao/bitfinex-sync/internal/router"
	"github.com/rickgao/bitfinex-sync/internal/store"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
	"github.com/rickgao/bitfinex-sync/internal/version"
	"github.com/rickgao/bitfinex-sync/internal/writer"
)

// stopper is any component with a graceful Stop.
type stopper interface {
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/gatherer.example.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting gatherer",
		"version", version.String(),
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gatherer failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gatherer stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, database.BuildConnString(cfg.Database), logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	st := store.NewPostgres(pool)
	defer st.Close()
	logger.Info("database connected")

	// Exchange client
	creds, err := cfg.Credentials()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	codec := symbol.Default
	client := api.NewClient(cfg.Exchange.RestURL, creds,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Exchange.Timeout),
		api.WithRateLimit(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst),
		api.WithNonceRetries(cfg.Exchange.NonceRetries),
		api.WithMetrics(m),
	)

	// Market registry
	registry := market.NewRegistry(market.Config{
		LivePairs:       cfg.Exchange.LivePairs,
		RefreshInterval: cfg.Sync.MarketsInterval,
	}, client, codec, logger)
	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("start market registry: %w", err)
	}
	logger.Info("market registry started", "active_markets", registry.GetActiveMarkets())

	// Stream: session -> router -> reconciler
	sessionCfg := connection.SessionConfig{
		Client: connection.ClientConfig{
			URL:          cfg.Exchange.WSURL,
			PingInterval: cfg.Stream.PingInterval,
			ReadTimeout:  cfg.Stream.ReadTimeout,
			WriteTimeout: connection.DefaultClientConfig().WriteTimeout,
			BufferSize:   cfg.Stream.BufferSize,
		},
		ReconnectBaseWait: cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Stream.ReconnectMaxDelay,
		MessageBufferSize: cfg.Stream.BufferSize,
	}
	session := connection.NewSession(sessionCfg, registry, creds, logger,
		connection.WithSessionMetrics(m),
		connection.WithCodec(codec),
	)
	rtr := router.NewRouter(router.DefaultRouterConfig(), session.Messages(), session, logger,
		router.WithMetrics(m),
		router.WithCodec(codec),
	)
	reconciler := writer.NewReconciler(rtr.Events(), st, m, logger)

	// REST sync jobs
	engine := backfill.NewEngine(backfill.Config{
		PageSize:    cfg.Sync.PageSize,
		Concurrency: cfg.Sync.Concurrency,
	}, client, st, m, logger, backfill.WithCodec(codec))
	orderMgr := orders.NewManager(orders.Config{
		Enabled:     cfg.Exchange.OrdersEnabled,
		Concurrency: cfg.Sync.Concurrency,
	}, client, st, m, logger, orders.WithCodec(codec))
	syncer := account.NewSyncer(client, st, codec, m, logger)

	jobs := []poller.Job{
		orders.ReconcileJob(orderMgr, cfg.Sync.OrdersInterval),
		account.BalancesJob(syncer, cfg.Sync.BalancesInterval),
		account.TickersJob(syncer, registry, cfg.Sync.TickersInterval),
		backfill.TradesJob(engine, registry, cfg.Sync.TradesInterval),
	}
	if len(cfg.Exchange.Currencies) > 0 {
		jobs = append(jobs, backfill.MovementsJob(engine, cfg.Exchange.Currencies, cfg.Sync.MovementsInterval))
	}
	sched := poller.New(poller.DefaultConfig(), jobs, m, logger)

	// Start consumers before producers so nothing is dropped.
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	if err := rtr.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	// Health and metrics server
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/health", healthHandler(pool, registry, session, rtr, reconciler))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("gatherer running",
		"instance_id", cfg.Instance.ID,
		"orders_enabled", cfg.Exchange.OrdersEnabled,
		"jobs", len(sched.Jobs()),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("shutting down...")

	// Producers first, then consumers, so buffered frames are still applied.
	for _, c := range []struct {
		name string
		s    stopper
	}{
		{"poller", sched},
		{"session", session},
		{"router", rtr},
		{"reconciler", reconciler},
		{"market registry", registry},
	} {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.s.Stop(stopCtx); err != nil {
			logger.Warn("component did not stop cleanly", "component", c.name, "error", err)
		}
		stopCancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	return nil
}

// healthHandler reports database, stream and reconciler status.
func healthHandler(pool *pgxpool.Pool, registry market.Registry, session connection.Session, rtr router.Router, rec *writer.Reconciler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Check stream
		state := session.State()
		health.Components["stream"] = map[string]any{
			"state":      state.String(),
			"generation": session.Generation(),
		}
		if state != connection.StateReady && health.Status == "healthy" {
			health.Status = "degraded"
		}

		rs := rtr.Stats()
		health.Components["router"] = map[string]any{
			"received":      rs.MessagesReceived,
			"routed":        rs.EventsRouted,
			"parse_errors":  rs.ParseErrors,
			"auth_failures": rs.AuthFailures,
			"bindings":      rs.Bindings,
			"queued":        rs.Queue.Depth,
			"queue_high":    rs.Queue.HighWater,
		}

		ws := rec.Stats()
		health.Components["reconciler"] = map[string]any{
			"committed":      ws.Committed,
			"noops":          ws.Noops,
			"failed":         ws.Failed,
			"last_commit_at": ws.LastCommitAt,
		}

		markets := registry.GetActiveMarkets()
		health.Components["markets"] = markets
		if len(markets) == 0 && health.Status == "healthy" {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
