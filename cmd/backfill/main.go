// backfill runs one pass of the REST history sync and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/bitfinex-sync/internal/account"
	"github.com/rickgao/bitfinex-sync/internal/api"
	"github.com/rickgao/bitfinex-sync/internal/backfill"
	"github.com/rickgao/bitfinex-sync/internal/config"
	"github.com/rickgao/bitfinex-sync/internal/database"
	"github.com/rickgao/bitfinex-sync/internal/model"
	"github.com/rickgao/bitfinex-sync/internal/orders"
	"github.com/rickgao/bitfinex-sync/internal/store"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
	"github.com/rickgao/bitfinex-sync/internal/version"
)

type options struct {
	since      backfill.Since
	mode       string
	markets    []string
	currencies []string
	account    bool
	deposit    string
	maxPages   int
}

func main() {
	configPath := flag.String("config", "configs/gatherer.example.yaml", "path to config file")
	since := flag.String("since", "resume", `lower bound: "now", "resume", RFC3339 or YYYY-MM-DD`)
	mode := flag.String("mode", "all", "what to sync: trades, movements, orders or all")
	markets := flag.String("markets", "", "comma-separated canonical markets (default: live_pairs)")
	currencies := flag.String("currencies", "", "comma-separated currencies (default: currencies)")
	showAccount := flag.Bool("account", false, "sync balances and print balances and fees")
	deposit := flag.String("deposit", "", "print a deposit address for this currency")
	maxPages := flag.Int("max-pages", 0, "page limit per market or currency (0: unlimited)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	s, err := backfill.ParseSince(*since)
	if err != nil {
		logger.Error("invalid -since", "error", err)
		os.Exit(2)
	}
	switch *mode {
	case "trades", "movements", "orders", "all":
	default:
		logger.Error("invalid -mode", "mode", *mode)
		os.Exit(2)
	}

	opts := options{
		since:      s,
		mode:       *mode,
		markets:    cfg.Exchange.LivePairs,
		currencies: cfg.Exchange.Currencies,
		account:    *showAccount,
		deposit:    *deposit,
		maxPages:   *maxPages,
	}
	if *markets != "" {
		opts.markets = splitList(*markets)
	}
	if *currencies != "" {
		opts.currencies = splitList(*currencies)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting backfill",
		"version", version.String(),
		"mode", opts.mode,
		"since", opts.since.String(),
	)
	start := time.Now()
	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("backfill failed", "error", err, "elapsed", time.Since(start))
		os.Exit(1)
	}
	logger.Info("backfill complete", "elapsed", time.Since(start))
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
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
	)

	var errs []error
	syncTrades := opts.mode == "trades" || opts.mode == "all"
	syncMovements := opts.mode == "movements" || opts.mode == "all"
	syncOrders := opts.mode == "orders" || opts.mode == "all"

	if syncTrades || syncMovements {
		engine := backfill.NewEngine(backfill.Config{
			PageSize:    cfg.Sync.PageSize,
			Concurrency: cfg.Sync.Concurrency,
			MaxPages:    opts.maxPages,
		}, client, st, nil, logger, backfill.WithCodec(codec))

		if syncTrades {
			results, err := engine.TradesAll(ctx, opts.markets, opts.since)
			printResults(results)
			errs = append(errs, err)
		}
		if syncMovements {
			results, err := engine.MovementsAll(ctx, opts.currencies, opts.since)
			printResults(results)
			errs = append(errs, err)
		}
	}

	if syncOrders {
		mgr := orders.NewManager(orders.Config{
			Enabled:     cfg.Exchange.OrdersEnabled,
			Concurrency: cfg.Sync.Concurrency,
		}, client, st, nil, logger, orders.WithCodec(codec))
		res, err := mgr.ReconcileOpenOrders(ctx)
		if err == nil {
			fmt.Printf("orders: live=%d inserted=%d refreshed=%d closed=%d\n",
				res.Live, res.Inserted, res.Refreshed, res.Closed)
		}
		errs = append(errs, err)
	}

	if opts.account || opts.deposit != "" {
		syncer := account.NewSyncer(client, st, codec, nil, logger)
		if opts.account {
			errs = append(errs, printAccount(ctx, syncer, st))
		}
		if opts.deposit != "" {
			addr, err := syncer.DepositAddress(ctx, opts.deposit, false)
			if err == nil {
				fmt.Printf("deposit address %s: %s\n", strings.ToUpper(opts.deposit), addr)
			}
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func printResults(results []backfill.Result) {
	for _, r := range results {
		oldest := "-"
		if !r.Oldest.IsZero() {
			oldest = r.Oldest.Format(time.RFC3339)
		}
		fmt.Printf("%s %-10s pages=%-4d inserted=%-6d skipped=%-6d oldest=%s stop=%s\n",
			r.Kind, r.Key, r.Pages, r.Inserted, r.Skipped, oldest, r.Stop)
	}
}

func printAccount(ctx context.Context, syncer *account.Syncer, st store.Store) error {
	if _, err := syncer.SyncBalances(ctx); err != nil {
		return fmt.Errorf("sync balances: %w", err)
	}
	err := st.WithTx(ctx, func(tx store.Tx) error {
		bals, err := tx.ListBalances(ctx, model.Exchange)
		if err != nil {
			return err
		}
		for _, b := range bals {
			fmt.Printf("balance %-6s total=%s available=%s\n", b.Currency, b.Total, b.Available)
		}
		return store.ErrRollback
	})
	if err != nil {
		return fmt.Errorf("list balances: %w", err)
	}

	fees, err := syncer.Fees(ctx)
	if err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	fmt.Printf("fees maker=%s%% taker=%s%%\n", fees.Maker, fees.Taker)
	for currency, f := range fees.ByCommodity {
		fmt.Printf("fees %-6s maker=%s%% taker=%s%%\n", currency, f.Maker, f.Taker)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
