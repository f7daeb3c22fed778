// streamtest connects to the Bitfinex stream and prints decoded events without
// persisting anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/bitfinex-sync/internal/account"
	"github.com/rickgao/bitfinex-sync/internal/api"
	"github.com/rickgao/bitfinex-sync/internal/config"
	"github.com/rickgao/bitfinex-sync/internal/connection"
	"github.com/rickgao/bitfinex-sync/internal/market"
	"github.com/rickgao/bitfinex-sync/internal/router"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

func main() {
	configPath := flag.String("config", "configs/gatherer.example.yaml", "path to config file")
	verbose := flag.Bool("v", false, "print full event JSON")
	pairs := flag.String("markets", "", "comma-separated canonical markets overriding live_pairs")
	book := flag.String("book", "", "print the REST order book of this market and exit")
	depth := flag.Int("depth", 10, "order book depth for -book")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *pairs != "" {
		cfg.Exchange.LivePairs = strings.Split(*pairs, ",")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()
	}()

	creds, err := cfg.Credentials()
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		os.Exit(1)
	}
	client := api.NewClient(cfg.Exchange.RestURL, creds,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Exchange.Timeout),
		api.WithRateLimit(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst),
	)

	if *book != "" {
		syncer := account.NewSyncer(client, nil, symbol.Default, nil, logger)
		b, err := syncer.Book(ctx, *book, *depth)
		if err != nil {
			logger.Error("failed to fetch book", "market", *book, "error", err)
			os.Exit(1)
		}
		printBook(b)
		return
	}

	registry := market.NewRegistry(market.Config{
		LivePairs:       cfg.Exchange.LivePairs,
		RefreshInterval: cfg.Sync.MarketsInterval,
	}, client, symbol.Default, logger)

	logger.Info("starting market registry sync...")
	if err := registry.Start(ctx); err != nil {
		logger.Error("failed to start market registry", "error", err)
		os.Exit(1)
	}
	logger.Info("market registry ready", "active_markets", registry.GetActiveMarkets())

	sessionCfg := connection.DefaultSessionConfig()
	sessionCfg.Client.URL = cfg.Exchange.WSURL
	session := connection.NewSession(sessionCfg, registry, creds, logger)
	rtr := router.NewRouter(router.DefaultRouterConfig(), session.Messages(), session, logger)

	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}
	if err := session.Start(ctx); err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(rtr.Events(), *verbose)
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rs := rtr.Stats()
				logger.Info("stats",
					"state", session.State().String(),
					"generation", session.Generation(),
					"received", rs.MessagesReceived,
					"routed", rs.EventsRouted,
					"parse_errors", rs.ParseErrors,
					"unbound", rs.UnboundFrames,
					"bindings", rs.Bindings,
					"queued", rs.Queue.Depth,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	session.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)
	registry.Stop(shutdownCtx)
	<-done

	logger.Info("shutdown complete")
}

// printEvents drains the router output until it is closed.
func printEvents(buf *router.Queue[router.Event], verbose bool) {
	for {
		ev, ok := buf.Pop(context.Background())
		if !ok {
			return
		}
		if verbose {
			data, _ := json.MarshalIndent(ev, "", "  ")
			fmt.Printf("[%T] %s\n", ev, data)
			continue
		}

		switch e := ev.(type) {
		case router.TickerUpdate:
			s := e.Snapshot
			fmt.Printf("[TICKER] market=%s bid=%s ask=%s last=%s vol=%s\n",
				s.Market, s.Bid, s.Ask, s.Last, s.Volume)
		case router.WalletUpdate:
			for _, w := range e.Wallets {
				fmt.Printf("[WALLET %s] type=%s currency=%s balance=%s\n",
					e.Tag, w.Type, w.Currency, w.Balance)
			}
		case router.TradeUpdate:
			for _, t := range e.Trades {
				fmt.Printf("[TRADE %s] id=%s market=%s side=%s amount=%s price=%s fee=%s %s\n",
					e.Tag, t.TradeID, t.Market, t.Side, t.Amount, t.Price, t.Fee, t.FeeSide)
			}
		case router.OrderUpdate:
			for _, o := range e.Orders {
				fmt.Printf("[ORDER %s] id=%s market=%s side=%s price=%s amount=%s executed=%s state=%s\n",
					e.Tag, o.OrderID, o.Market, o.Side, o.Price, o.Amount, o.ExecutedAmount, o.State)
			}
		default:
			fmt.Printf("[%T] %+v\n", ev, ev)
		}
	}
}

func printBook(b account.Book) {
	fmt.Printf("%s book at %s\n", b.Market, b.ObservedAt.Format(time.RFC3339))
	fmt.Printf("%-16s %-16s | %-16s %-16s\n", "bid amount", "bid", "ask", "ask amount")
	n := max(len(b.Bids), len(b.Asks))
	for i := range n {
		var bidAmt, bid, ask, askAmt string
		if i < len(b.Bids) {
			bid, bidAmt = b.Bids[i].Price.String(), b.Bids[i].Amount.String()
		}
		if i < len(b.Asks) {
			ask, askAmt = b.Asks[i].Price.String(), b.Asks[i].Amount.String()
		}
		fmt.Printf("%-16s %-16s | %-16s %-16s\n", bidAmt, bid, ask, askAmt)
	}
}
