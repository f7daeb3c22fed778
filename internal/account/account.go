package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/bitfinex-sync/internal/api"
	"github.com/rickgao/bitfinex-sync/internal/metrics"
	"github.com/rickgao/bitfinex-sync/internal/model"
	"github.com/rickgao/bitfinex-sync/internal/store"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

// exchangeWallet is the only wallet type reconciled into balances.
const exchangeWallet = "exchange"

// depositMethods maps canonical currencies to deposit/new methods.
var depositMethods = map[string]string{
	"BTC": "bitcoin",
	"LTC": "litecoin",
	"ETH": "ethereum",
	"ETC": "ethereumc",
	"ZEC": "zcash",
	"XMR": "monero",
}

// ErrUnsupportedCurrency is returned for a deposit address request on an
// unknown currency.
var ErrUnsupportedCurrency = errors.New("account: unsupported deposit currency")

// Source is the subset of the REST client the syncer uses.
type Source interface {
	Balances(ctx context.Context) ([]api.Balance, error)
	Ticker(ctx context.Context, symbol string) (*api.Ticker, error)
	OrderBook(ctx context.Context, symbol string, limit int) (*api.OrderBook, error)
	AccountInfos(ctx context.Context) ([]api.AccountInfo, error)
	NewDepositAddress(ctx context.Context, method string, renew bool) (*api.DepositAddress, error)
}

// Level is one price level of a Book.
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Book is a REST order book snapshot.
type Book struct {
	Market     string
	Bids       []Level // Best first
	Asks       []Level // Best first
	ObservedAt time.Time
}

// Fees is the account fee schedule in percent.
type Fees struct {
	Maker       decimal.Decimal
	Taker       decimal.Decimal
	ByCommodity map[string]Fee // Canonical commodity -> override
}

// Fee is one maker/taker pair.
type Fee struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Syncer pulls account state over REST.
type Syncer struct {
	src     Source
	store   store.Store
	codec   *symbol.Codec
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewSyncer creates a Syncer. A nil codec uses symbol.Default.
func NewSyncer(src Source, st store.Store, codec *symbol.Codec, m *metrics.Metrics, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if codec == nil {
		codec = symbol.Default
	}
	return &Syncer{
		src:     src,
		store:   st,
		codec:   codec,
		metrics: m,
		logger:  logger.With("component", "account"),
		now:     time.Now,
	}
}

// SyncBalances upserts the exchange wallet balance of every currency and
// returns how many changed. Other wallet types are ignored.
func (s *Syncer) SyncBalances(ctx context.Context) (int, error) {
	wallets, err := s.src.Balances(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	totals := make(map[string]model.Balance)
	var order []string
	for _, w := range wallets {
		if !strings.EqualFold(w.Type, exchangeWallet) {
			continue
		}
		currency := s.codec.FormatCommodity(w.Currency)
		b, ok := totals[currency]
		if !ok {
			b = model.Balance{Exchange: model.Exchange, Currency: currency, UpdatedAt: now}
			order = append(order, currency)
		}
		b.Total = b.Total.Add(w.Amount)
		b.Available = b.Available.Add(w.Available)
		totals[currency] = b
	}

	changed := 0
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		changed = 0
		for _, currency := range order {
			ok, err := tx.UpsertBalance(ctx, totals[currency])
			if err != nil {
				return fmt.Errorf("upsert balance %s: %w", currency, err)
			}
			if ok {
				changed++
			}
		}
		if changed == 0 {
			return store.ErrRollback
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("balances synced", "currencies", len(order), "changed", changed)
	return changed, nil
}

// SyncTicker fetches the public ticker of a canonical market and stores it.
func (s *Syncer) SyncTicker(ctx context.Context, market string) (model.TickerSnapshot, error) {
	raw, err := s.src.Ticker(ctx, s.codec.UnformatMarket(market))
	if err != nil {
		return model.TickerSnapshot{}, err
	}

	snap := raw.ToModel(market, s.now().UTC())
	if err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertTicker(ctx, snap)
	}); err != nil {
		return model.TickerSnapshot{}, fmt.Errorf("store ticker %s: %w", market, err)
	}
	return snap, nil
}

// SyncTickers syncs each market in turn. A failing market does not stop the
// rest; failures are joined.
func (s *Syncer) SyncTickers(ctx context.Context, markets []string) error {
	var errs []error
	for _, market := range markets {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.SyncTicker(ctx, market); err != nil {
			s.logger.Warn("ticker sync failed", "market", market, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Book fetches up to depth levels per side for a canonical market.
func (s *Syncer) Book(ctx context.Context, market string, depth int) (Book, error) {
	raw, err := s.src.OrderBook(ctx, s.codec.UnformatMarket(market), depth)
	if err != nil {
		return Book{}, err
	}
	return Book{
		Market:     market,
		Bids:       levels(raw.Bids),
		Asks:       levels(raw.Asks),
		ObservedAt: s.now().UTC(),
	}, nil
}

func levels(in []api.BookLevel) []Level {
	out := make([]Level, 0, len(in))
	for _, l := range in {
		out = append(out, Level{Price: l.Price, Amount: l.Amount})
	}
	return out
}

// Fees fetches the account fee schedule.
func (s *Syncer) Fees(ctx context.Context) (Fees, error) {
	infos, err := s.src.AccountInfos(ctx)
	if err != nil {
		return Fees{}, err
	}
	if len(infos) == 0 {
		return Fees{}, &api.DecodeError{Endpoint: "/v1/account_infos", Err: errors.New("empty account list")}
	}

	info := infos[0]
	fees := Fees{
		Maker:       info.MakerFees,
		Taker:       info.TakerFees,
		ByCommodity: make(map[string]Fee, len(info.Fees)),
	}
	for _, f := range info.Fees {
		fees.ByCommodity[s.codec.FormatCommodity(f.Pairs)] = Fee{Maker: f.MakerFees, Taker: f.TakerFees}
	}
	return fees, nil
}

// DepositAddress returns the exchange wallet deposit address for a canonical
// currency. renew requests a fresh address.
func (s *Syncer) DepositAddress(ctx context.Context, currency string, renew bool) (string, error) {
	method, ok := depositMethods[s.codec.FormatCommodity(currency)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	resp, err := s.src.NewDepositAddress(ctx, method, renew)
	if err != nil {
		return "", err
	}
	return resp.Address, nil
}
