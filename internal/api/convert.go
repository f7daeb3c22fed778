package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/bitfinex-sync/internal/model"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

// ParseEpoch parses fractional Unix seconds ("1444141857.0") into a UTC time with
// microsecond precision.
func ParseEpoch(s string) (time.Time, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse epoch %q: %w", s, err)
	}
	return time.UnixMicro(d.Shift(6).IntPart()).UTC(), nil
}

// FormatEpoch renders t as fractional Unix seconds.
func FormatEpoch(t time.Time) string {
	return decimal.New(t.UnixMicro(), -6).String()
}

// ToModel converts a REST fill on canonical market into a model.Trade.
func (t *Trade) ToModel(codec *symbol.Codec, market string) model.Trade {
	side := model.TradeSell
	if strings.EqualFold(t.Type, "buy") {
		side = model.TradeBuy
	}
	feeSide := model.FeeQuote
	if codec.IsBaseCommodity(market, t.FeeCurrency) {
		feeSide = model.FeeBase
	}
	return model.Trade{
		TradeID:  strconv.FormatInt(t.TID, 10),
		Exchange: model.Exchange,
		Market:   market,
		Side:     side,
		Amount:   t.Amount.Abs(),
		Price:    t.Price,
		Fee:      t.FeeAmount.Abs(),
		FeeSide:  feeSide,
		Time:     t.Timestamp.Time,
	}
}

// MovementStatus maps an exchange movement status to the local status.
func MovementStatus(status string) model.MovementStatus {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return model.MovementComplete
	case "CANCELED":
		return model.MovementCanceled
	default:
		return model.MovementUnconfirmed
	}
}

// ToModel converts a REST movement into a model.Movement. ok is false for types
// other than deposit and withdrawal.
func (m *Movement) ToModel(codec *symbol.Codec) (mv model.Movement, ok bool) {
	var kind model.MovementKind
	switch strings.ToLower(m.Type) {
	case "deposit":
		kind = model.MovementCredit
	case "withdrawal":
		kind = model.MovementDebit
	default:
		return model.Movement{}, false
	}
	return model.Movement{
		Kind:        kind,
		RefID:       strconv.FormatInt(m.ID, 10),
		Exchange:    model.Exchange,
		Asset:       codec.FormatCommodity(m.Currency),
		Amount:      m.Amount.Abs(),
		Fee:         m.Fee.Abs(),
		Address:     m.Address,
		Description: strings.TrimSpace(m.Description),
		TxID:        string(m.TxID),
		Status:      MovementStatus(m.Status),
		Reference:   strings.ToLower(m.Method),
		Time:        m.Timestamp.Time,
	}, true
}

// ToModel converts a live order from the orders snapshot into a model.Order.
// LocalID is left for the caller to assign.
func (o *OrderStatus) ToModel(codec *symbol.Codec) model.Order {
	state := model.OrderOpen
	if !o.IsLive || o.IsCancelled {
		state = model.OrderClosed
	}
	amount := o.OriginalAmount
	if amount.IsZero() {
		amount = o.RemainingAmount
	}
	return model.Order{
		OrderID:        o.ExternalID(),
		Exchange:       model.Exchange,
		Market:         codec.FormatMarket(o.Symbol),
		Side:           model.SideFromExchange(o.Side),
		Price:          o.Price,
		Amount:         amount.Abs(),
		ExecutedAmount: o.ExecutedAmount.Abs(),
		State:          state,
		CreatedAt:      o.Timestamp.Time,
	}
}

// ToModel converts a public ticker into a snapshot observed at now.
func (t *Ticker) ToModel(market string, now time.Time) model.TickerSnapshot {
	return model.TickerSnapshot{
		Exchange:   model.Exchange,
		Market:     market,
		Bid:        t.Bid,
		Ask:        t.Ask,
		Last:       t.LastPrice,
		High:       t.High,
		Low:        t.Low,
		Volume:     t.Volume,
		ObservedAt: now,
	}
}
