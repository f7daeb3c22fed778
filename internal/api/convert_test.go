package api

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/bitfinex-sync/internal/model"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseEpoch(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"1444141857.0", time.Unix(1444141857, 0), false},
		{"1444141857", time.Unix(1444141857, 0), false},
		{"1444253422.348340958", time.UnixMicro(1444253422348340), false},
		{"", time.Time{}, true},
		{"abc", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := ParseEpoch(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEpoch(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("ParseEpoch(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFormatEpochRoundTrip(t *testing.T) {
	in := time.UnixMicro(1444141857123456)
	got, err := ParseEpoch(FormatEpoch(in))
	if err != nil {
		t.Fatalf("ParseEpoch failed: %v", err)
	}
	if !got.Equal(in) {
		t.Errorf("round trip = %v, want %v", got, in)
	}
}

func TestTradeToModel(t *testing.T) {
	codec := symbol.NewCodec(nil)

	tests := []struct {
		name        string
		trade       Trade
		market      string
		wantSide    model.TradeSide
		wantFeeSide model.FeeSide
	}{
		{
			name:        "buy with quote fee",
			trade:       Trade{TID: 1, Type: "Buy", Amount: dec("1.0"), Price: dec("246.94"), FeeCurrency: "USD", FeeAmount: dec("-0.49")},
			market:      "BTC_USD",
			wantSide:    model.TradeBuy,
			wantFeeSide: model.FeeQuote,
		},
		{
			name:        "sell with aliased base fee",
			trade:       Trade{TID: 2, Type: "Sell", Amount: dec("-2"), Price: dec("3.1"), FeeCurrency: "DRK", FeeAmount: dec("-0.002")},
			market:      "DASH_USD",
			wantSide:    model.TradeSell,
			wantFeeSide: model.FeeBase,
		},
		{
			name:        "missing fee currency is quote",
			trade:       Trade{TID: 3, Type: "buy", Amount: dec("1"), Price: dec("1")},
			market:      "LTC_BTC",
			wantSide:    model.TradeBuy,
			wantFeeSide: model.FeeQuote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.trade.ToModel(codec, tt.market)
			if got.Side != tt.wantSide {
				t.Errorf("Side = %q, want %q", got.Side, tt.wantSide)
			}
			if got.FeeSide != tt.wantFeeSide {
				t.Errorf("FeeSide = %q, want %q", got.FeeSide, tt.wantFeeSide)
			}
			if got.Amount.IsNegative() || got.Fee.IsNegative() {
				t.Errorf("Amount/Fee must be positive, got %s/%s", got.Amount, got.Fee)
			}
			if got.Exchange != model.Exchange || got.Market != tt.market {
				t.Errorf("Exchange/Market = %q/%q", got.Exchange, got.Market)
			}
		})
	}
}

func TestMovementToModel(t *testing.T) {
	codec := symbol.NewCodec(nil)

	m := Movement{ID: 581183, TxID: "abc", Currency: "DRK", Method: "DASH", Type: "WITHDRAWAL",
		Amount: dec("0.5"), Fee: dec("-0.01"), Address: "Xaddr", Status: "COMPLETED"}
	got, ok := m.ToModel(codec)
	if !ok {
		t.Fatal("ToModel returned ok=false for withdrawal")
	}
	if got.Kind != model.MovementDebit {
		t.Errorf("Kind = %q, want debit", got.Kind)
	}
	if got.Asset != "DASH" {
		t.Errorf("Asset = %q, want DASH", got.Asset)
	}
	if got.RefID != "581183" {
		t.Errorf("RefID = %q, want 581183", got.RefID)
	}
	if got.Status != model.MovementComplete {
		t.Errorf("Status = %q, want complete", got.Status)
	}
	if !got.Fee.Equal(dec("0.01")) {
		t.Errorf("Fee = %s, want 0.01", got.Fee)
	}

	m.Type = "DEPOSIT"
	if got, _ := m.ToModel(codec); got.Kind != model.MovementCredit {
		t.Errorf("Kind = %q, want credit", got.Kind)
	}

	m.Type = "TRANSFER"
	if _, ok := m.ToModel(codec); ok {
		t.Error("ToModel should reject unknown movement types")
	}
}

func TestMovementStatus(t *testing.T) {
	tests := map[string]model.MovementStatus{
		"COMPLETED":  model.MovementComplete,
		"CANCELED":   model.MovementCanceled,
		"PROCESSING": model.MovementUnconfirmed,
		"":           model.MovementUnconfirmed,
	}
	for in, want := range tests {
		if got := MovementStatus(in); got != want {
			t.Errorf("MovementStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOrderStatusToModel(t *testing.T) {
	codec := symbol.NewCodec(nil)

	o := OrderStatus{ID: 42, Symbol: "drkbtc", Side: "sell", Price: dec("0.01"),
		OriginalAmount: dec("3"), RemainingAmount: dec("1"), ExecutedAmount: dec("2"), IsLive: true}
	got := o.ToModel(codec)

	if got.OrderID != "42" {
		t.Errorf("OrderID = %q, want 42", got.OrderID)
	}
	if got.Market != "DASH_BTC" {
		t.Errorf("Market = %q, want DASH_BTC", got.Market)
	}
	if got.Side != model.SideAsk {
		t.Errorf("Side = %q, want ask", got.Side)
	}
	if got.State != model.OrderOpen {
		t.Errorf("State = %q, want open", got.State)
	}
	if !got.Amount.Equal(dec("3")) || !got.ExecutedAmount.Equal(dec("2")) {
		t.Errorf("Amount/Executed = %s/%s", got.Amount, got.ExecutedAmount)
	}

	o.IsLive = false
	if got := o.ToModel(codec); got.State != model.OrderClosed {
		t.Errorf("State = %q, want closed", got.State)
	}
}

func TestTickerToModel(t *testing.T) {
	now := time.Now()
	tick := Ticker{Bid: dec("1"), Ask: dec("2"), LastPrice: dec("1.5"), High: dec("3"), Low: dec("0.5"), Volume: dec("10")}
	got := tick.ToModel("BTC_USD", now)

	if got.Market != "BTC_USD" || !got.ObservedAt.Equal(now) {
		t.Errorf("snapshot = %+v", got)
	}
	if !got.Last.Equal(dec("1.5")) {
		t.Errorf("Last = %s, want 1.5", got.Last)
	}
}
