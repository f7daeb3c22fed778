package api

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// EpochTime is a Unix timestamp in seconds, sent as "1444141857.0" or 1444141857.
type EpochTime struct {
	time.Time
}

// UnmarshalJSON accepts quoted or bare fractional seconds. null leaves the zero time.
func (t *EpochTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseEpoch(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// FlexString is an identifier the exchange sends either as a string or a number.
type FlexString string

// UnmarshalJSON accepts a string, a number or null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(data)
	return nil
}

// Balance from POST /v1/balances
type Balance struct {
	Type      string          `json:"type"` // exchange, trading, deposit
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Available decimal.Decimal `json:"available"`
}

// OrderStatus from POST /v1/orders, /v1/order/new and /v1/order/cancel
type OrderStatus struct {
	ID                int64           `json:"id"`
	OrderID           int64           `json:"order_id"` // Only set by order/new
	Symbol            string          `json:"symbol"`
	Exchange          string          `json:"exchange"`
	Price             decimal.Decimal `json:"price"`
	AvgExecutionPrice decimal.Decimal `json:"avg_execution_price"`
	Side              string          `json:"side"`
	Type              string          `json:"type"`
	Timestamp         EpochTime       `json:"timestamp"`
	IsLive            bool            `json:"is_live"`
	IsCancelled       bool            `json:"is_cancelled"`
	OriginalAmount    decimal.Decimal `json:"original_amount"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	ExecutedAmount    decimal.Decimal `json:"executed_amount"`
}

// ExternalID returns the order id as a string, preferring order_id when present.
func (o *OrderStatus) ExternalID() string {
	if o.OrderID != 0 {
		return strconv.FormatInt(o.OrderID, 10)
	}
	return strconv.FormatInt(o.ID, 10)
}

// NewOrderRequest holds the parameters of POST /v1/order/new.
type NewOrderRequest struct {
	Symbol string // Native pair
	Amount decimal.Decimal
	Price  decimal.Decimal
	Side   string // buy, sell
	Type   string // Defaults to "exchange limit"
}

// CancelAllResponse from POST /v1/order/cancel/all
type CancelAllResponse struct {
	Result string `json:"result"`
}

// Succeeded reports whether the exchange confirmed the mass cancel.
func (r *CancelAllResponse) Succeeded() bool {
	return strings.Contains(strings.ToLower(r.Result), "cancelled")
}

// Trade from POST /v1/mytrades
type Trade struct {
	TID         int64           `json:"tid"`
	OrderID     int64           `json:"order_id"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   EpochTime       `json:"timestamp"`
	Exchange    string          `json:"exchange"`
	Type        string          `json:"type"` // Buy, Sell
	FeeCurrency string          `json:"fee_currency"`
	FeeAmount   decimal.Decimal `json:"fee_amount"`
}

// Movement from POST /v1/history/movements
type Movement struct {
	ID          int64           `json:"id"`
	TxID        FlexString      `json:"txid"`
	Currency    string          `json:"currency"`
	Method      string          `json:"method"`
	Type        string          `json:"type"` // DEPOSIT, WITHDRAWAL
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Description string          `json:"description"`
	Address     string          `json:"address"`
	Status      string          `json:"status"`
	Timestamp   EpochTime       `json:"timestamp"`
}

// HistoryQuery bounds a history page. Zero times are omitted.
type HistoryQuery struct {
	Since time.Time
	Until time.Time
	Limit int
}

// AccountInfo from POST /v1/account_infos
type AccountInfo struct {
	MakerFees decimal.Decimal  `json:"maker_fees"`
	TakerFees decimal.Decimal  `json:"taker_fees"`
	Fees      []PairFeeSummary `json:"fees"`
}

// PairFeeSummary is one per-pair fee row of AccountInfo.
type PairFeeSummary struct {
	Pairs     string          `json:"pairs"`
	MakerFees decimal.Decimal `json:"maker_fees"`
	TakerFees decimal.Decimal `json:"taker_fees"`
}

// DepositAddress from POST /v1/deposit/new
type DepositAddress struct {
	Result   string `json:"result"`
	Method   string `json:"method"`
	Currency string `json:"currency"`
	Address  string `json:"address"`
}

// Ticker from GET /v1/pubticker/{symbol}
type Ticker struct {
	Mid       decimal.Decimal `json:"mid"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	LastPrice decimal.Decimal `json:"last_price"`
	Low       decimal.Decimal `json:"low"`
	High      decimal.Decimal `json:"high"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp EpochTime       `json:"timestamp"`
}

// OrderBook from GET /v1/book/{symbol}
type OrderBook struct {
	Bids []BookLevel `json:"bids"`
	Asks []BookLevel `json:"asks"`
}

// BookLevel is one price level of an OrderBook.
type BookLevel struct {
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp EpochTime       `json:"timestamp"`
}
