package router

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bitfinex-sync/internal/model"
	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

// DecodeError reports a frame or record that could not be decoded. The frame or
// record is dropped and processing continues.
type DecodeError struct {
	What string // "frame", "ticker", "wallet", "trade", "order"
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(what string, format string, args ...any) error {
	return &DecodeError{What: what, Err: fmt.Errorf(format, args...)}
}

// Frame is one decoded websocket frame.
type Frame interface {
	frame()
}

// Heartbeat is a channel keepalive ([chanId,"hb"]).
type Heartbeat struct {
	ChanID int64
}

// SubscriptionAck confirms a public channel subscription.
type SubscriptionAck struct {
	ChanID  int64
	Channel string
	Pair    string // Native pair
}

// AuthAck is the response to the account auth message.
type AuthAck struct {
	ChanID int64
	Status string // "OK" or "FAIL"
	UserID int64
	Code   int
	Msg    string
}

// OK reports whether authentication succeeded.
func (a AuthAck) OK() bool {
	return strings.EqualFold(a.Status, "OK")
}

// InfoEvent is any other event object (info, error, pong, unsubscribed).
type InfoEvent struct {
	Event string
	Code  int
	Msg   string
}

// DataFrame is a channel payload. Payload excludes the leading channel id.
type DataFrame struct {
	ChanID  int64
	Payload []json.RawMessage
}

// Unknown is a well-formed frame of no recognized shape.
type Unknown struct {
	Raw []byte
}

func (Heartbeat) frame()       {}
func (SubscriptionAck) frame() {}
func (AuthAck) frame()         {}
func (InfoEvent) frame()       {}
func (DataFrame) frame()       {}
func (Unknown) frame()         {}

// eventWire covers every field of the event objects the stream sends.
type eventWire struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Pair    string `json:"pair"`
	Status  string `json:"status"`
	UserID  int64  `json:"userId"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

var hbTag = []byte(`"hb"`)

// Decode parses one frame into its variant.
func Decode(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, decodeErr("frame", "empty frame")
	}

	switch data[0] {
	case '{':
		var ev eventWire
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, &DecodeError{What: "frame", Err: err}
		}
		switch ev.Event {
		case "":
			return Unknown{Raw: data}, nil
		case "subscribed":
			return SubscriptionAck{ChanID: ev.ChanID, Channel: ev.Channel, Pair: ev.Pair}, nil
		case "auth":
			return AuthAck{ChanID: ev.ChanID, Status: ev.Status, UserID: ev.UserID, Code: ev.Code, Msg: ev.Msg}, nil
		default:
			return InfoEvent{Event: ev.Event, Code: ev.Code, Msg: ev.Msg}, nil
		}

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return nil, &DecodeError{What: "frame", Err: err}
		}
		if len(elems) == 0 {
			return nil, decodeErr("frame", "empty array")
		}
		chanID, err := strconv.ParseInt(string(bytes.TrimSpace(elems[0])), 10, 64)
		if err != nil {
			return nil, decodeErr("frame", "channel id %s: %v", elems[0], err)
		}
		if len(elems) == 2 && bytes.Equal(bytes.TrimSpace(elems[1]), hbTag) {
			return Heartbeat{ChanID: chanID}, nil
		}
		return DataFrame{ChanID: chanID, Payload: elems[1:]}, nil

	default:
		return nil, decodeErr("frame", "unexpected leading byte %q", data[0])
	}
}

// -----------------------------------------------------------------------------
// Field helpers
// -----------------------------------------------------------------------------

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// decimalField accepts a JSON number or a numeric string.
func decimalField(raw json.RawMessage) (decimal.Decimal, error) {
	if isNull(raw) {
		return decimal.Decimal{}, errors.New("null")
	}
	s := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	return decimal.NewFromString(s)
}

// optionalDecimal returns zero and false for null.
func optionalDecimal(raw json.RawMessage) (decimal.Decimal, bool, error) {
	if isNull(raw) {
		return decimal.Zero, false, nil
	}
	d, err := decimalField(raw)
	return d, err == nil, err
}

// stringField accepts a JSON string or a bare number; null is empty.
func stringField(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if _, err := decimal.NewFromString(string(raw)); err != nil {
		return "", fmt.Errorf("not a string or number: %s", raw)
	}
	return string(raw), nil
}

// epochTime converts fractional Unix seconds into a UTC time.
func epochTime(secs decimal.Decimal) time.Time {
	whole := secs.IntPart()
	nanos := secs.Sub(decimal.NewFromInt(whole)).Shift(9).IntPart()
	return time.Unix(whole, nanos).UTC()
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// isoTime parses an ISO-8601 timestamp. A zone-less value is UTC.
func isoTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not ISO-8601", s)
}

// records splits an account payload into records. A list of arrays is a
// snapshot; a flat array is a single record.
func records(raw json.RawMessage) ([][]json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, nil
	}
	if first := bytes.TrimSpace(elems[0]); len(first) == 0 || first[0] != '[' {
		return [][]json.RawMessage{elems}, nil
	}

	out := make([][]json.RawMessage, 0, len(elems))
	for _, e := range elems {
		var rec []json.RawMessage
		if err := json.Unmarshal(e, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Record decoders
// -----------------------------------------------------------------------------

// Ticker payload: [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, DAILY_CHANGE_PERC,
// LAST_PRICE, VOLUME, HIGH, LOW].
const tickerFields = 10

func decodeTicker(payload []json.RawMessage, market string, receivedAt time.Time) (model.TickerSnapshot, error) {
	if len(payload) == 1 {
		var nested []json.RawMessage
		if err := json.Unmarshal(payload[0], &nested); err == nil {
			payload = nested
		}
	}
	if len(payload) < tickerFields {
		return model.TickerSnapshot{}, decodeErr("ticker", "want %d fields, got %d", tickerFields, len(payload))
	}

	snap := model.TickerSnapshot{
		Exchange:   model.Exchange,
		Market:     market,
		ObservedAt: receivedAt,
	}
	for _, f := range []struct {
		name string
		idx  int
		dst  *decimal.Decimal
	}{
		{"bid", 0, &snap.Bid},
		{"ask", 2, &snap.Ask},
		{"last", 6, &snap.Last},
		{"volume", 7, &snap.Volume},
		{"high", 8, &snap.High},
		{"low", 9, &snap.Low},
	} {
		d, err := decimalField(payload[f.idx])
		if err != nil {
			return model.TickerSnapshot{}, decodeErr("ticker", "%s: %v", f.name, err)
		}
		*f.dst = d
	}
	return snap, nil
}

// Wallet record: [WALLET_TYPE, CURRENCY, BALANCE, UNSETTLED_INTEREST].
func decodeWallet(rec []json.RawMessage, codec *symbol.Codec) (Wallet, error) {
	if len(rec) < 3 {
		return Wallet{}, decodeErr("wallet", "want at least 3 fields, got %d", len(rec))
	}
	typ, err := stringField(rec[0])
	if err != nil || typ == "" {
		return Wallet{}, decodeErr("wallet", "type: %v", err)
	}
	cur, err := stringField(rec[1])
	if err != nil || cur == "" {
		return Wallet{}, decodeErr("wallet", "currency: %v", err)
	}
	bal, err := decimalField(rec[2])
	if err != nil {
		return Wallet{}, decodeErr("wallet", "balance: %v", err)
	}
	return Wallet{
		Type:     strings.ToLower(typ),
		Currency: codec.FormatCommodity(cur),
		Balance:  bal,
	}, nil
}

// marketField decodes a native pair into its canonical market. Anything other
// than letters and an optional delimiter is rejected, so a misaligned record
// cannot pass a number off as a market.
func marketField(raw json.RawMessage, codec *symbol.Codec) (string, error) {
	pair, err := stringField(raw)
	if err != nil {
		return "", err
	}
	if pair == "" || strings.IndexFunc(pair, func(r rune) bool { return r != '_' && !unicode.IsLetter(r) }) >= 0 {
		return "", fmt.Errorf("%q is not a market", pair)
	}
	base, quote, err := codec.ParseMarket(pair)
	if err != nil {
		return "", err
	}
	return base + "_" + quote, nil
}

// tradeUpdateRecord strips the trade sequence that a "tu" record carries ahead
// of the snapshot layout: [SEQ, ID, PAIR, TIMESTAMP, ...].
func tradeUpdateRecord(rec []json.RawMessage) []json.RawMessage {
	if len(rec) == 0 {
		return rec
	}
	return rec[1:]
}

// Trade record: [ID, PAIR, TIMESTAMP, ORD_ID, AMOUNT_EXECUTED, PRICE_EXECUTED,
// ORD_TYPE, ORD_PRICE, FEE, FEE_CURRENCY].
func decodeTrade(rec []json.RawMessage, codec *symbol.Codec) (model.Trade, error) {
	if len(rec) < 8 {
		return model.Trade{}, decodeErr("trade", "want at least 8 fields, got %d", len(rec))
	}
	field := func(i int) json.RawMessage {
		if i < len(rec) {
			return rec[i]
		}
		return nil
	}

	id, err := stringField(rec[0])
	if err != nil || id == "" {
		return model.Trade{}, decodeErr("trade", "id: %v", err)
	}
	market, err := marketField(rec[1], codec)
	if err != nil {
		return model.Trade{}, decodeErr("trade", "pair: %v", err)
	}
	ts, err := decimalField(rec[2])
	if err != nil {
		return model.Trade{}, decodeErr("trade", "timestamp: %v", err)
	}
	execAmount, err := decimalField(rec[4])
	if err != nil {
		return model.Trade{}, decodeErr("trade", "amount: %v", err)
	}

	price, ok, err := optionalDecimal(rec[7])
	if err != nil {
		return model.Trade{}, decodeErr("trade", "price: %v", err)
	}
	if !ok {
		if price, err = decimalField(rec[5]); err != nil {
			return model.Trade{}, decodeErr("trade", "execution price: %v", err)
		}
	}

	fee, _, err := optionalDecimal(field(8))
	if err != nil {
		return model.Trade{}, decodeErr("trade", "fee: %v", err)
	}
	feeCurrency, err := stringField(field(9))
	if err != nil {
		return model.Trade{}, decodeErr("trade", "fee currency: %v", err)
	}

	side := model.TradeSell
	if execAmount.IsPositive() {
		side = model.TradeBuy
	}
	feeSide := model.FeeQuote
	if codec.IsBaseCommodity(market, feeCurrency) {
		feeSide = model.FeeBase
	}

	return model.Trade{
		TradeID:  id,
		Exchange: model.Exchange,
		Market:   market,
		Side:     side,
		Amount:   execAmount.Abs(),
		Price:    price,
		Fee:      fee.Abs(),
		FeeSide:  feeSide,
		Time:     epochTime(ts),
	}, nil
}

// Order record: [ID, PAIR, AMOUNT, AMOUNT_ORIG, TYPE, STATUS, PRICE, PRICE_AVG,
// CREATED_AT, ...].
func decodeOrder(rec []json.RawMessage, codec *symbol.Codec) (model.Order, error) {
	if len(rec) < 9 {
		return model.Order{}, decodeErr("order", "want at least 9 fields, got %d", len(rec))
	}

	id, err := stringField(rec[0])
	if err != nil || id == "" {
		return model.Order{}, decodeErr("order", "id: %v", err)
	}
	market, err := marketField(rec[1], codec)
	if err != nil {
		return model.Order{}, decodeErr("order", "pair: %v", err)
	}
	remaining, err := decimalField(rec[2])
	if err != nil {
		return model.Order{}, decodeErr("order", "amount: %v", err)
	}
	orig, err := decimalField(rec[3])
	if err != nil {
		return model.Order{}, decodeErr("order", "original amount: %v", err)
	}
	status, err := stringField(rec[5])
	if err != nil {
		return model.Order{}, decodeErr("order", "status: %v", err)
	}
	price, err := decimalField(rec[6])
	if err != nil {
		return model.Order{}, decodeErr("order", "price: %v", err)
	}
	createdRaw, err := stringField(rec[8])
	if err != nil {
		return model.Order{}, decodeErr("order", "created: %v", err)
	}
	created, err := isoTime(createdRaw)
	if err != nil {
		return model.Order{}, decodeErr("order", "created: %v", err)
	}

	signed := remaining
	if signed.IsZero() {
		signed = orig
	}
	side := model.SideBid
	if signed.IsNegative() {
		side = model.SideAsk
	}

	return model.Order{
		OrderID:        model.NormalizeOrderID(id),
		Exchange:       model.Exchange,
		Market:         market,
		Side:           side,
		Price:          price,
		Amount:         orig.Abs(),
		ExecutedAmount: orig.Sub(remaining).Abs(),
		State:          OrderStateFromStatus(status, remaining),
		CreatedAt:      created,
	}, nil
}

// OrderStateFromStatus classifies an exchange order status. An order is closed
// when canceled, or when executed with nothing remaining.
func OrderStateFromStatus(status string, remaining decimal.Decimal) model.OrderState {
	up := strings.ToUpper(status)
	if strings.HasPrefix(up, "CANCELED") {
		return model.OrderClosed
	}
	if strings.Contains(up, "EXECUTED") && remaining.IsZero() {
		return model.OrderClosed
	}
	return model.OrderOpen
}
