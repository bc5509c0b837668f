package binance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"market_cache/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var errInvalidJSON = errors.New("invalid json")

// decode parses one inbound frame into Trade, TickerEvent, Bar, OrderBookDelta or
// subscriptionAck. Frames are either wrapped as {"stream":..,"data":..} or bare.
// Field lookups are case-sensitive ("p" and "P" are different fields).
func decode(msg []byte) (any, error) {
	if !gjson.ValidBytes(msg) {
		return nil, &domain.DecodeError{Err: errInvalidJSON}
	}
	root := gjson.ParseBytes(msg)
	if !root.IsObject() {
		return nil, &domain.DecodeError{Err: fmt.Errorf("%w: not an object", domain.ErrDecode)}
	}

	if id := root.Get("id"); id.Exists() && (root.Get("result").Exists() || root.Get("error").Exists()) {
		return subscriptionAck{ID: id.Int(), Error: root.Get("error.msg").String()}, nil
	}

	payload, stream := root, ""
	if data := root.Get("data"); data.Exists() && root.Get("stream").Exists() {
		payload, stream = data, root.Get("stream").String()
	}
	if !payload.IsObject() {
		return nil, &domain.DecodeError{Err: fmt.Errorf("%w: payload is not an object", domain.ErrDecode)}
	}

	tag := payload.Get("e")
	if !tag.Exists() {
		// Partial depth streams (<pair>@depth<N>) carry no event type.
		if payload.Get("lastUpdateId").Exists() && stream != "" {
			return decodePartialDepth(payload, stream)
		}
		return nil, &domain.DecodeError{Err: fmt.Errorf("%w: missing event type", domain.ErrDecode)}
	}

	switch tag.String() {
	case "trade":
		return decodeTrade(payload, "t")
	case "aggTrade":
		return decodeTrade(payload, "a")
	case "24hrTicker", "24hrMiniTicker":
		return decodeTicker(payload)
	case "kline":
		return decodeBar(payload)
	case "depthUpdate":
		return decodeDepth(payload)
	default:
		return nil, &domain.DecodeError{Tag: tag.String(), Err: fmt.Errorf("%w: unknown event type", domain.ErrDecode)}
	}
}

func decodeTrade(r gjson.Result, idKey string) (domain.Trade, error) {
	f := fields{r: r}
	tr := domain.Trade{
		Pair:       f.str("s"),
		TradeID:    f.integer(idKey),
		Price:      f.dec("p"),
		Qty:        f.dec("q"),
		TradeTime:  f.millis("T"),
		BuyerMaker: f.boolean("m"),
		EventTime:  f.millis("E"),
	}
	return tr, f.result(r.Get("e").String())
}

func decodeTicker(r gjson.Result) (domain.TickerEvent, error) {
	f := fields{r: r}
	ev := domain.TickerEvent{
		Pair:        f.str("s"),
		Last:        f.dec("c"),
		Open:        f.dec("o"),
		High:        f.dec("h"),
		Low:         f.dec("l"),
		BaseVolume:  f.dec("v"),
		QuoteVolume: f.dec("q"),
		Bid:         f.optDec("b"),
		Ask:         f.optDec("a"),
		EventTime:   f.millis("E"),
	}
	if r.Get("P").Exists() {
		ev.ChangePct = f.dec("P")
	} else if ev.Open.IsPositive() {
		// Mini tickers omit the change percentage.
		ev.ChangePct = ev.Last.Sub(ev.Open).Div(ev.Open).Mul(decimal.NewFromInt(100))
	}
	return ev, f.result(r.Get("e").String())
}

func decodeBar(r gjson.Result) (domain.Bar, error) {
	f := fields{r: r}
	k := f.object("k")
	bar := domain.Bar{
		Pair:      f.str("s"),
		EventTime: f.millis("E"),
		Interval:  k.str("i"),
		Open:      k.dec("o"),
		High:      k.dec("h"),
		Low:       k.dec("l"),
		Close:     k.dec("c"),
		Volume:    k.dec("v"),
		Trades:    k.integer("n"),
		OpenTime:  k.millis("t"),
		CloseTime: k.millis("T"),
		Closed:    k.boolean("x"),
	}
	if f.err == nil {
		f.err = k.err
	}
	return bar, f.result("kline")
}

func decodeDepth(r gjson.Result) (domain.OrderBookDelta, error) {
	f := fields{r: r}
	d := domain.OrderBookDelta{
		Pair:          f.str("s"),
		FirstUpdateID: f.integer("U"),
		FinalUpdateID: f.integer("u"),
		Bids:          f.levels("b"),
		Asks:          f.levels("a"),
		EventTime:     f.millis("E"),
	}
	return d, f.result("depthUpdate")
}

func decodePartialDepth(r gjson.Result, stream string) (domain.OrderBookDelta, error) {
	f := fields{r: r}
	id := f.integer("lastUpdateId")
	d := domain.OrderBookDelta{
		Pair:          PairFromStream(stream),
		FirstUpdateID: id,
		FinalUpdateID: id,
		Bids:          f.levels("bids"),
		Asks:          f.levels("asks"),
		Snapshot:      true,
		EventTime:     time.Now(),
	}
	return d, f.result("depth")
}

// PairFromStream returns the uppercase pair of a stream token ("btcusdt@depth5" -> "BTCUSDT").
func PairFromStream(stream string) string {
	pair, _, _ := strings.Cut(stream, "@")
	return strings.ToUpper(pair)
}

// fields accumulates the first schema error while extracting values.
type fields struct {
	r   gjson.Result
	err error
}

func (f *fields) fail(key, reason string) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: field %q %s", domain.ErrDecode, key, reason)
	}
}

func (f *fields) str(key string) string {
	v := f.r.Get(key)
	if v.Type != gjson.String || v.Str == "" {
		f.fail(key, "must be a non-empty string")
	}
	return v.Str
}

func (f *fields) dec(key string) decimal.Decimal {
	s := f.str(key)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		f.fail(key, "is not a decimal")
	}
	return d
}

// optDec returns zero when the key is absent; a present but malformed value is still an error.
func (f *fields) optDec(key string) decimal.Decimal {
	if !f.r.Get(key).Exists() {
		return decimal.Zero
	}
	return f.dec(key)
}

func (f *fields) integer(key string) int64 {
	v := f.r.Get(key)
	if v.Type != gjson.Number {
		f.fail(key, "must be a number")
	}
	return v.Int()
}

func (f *fields) millis(key string) time.Time {
	return time.UnixMilli(f.integer(key))
}

func (f *fields) boolean(key string) bool {
	v := f.r.Get(key)
	if v.Type != gjson.True && v.Type != gjson.False {
		f.fail(key, "must be a boolean")
	}
	return v.Bool()
}

func (f *fields) object(key string) *fields {
	v := f.r.Get(key)
	if !v.IsObject() {
		f.fail(key, "must be an object")
	}
	return &fields{r: v}
}

func (f *fields) levels(key string) []domain.PriceLevel {
	v := f.r.Get(key)
	if !v.IsArray() {
		f.fail(key, "must be an array")
		return nil
	}
	entries := v.Array()
	out := make([]domain.PriceLevel, 0, len(entries))
	for _, entry := range entries {
		pair := entry.Array()
		if len(pair) < 2 || pair[0].Type != gjson.String || pair[1].Type != gjson.String {
			f.fail(key, "must hold [price, qty] string pairs")
			return nil
		}
		price, perr := decimal.NewFromString(pair[0].Str)
		qty, qerr := decimal.NewFromString(pair[1].Str)
		if perr != nil || qerr != nil {
			f.fail(key, "holds a non-decimal level")
			return nil
		}
		out = append(out, domain.PriceLevel{Price: price, Qty: qty})
	}
	return out
}

func (f *fields) result(tag string) error {
	if f.err == nil {
		return nil
	}
	return &domain.DecodeError{Tag: tag, Err: f.err}
}
