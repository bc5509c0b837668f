package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Typed stream events. Prices stay as decimals until they enter the cache.

// Trade is a single public trade print.
type Trade struct {
	Pair       string          `json:"pair"` // e.g., "BTCUSDT"
	TradeID    int64           `json:"trade_id"`
	Price      decimal.Decimal `json:"price"`
	Qty        decimal.Decimal `json:"qty"`
	BuyerMaker bool            `json:"buyer_maker"`
	TradeTime  time.Time       `json:"trade_time"`
	EventTime  time.Time       `json:"event_time"`
}

// TickerEvent is a rolling 24h statistics update.
type TickerEvent struct {
	Pair        string          `json:"pair"`
	Last        decimal.Decimal `json:"last"`
	Bid         decimal.Decimal `json:"bid"` // zero for mini tickers
	Ask         decimal.Decimal `json:"ask"` // zero for mini tickers
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	ChangePct   decimal.Decimal `json:"change_pct"`
	BaseVolume  decimal.Decimal `json:"base_volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	EventTime   time.Time       `json:"event_time"`
}

// Bar is a kline/candlestick update. Closed is false while the bar is still forming.
type Bar struct {
	Pair      string          `json:"pair"`
	Interval  string          `json:"interval"` // e.g., "1m"
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Trades    int64           `json:"trades"`
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Closed    bool            `json:"closed"`
	EventTime time.Time       `json:"event_time"`
}

// PriceLevel is one side entry of an order book. Qty of zero removes the level.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// OrderBookDelta carries order book changes between two update ids.
// For partial depth snapshots FirstUpdateID == FinalUpdateID == lastUpdateId.
type OrderBookDelta struct {
	Pair          string       `json:"pair"`
	FirstUpdateID int64        `json:"first_update_id"`
	FinalUpdateID int64        `json:"final_update_id"`
	Bids          []PriceLevel `json:"bids"`
	Asks          []PriceLevel `json:"asks"`
	Snapshot      bool         `json:"snapshot"`
	EventTime     time.Time    `json:"event_time"`
}

// BestBid returns the first bid level, if any.
func (d *OrderBookDelta) BestBid() (PriceLevel, bool) {
	if len(d.Bids) == 0 {
		return PriceLevel{}, false
	}
	return d.Bids[0], true
}

// BestAsk returns the first ask level, if any.
func (d *OrderBookDelta) BestAsk() (PriceLevel, bool) {
	if len(d.Asks) == 0 {
		return PriceLevel{}, false
	}
	return d.Asks[0], true
}
