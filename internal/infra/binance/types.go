package binance

import (
	"time"

	"market_cache/internal/domain"
	"market_cache/internal/event"
)

const (
	DefaultWSURL   = "wss://stream.binance.com:9443"
	DefaultRestURL = "https://api.binance.com"

	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultQueueSize      = 1024
	handshakeTimeout      = 10 * time.Second
	writeWait             = 10 * time.Second
	reconnectJitterRatio  = 5 // up to 1/5 (20%) of the delay
)

// State is the connection state of a Stream.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectWait
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnectWait:
		return "RECONNECT_WAIT"
	default:
		return "UNKNOWN"
	}
}

// Listener receives typed events synchronously on the ingestion goroutine.
// Implementations must return quickly and must not call Stream.Stop.
type Listener interface {
	OnTrade(domain.Trade)
	OnTicker(domain.TickerEvent)
	OnBar(domain.Bar)
	OnDepth(domain.OrderBookDelta)
}

// NopListener ignores every event. Embed it to implement a subset of Listener.
type NopListener struct{}

func (NopListener) OnTrade(domain.Trade)          {}
func (NopListener) OnTicker(domain.TickerEvent)   {}
func (NopListener) OnBar(domain.Bar)              {}
func (NopListener) OnDepth(domain.OrderBookDelta) {}

// Queues mirror the listener callbacks. When a queue is full the oldest entry is dropped.
type Queues struct {
	Trades  *event.Ring[domain.Trade]
	Tickers *event.Ring[domain.TickerEvent]
	Bars    *event.Ring[domain.Bar]
	Depth   *event.Ring[domain.OrderBookDelta]
}

func newQueues(size int) *Queues {
	return &Queues{
		Trades:  event.NewRing[domain.Trade](size),
		Tickers: event.NewRing[domain.TickerEvent](size),
		Bars:    event.NewRing[domain.Bar](size),
		Depth:   event.NewRing[domain.OrderBookDelta](size),
	}
}

// subscribeRequest Structure
type subscribeRequest struct {
	Method string   `json:"method"` // SUBSCRIBE, UNSUBSCRIBE
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// subscriptionAck is the server's reply to a subscribeRequest
type subscriptionAck struct {
	ID    int64
	Error string
}

// rest24hrTicker is one element of GET /api/v3/ticker/24hr
type rest24hrTicker struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}
