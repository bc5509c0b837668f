package domain

import (
	"math"
	"time"
)

// Ticker is the unit of cached state: the latest quote observed for one
// canonical symbol from one source.
type Ticker struct {
	Symbol    string    `json:"symbol"`    // Canonical base asset (e.g., "BTC")
	Quote     string    `json:"quote"`     // Quote currency of the original pair (e.g., "USDT")
	Price     float64   `json:"price"`     // Last price
	Bid       float64   `json:"bid"`       // Best bid
	Ask       float64   `json:"ask"`       // Best ask
	Change24h float64   `json:"change24h"` // 24h change (%)
	Volume24h float64   `json:"volume"`    // 24h volume in quote currency
	Source    string    `json:"source"`    // Producing feed (e.g., "binance-ws")
	Exchange  string    `json:"exchange"`  // Venue (e.g., "BINANCE")
	Timestamp time.Time `json:"timestamp"` // Producer observation time
	Pair      string    `json:"pair"`      // Original instrument id (e.g., "BTCUSDT")
}

// Validate reports whether the ticker may enter the cache.
func (t *Ticker) Validate() error {
	if t.Symbol == "" {
		return ErrInvalidSymbol
	}
	if !(t.Price > 0) || math.IsInf(t.Price, 0) {
		return ErrInvalidPrice
	}
	if !nonNegative(t.Bid) || !nonNegative(t.Ask) || !nonNegative(t.Volume24h) {
		return ErrInvalidQuote
	}
	return nil
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

// Age returns how old the observation is relative to now.
func (t *Ticker) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}

// IsFresh returns true if now - timestamp <= ttl.
func (t *Ticker) IsFresh(now time.Time, ttl time.Duration) bool {
	return t.Age(now) <= ttl
}

// NewerThan reports whether t was observed after other.
func (t *Ticker) NewerThan(other Ticker) bool {
	return t.Timestamp.After(other.Timestamp)
}
