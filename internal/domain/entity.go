package domain

import (
	"time"
)

// Instrument records an exchange pair observed by a feed and its canonical mapping
type Instrument struct {
	Pair        string    `gorm:"primaryKey" json:"pair"`     // Original instrument id (e.g., "BTCUSDT")
	Exchange    string    `gorm:"primaryKey" json:"exchange"` // "BINANCE"
	Symbol      string    `json:"symbol" gorm:"index"`        // Canonical base asset
	Quote       string    `json:"quote"`
	Source      string    `json:"source"`
	LastPrice   float64   `json:"last_price"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// InstrumentFromTicker builds a catalog entry from a cached ticker
func InstrumentFromTicker(t Ticker) Instrument {
	return Instrument{
		Pair:        t.Pair,
		Exchange:    t.Exchange,
		Symbol:      t.Symbol,
		Quote:       t.Quote,
		Source:      t.Source,
		LastPrice:   t.Price,
		FirstSeenAt: t.Timestamp,
		LastSeenAt:  t.Timestamp,
	}
}
