package domain

import (
	"time"
)

// PriceReader is the read side consumed by every downstream process.
// A maxAge <= 0 means "use the source's own TTL".
type PriceReader interface {
	GetPrice(symbol string, maxAge time.Duration) (float64, bool)
	GetTicker(symbol string, maxAge time.Duration) (Ticker, bool)
	GetAllPrices(maxAge time.Duration) map[string]float64
	GetAllTickers(maxAge time.Duration) map[string]Ticker
}

// InstrumentRepository persists observed instruments
type InstrumentRepository interface {
	UpsertInstruments(instruments []Instrument) error
	GetInstrument(exchange, pair string) (*Instrument, error)
	ListInstruments() ([]Instrument, error)
}
