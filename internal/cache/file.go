package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"market_cache/internal/domain"
)

// Entry is one ticker as persisted under ticker_cache.
type Entry struct {
	Base      string  `json:"base"`
	Quote     string  `json:"quote"`
	Price     float64 `json:"price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Change24h float64 `json:"change24h"`
	Volume    float64 `json:"volume"`
	Source    string  `json:"source"`
	Timestamp float64 `json:"timestamp"` // unix seconds
	Pair      string  `json:"pair"`
	Exchange  string  `json:"exchange"`
}

// Document is the snapshot file shared between the writer and every reader.
type Document struct {
	GeneratedAt float64            `json:"generated_at"` // unix seconds
	Source      string             `json:"source"`
	Prices      map[string]float64 `json:"prices"`
	TickerCache map[string]Entry   `json:"ticker_cache"` // keyed <SYMBOL><QUOTE>
	Count       int                `json:"count"`
}

// BuildDocument serializes a store snapshot.
func BuildDocument(source string, tickers map[string]domain.Ticker, now time.Time) *Document {
	doc := &Document{
		GeneratedAt: unixSeconds(now),
		Source:      source,
		Prices:      make(map[string]float64, len(tickers)),
		TickerCache: make(map[string]Entry, len(tickers)),
	}
	for symbol, t := range tickers {
		doc.Prices[symbol] = t.Price
		doc.TickerCache[symbol+t.Quote] = entryFromTicker(t)
	}
	doc.Count = len(doc.Prices)
	return doc
}

func entryFromTicker(t domain.Ticker) Entry {
	return Entry{
		Base:      t.Symbol,
		Quote:     t.Quote,
		Price:     t.Price,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Change24h: t.Change24h,
		Volume:    t.Volume24h,
		Source:    t.Source,
		Timestamp: unixSeconds(t.Timestamp),
		Pair:      t.Pair,
		Exchange:  t.Exchange,
	}
}

// Ticker converts the entry back into a domain ticker.
func (e Entry) Ticker() domain.Ticker {
	return domain.Ticker{
		Symbol:    domain.NormalizeSymbol(e.Base),
		Quote:     e.Quote,
		Price:     e.Price,
		Bid:       e.Bid,
		Ask:       e.Ask,
		Change24h: e.Change24h,
		Volume24h: e.Volume,
		Source:    e.Source,
		Exchange:  e.Exchange,
		Timestamp: fromUnixSeconds(e.Timestamp),
		Pair:      e.Pair,
	}
}

// GeneratedTime returns generated_at as a time.
func (d *Document) GeneratedTime() time.Time {
	return fromUnixSeconds(d.GeneratedAt)
}

// WriteFile replaces path atomically: the document is written to <path>.tmp
// in the same directory, synced, then renamed over path. Readers see either
// the previous or the new file, never a partial one.
func WriteFile(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}

	if err := json.NewEncoder(f).Encode(doc); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode cache document: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// ReadFile loads and decodes a cache document.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.DecodeError{Tag: "cache", Err: err}
	}
	return &doc, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(s float64) time.Time {
	if s <= 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(s*float64(time.Second)))
}
