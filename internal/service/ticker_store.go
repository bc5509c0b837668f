package service

import (
	"sort"
	"sync"
	"time"

	"market_cache/internal/domain"
)

// TickerStore holds the latest ticker per canonical symbol for one producer.
type TickerStore struct {
	mu      sync.Mutex
	tickers map[string]domain.Ticker
	now     func() time.Time
}

// StoreOption customizes a TickerStore.
type StoreOption func(*TickerStore)

// WithStoreClock replaces time.Now (for testing).
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *TickerStore) { s.now = now }
}

// NewTickerStore creates an empty store.
func NewTickerStore(opts ...StoreOption) *TickerStore {
	s := &TickerStore{
		tickers: make(map[string]domain.Ticker),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update stores t unless it is invalid or older than what the same source already reported.
// Returns true when the ticker was stored.
func (s *TickerStore) Update(t domain.Ticker) bool {
	t.Symbol = domain.NormalizeSymbol(t.Symbol)
	if err := t.Validate(); err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.tickers[t.Symbol]; ok && cur.Source == t.Source && cur.NewerThan(t) {
		return false
	}
	s.tickers[t.Symbol] = t
	return true
}

// Get returns the ticker for symbol if now - timestamp <= maxAge. maxAge <= 0 disables the age check.
func (s *TickerStore) Get(symbol string, maxAge time.Duration) (domain.Ticker, bool) {
	t, ok := s.Latest(symbol)
	if !ok {
		return domain.Ticker{}, false
	}
	if maxAge > 0 && !t.IsFresh(s.now(), maxAge) {
		return domain.Ticker{}, false
	}
	return t, true
}

// Latest returns the stored ticker regardless of age.
func (s *TickerStore) Latest(symbol string) (domain.Ticker, bool) {
	key := domain.NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickers[key]
	return t, ok
}

// Snapshot returns a copy of every stored ticker keyed by symbol.
func (s *TickerStore) Snapshot() map[string]domain.Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.Ticker, len(s.tickers))
	for k, v := range s.tickers {
		out[k] = v
	}
	return out
}

// Symbols returns the stored symbols sorted for consistent ordering.
func (s *TickerStore) Symbols() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.tickers))
	for k := range s.tickers {
		out = append(out, k)
	}
	s.mu.Unlock()

	sort.Strings(out)
	return out
}

// Len returns the number of stored symbols.
func (s *TickerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickers)
}
