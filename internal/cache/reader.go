package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"market_cache/internal/domain"
)

// Source is one cache file a Reader merges.
type Source struct {
	Name     string        // e.g. "binance-ws"
	Path     string        // cache file location
	Priority int           // higher wins timestamp ties
	TTL      time.Duration // default freshness window for this source
}

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	Sources           []Source
	MinReloadInterval time.Duration // zero reloads on every query
}

// Option customizes a Reader.
type Option func(*Reader)

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) { r.logger = logger }
}

// fileState is the last parse of one source file.
type fileState struct {
	info        os.FileInfo
	generatedAt time.Time
	tickers     map[string]domain.Ticker // keyed by canonical symbol
}

// Reader answers price queries from the cache files of one or more producers.
// It never touches the network. Safe for concurrent use.
type Reader struct {
	cfg    ReaderConfig
	now    func() time.Time
	logger *slog.Logger

	mu         sync.Mutex
	closed     bool
	lastReload time.Time
	files      []fileState
}

var _ domain.PriceReader = (*Reader)(nil)

// Open validates cfg and performs the first load.
func Open(cfg ReaderConfig, opts ...Option) (*Reader, error) {
	for i, src := range cfg.Sources {
		if src.Path == "" {
			return nil, &domain.ConfigError{Field: fmt.Sprintf("sources[%d].path", i), Err: errors.New("path is required")}
		}
		if src.TTL <= 0 {
			return nil, &domain.ConfigError{Field: fmt.Sprintf("sources[%d].ttl", i), Err: errors.New("must be positive")}
		}
		if cfg.Sources[i].Name == "" {
			cfg.Sources[i].Name = src.Path
		}
	}

	r := &Reader{
		cfg:   cfg,
		now:   time.Now,
		files: make([]fileState, len(cfg.Sources)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("module", "cache_reader")

	r.mu.Lock()
	r.reloadLocked(r.now())
	r.mu.Unlock()
	return r, nil
}

// Close releases the parsed snapshots. Queries on a closed reader report absent.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.files = nil
	return nil
}

// Reload re-reads changed files immediately, bypassing the reload throttle.
func (r *Reader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrReaderClosed
	}
	r.reloadLocked(r.now())
	return nil
}

// GetPrice returns the merged fresh price for symbol.
func (r *Reader) GetPrice(symbol string, maxAge time.Duration) (float64, bool) {
	t, ok := r.GetTicker(symbol, maxAge)
	if !ok {
		return 0, false
	}
	return t.Price, true
}

// GetTicker returns the merged fresh ticker for symbol. maxAge <= 0 uses each source's TTL.
func (r *Reader) GetTicker(symbol string, maxAge time.Duration) (domain.Ticker, bool) {
	key := domain.NormalizeSymbol(symbol)
	if key == "" {
		return domain.Ticker{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.Ticker{}, false
	}
	now := r.now()
	r.maybeReloadLocked(now)
	return r.mergeLocked(key, maxAge, now)
}

// GetAllPrices returns every symbol with a fresh price.
func (r *Reader) GetAllPrices(maxAge time.Duration) map[string]float64 {
	tickers := r.GetAllTickers(maxAge)
	prices := make(map[string]float64, len(tickers))
	for symbol, t := range tickers {
		prices[symbol] = t.Price
	}
	return prices
}

// GetAllTickers returns every symbol with a fresh ticker after merging sources.
func (r *Reader) GetAllTickers(maxAge time.Duration) map[string]domain.Ticker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]domain.Ticker)
	if r.closed {
		return out
	}
	now := r.now()
	r.maybeReloadLocked(now)

	seen := make(map[string]bool)
	for _, st := range r.files {
		for symbol := range st.tickers {
			if seen[symbol] {
				continue
			}
			seen[symbol] = true
			if t, ok := r.mergeLocked(symbol, maxAge, now); ok {
				out[symbol] = t
			}
		}
	}
	return out
}

// mergeLocked picks, among sources with a fresh ticker, the latest timestamp;
// equal timestamps go to the higher priority.
func (r *Reader) mergeLocked(symbol string, maxAge time.Duration, now time.Time) (domain.Ticker, bool) {
	var (
		best     domain.Ticker
		bestPrio int
		found    bool
	)
	for i, src := range r.cfg.Sources {
		st := r.files[i]
		if st.tickers == nil {
			continue
		}
		ttl := src.TTL
		if maxAge > 0 {
			ttl = maxAge
		}
		if now.Sub(st.generatedAt) > ttl {
			continue
		}
		t, ok := st.tickers[symbol]
		if !ok || !t.IsFresh(now, ttl) {
			continue
		}
		if !found || t.Timestamp.After(best.Timestamp) ||
			(t.Timestamp.Equal(best.Timestamp) && src.Priority > bestPrio) {
			best, bestPrio, found = t, src.Priority, true
		}
	}
	return best, found
}

func (r *Reader) maybeReloadLocked(now time.Time) {
	if !r.lastReload.IsZero() && now.Sub(r.lastReload) < r.cfg.MinReloadInterval {
		return
	}
	r.reloadLocked(now)
}

func (r *Reader) reloadLocked(now time.Time) {
	r.lastReload = now
	for i, src := range r.cfg.Sources {
		r.files[i] = r.loadSource(src, r.files[i], now)
	}
}

// loadSource re-parses a file only when it was replaced or its mtime/size changed.
func (r *Reader) loadSource(src Source, prev fileState, now time.Time) fileState {
	info, err := os.Stat(src.Path)
	if err != nil {
		if prev.info != nil || !errors.Is(err, os.ErrNotExist) {
			r.logger.Debug("Cache file unavailable", slog.String("source", src.Name), slog.Any("error", err))
		}
		return fileState{}
	}
	if prev.info != nil && os.SameFile(prev.info, info) &&
		prev.info.ModTime().Equal(info.ModTime()) && prev.info.Size() == info.Size() {
		return prev
	}

	doc, err := ReadFile(src.Path)
	if err != nil {
		r.logger.Debug("Cache file unreadable", slog.String("source", src.Name), slog.Any("error", err))
		// Remember the stat so an unchanged corrupt file is not re-parsed.
		return fileState{info: info}
	}

	st := fileState{
		info:        info,
		generatedAt: doc.GeneratedTime(),
		tickers:     make(map[string]domain.Ticker, len(doc.Prices)),
	}
	if now.Sub(st.generatedAt) > src.TTL {
		r.logger.Debug("Cache file is stale",
			slog.String("source", src.Name),
			slog.Any("error", domain.ErrStaleCache),
			slog.Time("generated_at", st.generatedAt),
		)
	}

	docSource := doc.Source
	if docSource == "" {
		docSource = src.Name
	}

	for _, e := range doc.TickerCache {
		t := e.Ticker()
		if t.Source == "" {
			t.Source = docSource
		}
		if t.Validate() != nil {
			continue
		}
		if cur, ok := st.tickers[t.Symbol]; ok && !t.NewerThan(cur) {
			continue
		}
		st.tickers[t.Symbol] = t
	}

	// Entries present only in prices carry generated_at as their observation time.
	for symbol, price := range doc.Prices {
		key := domain.NormalizeSymbol(symbol)
		if _, ok := st.tickers[key]; ok {
			continue
		}
		t := domain.Ticker{Symbol: key, Price: price, Source: docSource, Timestamp: st.generatedAt}
		if t.Validate() != nil {
			continue
		}
		st.tickers[key] = t
	}
	return st
}
