package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"market_cache/internal/cache"
	"market_cache/internal/infra"
)

// CacheWriter periodically persists a TickerStore snapshot to a shared cache file.
type CacheWriter struct {
	store    *TickerStore
	path     string
	source   string
	interval time.Duration
	metrics  *infra.Metrics
	logger   *slog.Logger

	flushMu sync.Mutex
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCacheWriter creates a writer for store; interval defaults to one second.
func NewCacheWriter(store *TickerStore, path, source string, interval time.Duration, metrics *infra.Metrics) *CacheWriter {
	if interval <= 0 {
		interval = time.Second
	}
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	return &CacheWriter{
		store:    store,
		path:     path,
		source:   source,
		interval: interval,
		metrics:  metrics,
		logger:   slog.Default().With("module", "cache_writer", "source", source),
	}
}

// Start begins the write loop.
func (w *CacheWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Cache writer panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.Flush(); err != nil {
					// The previous file stays in place; retried next tick.
					w.logger.Warn("Cache write failed", slog.String("path", w.path), slog.Any("error", err))
				}
			}
		}
	}()

	w.logger.Info("Cache writer started", slog.String("path", w.path), slog.Duration("interval", w.interval))
	return nil
}

// Stop ends the write loop and performs a final flush.
func (w *CacheWriter) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	w.cancel = nil

	if err := w.Flush(); err != nil {
		w.logger.Warn("Final cache write failed", slog.String("path", w.path), slog.Any("error", err))
	}
}

// Flush writes the current snapshot synchronously. An empty store is not written.
func (w *CacheWriter) Flush() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	snapshot := w.store.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	start := time.Now()
	err := cache.WriteFile(w.path, cache.BuildDocument(w.source, snapshot, start))
	w.metrics.RecordWrite(time.Since(start), err)
	return err
}

// Path returns the target cache file.
func (w *CacheWriter) Path() string {
	return w.path
}
