package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"market_cache/internal/cache"
	"market_cache/internal/infra"
	"market_cache/internal/infra/binance"
	"market_cache/internal/infra/storage"
	"market_cache/internal/service"

	"github.com/prometheus/client_golang/prometheus"
)

// Bootstrap orchestrates the feeder startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Metrics  *infra.Metrics
	Registry *prometheus.Registry
	Catalog  *storage.Catalog

	StreamStore  *service.TickerStore
	Stream       *binance.Stream
	StreamWriter *service.CacheWriter

	// REST fallback; nil when rest.enabled is false
	RestStore  *service.TickerStore
	RestPoller *binance.RestPoller
	RestWriter *service.CacheWriter

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and builds every component without starting any of them.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping market cache feeder...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Metrics
	b.Metrics = infra.NewMetrics()
	b.Registry = prometheus.NewRegistry()
	if err := b.Metrics.Register(b.Registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// 4. Instrument catalog (DB)
	catalog, err := storage.NewCatalog(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Catalog = catalog
	known, _ := catalog.Count()
	slog.Info("✅ Instrument catalog initialized", slog.Int64("instruments", known))

	// 5. Streaming feed
	b.StreamStore = service.NewTickerStore()
	feed := service.NewFeed(b.StreamStore, cfg.Feed.Source, cfg.Feed.Exchange, b.Metrics)
	b.Stream = binance.NewStream(binance.Options{
		URL:            cfg.Feed.WSURL,
		ReconnectDelay: cfg.ReconnectDelay(),
		PingInterval:   cfg.PingInterval(),
		PongTimeout:    cfg.PongTimeout(),
		QueueSize:      cfg.Feed.QueueSize,
		Metrics:        b.Metrics,
		Logger:         logger,
	}, feed)
	b.StreamWriter = service.NewCacheWriter(b.StreamStore, cfg.StreamCachePath(), cfg.Feed.Source, cfg.WriteInterval(), b.Metrics)
	slog.Info("✅ Stream feed ready",
		slog.String("url", cfg.Feed.WSURL),
		slog.Int("streams", len(cfg.StreamNames())),
		slog.String("cache_file", cfg.StreamCachePath()))

	// 6. REST fallback
	if cfg.Rest.Enabled {
		b.RestStore = service.NewTickerStore()
		b.RestPoller = binance.NewRestPoller(binance.RestPollerOptions{
			BaseURL:        cfg.Rest.RestURL,
			Source:         cfg.Rest.Source,
			Exchange:       cfg.Feed.Exchange,
			Symbols:        cfg.Feed.Symbols,
			Interval:       cfg.PollInterval(),
			RequestsPerSec: cfg.Rest.RequestsPerSec,
			Metrics:        b.Metrics,
			Logger:         logger,
		}, b.RestStore)
		b.RestWriter = service.NewCacheWriter(b.RestStore, cfg.RestCachePath(), cfg.Rest.Source, cfg.WriteInterval(), b.Metrics)
		slog.Info("✅ REST fallback ready", slog.String("cache_file", cfg.RestCachePath()))
	}

	return nil
}

// ReaderConfig describes the cache files this feeder produces, streaming first.
func (b *Bootstrap) ReaderConfig() cache.ReaderConfig {
	cfg := b.Config
	rc := cache.ReaderConfig{
		Sources: []cache.Source{
			{Name: cfg.Feed.Source, Path: cfg.StreamCachePath(), Priority: 2, TTL: cfg.StreamTTL()},
		},
		MinReloadInterval: cfg.MinReloadInterval(),
	}
	if cfg.Rest.Enabled {
		rc.Sources = append(rc.Sources, cache.Source{
			Name: cfg.Rest.Source, Path: cfg.RestCachePath(), Priority: 1, TTL: cfg.RestTTL(),
		})
	}
	return rc
}

// MetricsHandler exposes the feeder's registry
func (b *Bootstrap) MetricsHandler() http.Handler {
	return infra.MetricsHandler(b.Registry)
}

// Start launches writers, the stream, the REST poller and the catalog sync loop.
func (b *Bootstrap) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	if err := b.StreamWriter.Start(ctx); err != nil {
		return err
	}
	if err := b.Stream.Start(ctx, b.Config.StreamNames()); err != nil {
		return err
	}
	slog.InfoContext(ctx, "✅ Stream started", slog.Any("streams", b.Config.StreamNames()))

	if b.RestPoller != nil {
		if err := b.RestWriter.Start(ctx); err != nil {
			return err
		}
		if err := b.RestPoller.Start(ctx); err != nil {
			return err
		}
		slog.InfoContext(ctx, "✅ REST poller started", slog.Duration("interval", b.Config.PollInterval()))
	}

	b.wg.Add(1)
	go b.syncLoop(ctx)

	return nil
}

func (b *Bootstrap) syncLoop(ctx context.Context) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Catalog sync panic recovered", slog.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(b.Config.SyncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.SyncCatalog()
		}
	}
}

// SyncCatalog records every instrument currently held by the feeder's stores.
func (b *Bootstrap) SyncCatalog() int {
	total := 0
	for _, store := range []*service.TickerStore{b.StreamStore, b.RestStore} {
		if store == nil {
			continue
		}
		n, err := b.Catalog.SyncTickers(store.Snapshot())
		if err != nil {
			slog.Warn("Catalog sync failed", slog.Any("error", err))
			continue
		}
		total += n
	}
	slog.Debug("Catalog synced", slog.Int("instruments", total))
	return total
}

// Shutdown stops producers first so the final cache flush and catalog sync see everything.
func (b *Bootstrap) Shutdown() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()

		if b.Stream != nil {
			b.Stream.Stop()
		}
		if b.RestPoller != nil {
			b.RestPoller.Stop()
		}
		if b.StreamWriter != nil {
			b.StreamWriter.Stop()
		}
		if b.RestWriter != nil {
			b.RestWriter.Stop()
		}
		if b.Catalog != nil {
			b.SyncCatalog()
			if err := b.Catalog.Close(); err != nil {
				slog.Warn("Failed to close catalog", slog.Any("error", err))
			}
		}
	})
}
