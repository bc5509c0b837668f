package service

import (
	"log/slog"

	"market_cache/internal/domain"
	"market_cache/internal/infra"
	"market_cache/internal/infra/binance"
)

// Feed turns typed stream events into normalized tickers in a TickerStore.
// Bars and depth deltas stay on the stream queues.
type Feed struct {
	binance.NopListener

	store    *TickerStore
	source   string
	exchange string
	metrics  *infra.Metrics
	logger   *slog.Logger
}

var _ binance.Listener = (*Feed)(nil)

// NewFeed creates a listener that writes into store under the given source and exchange names.
func NewFeed(store *TickerStore, source, exchange string, metrics *infra.Metrics) *Feed {
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	return &Feed{
		store:    store,
		source:   source,
		exchange: exchange,
		metrics:  metrics,
		logger:   slog.Default().With("module", "feed", "source", source),
	}
}

// OnTicker stores a full ticker built from a 24h statistics event.
func (f *Feed) OnTicker(ev domain.TickerEvent) {
	base, quote := domain.SplitInstrument(ev.Pair)
	t := domain.Ticker{
		Symbol:    base,
		Quote:     quote,
		Price:     ev.Last.InexactFloat64(),
		Bid:       ev.Bid.InexactFloat64(),
		Ask:       ev.Ask.InexactFloat64(),
		Change24h: ev.ChangePct.InexactFloat64(),
		Volume24h: ev.QuoteVolume.InexactFloat64(),
		Source:    f.source,
		Exchange:  f.exchange,
		Timestamp: ev.EventTime,
		Pair:      ev.Pair,
	}
	f.update(t)
}

// OnTrade refreshes the price of the latest ticker for the same pair, or creates a price-only one.
func (f *Feed) OnTrade(tr domain.Trade) {
	base, quote := domain.SplitInstrument(tr.Pair)

	t, ok := f.store.Latest(base)
	if !ok || t.Pair != tr.Pair {
		t = domain.Ticker{
			Symbol:   base,
			Quote:    quote,
			Source:   f.source,
			Exchange: f.exchange,
			Pair:     tr.Pair,
		}
	}
	t.Price = tr.Price.InexactFloat64()
	t.Timestamp = tr.EventTime
	f.update(t)
}

func (f *Feed) update(t domain.Ticker) {
	if f.store.Update(t) {
		return
	}
	f.metrics.RecordRejected()
	f.logger.Debug("Ticker update rejected",
		slog.String("pair", t.Pair),
		slog.Float64("price", t.Price),
		slog.Time("timestamp", t.Timestamp),
	)
}
