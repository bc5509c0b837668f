package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"market_cache/internal/domain"
	"market_cache/internal/infra"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultPollInterval = 15 * time.Second
	restMaxAttempts     = 3
	restRetryDelay      = time.Second
)

// TickerSink accepts normalized tickers. Update reports whether the ticker was stored.
type TickerSink interface {
	Update(t domain.Ticker) bool
}

// RestPollerOptions configures a RestPoller.
type RestPollerOptions struct {
	BaseURL        string // e.g. https://api.binance.com
	Source         string // e.g. "binance-rest"
	Exchange       string // e.g. "BINANCE"
	Symbols        []string
	Interval       time.Duration
	RequestsPerSec float64
	HTTPClient     *http.Client
	Metrics        *infra.Metrics
	Logger         *slog.Logger
}

// RestPoller periodically fetches 24h tickers over REST as a fallback feed.
type RestPoller struct {
	opts       RestPollerOptions
	sink       TickerSink
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *infra.Metrics
	logger     *slog.Logger
	retryDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRestPoller creates an idle poller writing into sink.
func NewRestPoller(opts RestPollerOptions, sink TickerSink) *RestPoller {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultRestURL
	}
	if opts.Source == "" {
		opts.Source = "binance-rest"
	}
	if opts.Exchange == "" {
		opts.Exchange = "BINANCE"
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 1
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RestPoller{
		opts:       opts,
		sink:       sink,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		metrics:    metrics,
		logger:     logger.With("module", "binance_rest"),
		retryDelay: restRetryDelay,
	}
}

// Start polls once immediately in the background and then on every interval until Stop.
func (p *RestPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("REST polling panic recovered", slog.Any("panic", r))
			}
		}()

		if _, err := p.Poll(ctx); err != nil {
			p.logger.Warn("Initial REST poll failed", slog.Any("error", err))
			// Continue anyway - will retry on next tick
		}

		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("REST polling stopped")
				return
			case <-ticker.C:
				if _, err := p.Poll(ctx); err != nil {
					p.logger.Warn("REST poll failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// Stop stops the polling
func (p *RestPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
		p.cancel = nil
	}
}

// Poll fetches all configured symbols with retries and returns how many tickers were stored.
func (p *RestPoller) Poll(ctx context.Context) (int, error) {
	var lastErr error
	for i := 0; i < restMaxAttempts; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s
			delay := p.retryDelay * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		rows, err := p.fetch(ctx)
		if err == nil {
			n := p.store(rows)
			p.metrics.RecordPoll(nil)
			return n, nil
		}
		lastErr = err
		p.logger.Warn("REST fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
		if ctx.Err() != nil || !domain.IsRetriable(err) {
			break
		}
	}
	p.metrics.RecordPoll(lastErr)
	return 0, lastErr
}

func (p *RestPoller) requestURL() string {
	symbols := make([]string, len(p.opts.Symbols))
	for i, s := range p.opts.Symbols {
		symbols[i] = `"` + strings.ToUpper(s) + `"`
	}
	q := url.Values{}
	q.Set("symbols", "["+strings.Join(symbols, ",")+"]")
	return strings.TrimRight(p.opts.BaseURL, "/") + "/api/v3/ticker/24hr?" + q.Encode()
}

func (p *RestPoller) fetch(ctx context.Context) ([]rest24hrTicker, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.requestURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("rest fetch", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError("rest read", err)
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status code: %d body=%s", resp.StatusCode, string(body))
		// 4xx means the request itself is wrong; only rate limiting is worth retrying.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, domain.NewFatalNetworkError("rest status", statusErr)
		}
		return nil, domain.NewNetworkError("rest status", statusErr)
	}

	var rows []rest24hrTicker
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.DecodeError{Tag: "ticker/24hr", Err: err}
	}
	return rows, nil
}

func (p *RestPoller) store(rows []rest24hrTicker) int {
	now := time.Now()
	stored := 0
	for _, row := range rows {
		t, err := row.toTicker(p.opts.Source, p.opts.Exchange, now)
		if err != nil {
			p.logger.Warn("Skipping REST ticker", slog.String("symbol", row.Symbol), slog.Any("error", err))
			continue
		}
		if p.sink.Update(t) {
			stored++
		} else {
			p.metrics.RecordRejected()
		}
	}
	return stored
}

func (r rest24hrTicker) toTicker(source, exchange string, now time.Time) (domain.Ticker, error) {
	price, err := decimal.NewFromString(r.LastPrice)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("%w: lastPrice %q", domain.ErrInvalidPrice, r.LastPrice)
	}

	base, quote := domain.SplitInstrument(r.Symbol)
	ts := now
	if r.CloseTime > 0 {
		ts = time.UnixMilli(r.CloseTime)
	}

	t := domain.Ticker{
		Symbol:    base,
		Quote:     quote,
		Price:     price.InexactFloat64(),
		Bid:       parseFloat(r.BidPrice),
		Ask:       parseFloat(r.AskPrice),
		Change24h: parseFloat(r.PriceChangePercent),
		Volume24h: parseFloat(r.QuoteVolume),
		Source:    source,
		Exchange:  exchange,
		Timestamp: ts,
		Pair:      strings.ToUpper(r.Symbol),
	}
	return t, t.Validate()
}

// parseFloat returns 0 for empty or malformed optional fields.
func parseFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
