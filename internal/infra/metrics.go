package infra

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides lightweight observability for the feed and cache.
// Uses atomic operations for thread-safety; Register exposes the counters to Prometheus.
type Metrics struct {
	// Stream counters
	messagesReceived atomic.Uint64
	decodeErrors     atomic.Uint64
	reconnects       atomic.Uint64
	queueEvictions   atomic.Uint64

	// Store / writer counters
	updatesRejected  atomic.Uint64
	cacheWrites      atomic.Uint64
	cacheWriteErrors atomic.Uint64

	// REST fallback counters
	restPolls  atomic.Uint64
	restErrors atomic.Uint64

	// Write latency tracking
	writeLatencySumNs atomic.Int64
	writeLatencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// NewMetrics creates a zeroed metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessage records one inbound stream frame.
func (m *Metrics) RecordMessage() {
	m.messagesReceived.Add(1)
}

// RecordDecodeError records a dropped, malformed message.
func (m *Metrics) RecordDecodeError() {
	m.decodeErrors.Add(1)
}

// RecordReconnect records a transition back into the reconnect loop.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordEviction records a queue entry dropped to make room.
func (m *Metrics) RecordEviction() {
	m.queueEvictions.Add(1)
}

// RecordRejected records an update refused by the ticker store.
func (m *Metrics) RecordRejected() {
	m.updatesRejected.Add(1)
}

// RecordWrite records a cache file write with latency.
func (m *Metrics) RecordWrite(latency time.Duration, err error) {
	if err != nil {
		m.cacheWriteErrors.Add(1)
		return
	}
	m.cacheWrites.Add(1)
	m.writeLatencySumNs.Add(latency.Nanoseconds())
	m.writeLatencyCount.Add(1)
}

// RecordPoll records a REST fallback poll.
func (m *Metrics) RecordPoll(err error) {
	m.restPolls.Add(1)
	if err != nil {
		m.restErrors.Add(1)
	}
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	MessagesReceived  uint64
	DecodeErrors      uint64
	Reconnects        uint64
	QueueEvictions    uint64
	UpdatesRejected   uint64
	CacheWrites       uint64
	CacheWriteErrors  uint64
	RestPolls         uint64
	RestErrors        uint64
	AvgWriteLatencyNs int64
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.writeLatencyCount.Load()
	if count > 0 {
		avgLatency = m.writeLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		MessagesReceived:  m.messagesReceived.Load(),
		DecodeErrors:      m.decodeErrors.Load(),
		Reconnects:        m.reconnects.Load(),
		QueueEvictions:    m.queueEvictions.Load(),
		UpdatesRejected:   m.updatesRejected.Load(),
		CacheWrites:       m.cacheWrites.Load(),
		CacheWriteErrors:  m.cacheWriteErrors.Load(),
		RestPolls:         m.restPolls.Load(),
		RestErrors:        m.restErrors.Load(),
		AvgWriteLatencyNs: avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.messagesReceived.Store(0)
	m.decodeErrors.Store(0)
	m.reconnects.Store(0)
	m.queueEvictions.Store(0)
	m.updatesRejected.Store(0)
	m.cacheWrites.Store(0)
	m.cacheWriteErrors.Store(0)
	m.restPolls.Store(0)
	m.restErrors.Store(0)
	m.writeLatencySumNs.Store(0)
	m.writeLatencyCount.Store(0)
	m.activeConnections.Store(0)
}

// Register exposes the counters as Prometheus collectors reading the atomics.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "market_cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	collectors := []prometheus.Collector{
		counter("stream_messages_total", "Inbound stream frames.", &m.messagesReceived),
		counter("stream_decode_errors_total", "Stream messages dropped for shape mismatch.", &m.decodeErrors),
		counter("stream_reconnects_total", "Reconnect attempts after a connection failure.", &m.reconnects),
		counter("queue_evictions_total", "Queued events overwritten by newer ones.", &m.queueEvictions),
		counter("store_rejected_total", "Ticker updates rejected by the store.", &m.updatesRejected),
		counter("cache_writes_total", "Successful cache file writes.", &m.cacheWrites),
		counter("cache_write_errors_total", "Failed cache file writes.", &m.cacheWriteErrors),
		counter("rest_polls_total", "REST fallback polls.", &m.restPolls),
		counter("rest_errors_total", "Failed REST fallback polls.", &m.restErrors),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "market_cache",
			Name:      "stream_active_connections",
			Help:      "Currently open stream connections.",
		}, func() float64 { return float64(m.activeConnections.Load()) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// MetricsHandler serves the registry in the Prometheus text format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
