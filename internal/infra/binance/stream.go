package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"market_cache/internal/domain"
	"market_cache/internal/infra"

	"github.com/gorilla/websocket"
)

// Options configures a Stream. Zero values fall back to package defaults.
type Options struct {
	URL            string // base URL, e.g. wss://stream.binance.com:9443
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	QueueSize      int
	Metrics        *infra.Metrics
	Logger         *slog.Logger
}

// Stream maintains one combined-stream WebSocket connection, decodes every
// frame into typed events and reconnects until Stop is called.
type Stream struct {
	opts     Options
	listener Listener
	queues   *Queues
	metrics  *infra.Metrics
	logger   *slog.Logger

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex
	state   atomic.Int32

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// subMu guards streams and active; lock order is subMu -> writeMu -> mu.
	subMu   sync.Mutex
	streams []string
	active  map[string]bool // names live on the current connection

	requestID    atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewStream creates an idle stream. A nil listener is replaced by NopListener.
func NewStream(opts Options, listener Listener) *Stream {
	if opts.URL == "" {
		opts.URL = DefaultWSURL
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaultPongTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if listener == nil {
		listener = NopListener{}
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Stream{
		opts:     opts,
		listener: listener,
		queues:   newQueues(opts.QueueSize),
		metrics:  metrics,
		logger:   logger.With("module", "binance_stream"),
		active:   make(map[string]bool),
	}
}

// Start opens the connection in the background. Calling Start on a running
// stream is a no-op; use Subscribe to add streams.
func (s *Stream) Start(ctx context.Context, streams []string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return nil
	}

	s.subMu.Lock()
	s.addStreams(streams)
	empty := len(s.streams) == 0
	s.subMu.Unlock()
	if empty {
		return errors.New("binance stream: no streams to subscribe")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.connectionLoop(ctx)
	return nil
}

// Subscribe adds streams to the session. On a live connection a SUBSCRIBE
// frame is sent immediately; otherwise the names join the next connect.
func (s *Stream) Subscribe(streams []string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	added := s.addStreams(streams)
	if len(added) == 0 {
		return nil
	}

	s.mu.RLock()
	live := s.conn != nil
	s.mu.RUnlock()
	if !live {
		return nil
	}

	if err := s.sendSubscribe(added); err != nil {
		s.logger.Warn("Subscribe frame failed, deferring to next connect",
			slog.Any("streams", added),
			slog.Any("error", err),
		)
	}
	return nil
}

// Stop closes the connection and waits for background goroutines. It is safe to call repeatedly.
func (s *Stream) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.closeConnection()
	s.wg.Wait()
	s.running = false
	s.setState(StateDisconnected)
	s.logger.Info("Binance stream stopped")
}

// State returns the current connection state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Queues exposes the bounded per-type event queues.
func (s *Stream) Queues() *Queues {
	return s.queues
}

// DecodeErrors returns the number of frames dropped for shape mismatch.
func (s *Stream) DecodeErrors() uint64 {
	return s.decodeErrors.Load()
}

// Streams returns the subscribed stream names in subscription order.
func (s *Stream) Streams() []string {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return append([]string(nil), s.streams...)
}

func (s *Stream) setState(st State) {
	s.state.Store(int32(st))
}

// addStreams must be called with subMu held. It returns the names not seen before.
func (s *Stream) addStreams(streams []string) []string {
	var added []string
	for _, name := range streams {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || containsStream(s.streams, name) {
			continue
		}
		s.streams = append(s.streams, name)
		added = append(added, name)
	}
	return added
}

func containsStream(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// connectionLoop handles connection and reconnection
func (s *Stream) connectionLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Binance stream connection failed", slog.Any("error", err))
		} else {
			s.readLoop(ctx, conn)
		}

		if ctx.Err() != nil {
			return
		}

		s.metrics.RecordReconnect()
		s.setState(StateReconnectWait)
		delay := s.reconnectDelay()
		s.logger.Info("Binance stream reconnecting", slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// reconnectDelay adds up to 20% jitter to the configured delay.
func (s *Stream) reconnectDelay() time.Duration {
	base := s.opts.ReconnectDelay
	jitter := int64(base) / reconnectJitterRatio
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(jitter))
}

func (s *Stream) connectURL(names []string) string {
	return strings.TrimRight(s.opts.URL, "/") + "/stream?streams=" + strings.Join(names, "/")
}

// connect dials with the current stream list and installs keepalive handlers.
func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	s.subMu.Lock()
	names := append([]string(nil), s.streams...)
	s.subMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := make(http.Header)
	header.Add("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, s.connectURL(names), header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	pongTimeout := s.opts.PongTimeout
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.metrics.IncrementConnections()

	// Stop may have run while dialing.
	if ctx.Err() != nil {
		s.closeConnection()
		return nil, ctx.Err()
	}

	s.active = make(map[string]bool, len(names))
	for _, n := range names {
		s.active[n] = true
	}

	// Names added while dialing are not in the URL.
	var missing []string
	for _, n := range s.streams {
		if !s.active[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		if err := s.sendSubscribe(missing); err != nil {
			s.closeConnection()
			return nil, fmt.Errorf("subscribe failed: %w", err)
		}
	}

	s.setState(StateConnected)
	s.logger.Info("Binance stream connected", slog.Int("streams", len(s.streams)))
	return conn, nil
}

// sendSubscribe must be called with subMu held.
func (s *Stream) sendSubscribe(names []string) error {
	req := subscribeRequest{
		Method: "SUBSCRIBE",
		Params: names,
		ID:     s.requestID.Add(1),
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := s.threadSafeWrite(websocket.TextMessage, b); err != nil {
		return err
	}
	for _, n := range names {
		s.active[n] = true
	}
	return nil
}

func (s *Stream) threadSafeWrite(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return fmt.Errorf("no conn")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(msgType, data)
}

// pingLoop sends protocol pings until the connection's read loop exits.
func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	s.wg.Add(1)
	go s.pingLoop(ctx, conn, done)
	defer close(done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("Binance stream read failed", slog.Any("error", err))
			}
			s.closeConnection()
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		s.handleMessage(msg)
	}
}

func (s *Stream) handleMessage(msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Binance stream handler panic recovered", slog.Any("panic", r))
		}
	}()

	s.metrics.RecordMessage()

	v, err := decode(msg)
	if err != nil {
		s.decodeErrors.Add(1)
		s.metrics.RecordDecodeError()
		s.logger.Warn("Dropping malformed message", slog.Any("error", err))
		return
	}

	switch ev := v.(type) {
	case subscriptionAck:
		if ev.Error != "" {
			s.logger.Warn("Subscription rejected", slog.Int64("id", ev.ID), slog.String("error", ev.Error))
		}
	case domain.Trade:
		if s.queues.Trades.Push(ev) {
			s.metrics.RecordEviction()
		}
		s.listener.OnTrade(ev)
	case domain.TickerEvent:
		if s.queues.Tickers.Push(ev) {
			s.metrics.RecordEviction()
		}
		s.listener.OnTicker(ev)
	case domain.Bar:
		if s.queues.Bars.Push(ev) {
			s.metrics.RecordEviction()
		}
		s.listener.OnBar(ev)
	case domain.OrderBookDelta:
		if s.queues.Depth.Push(ev) {
			s.metrics.RecordEviction()
		}
		s.listener.OnDepth(ev)
	}
}

func (s *Stream) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.metrics.DecrementConnections()
	}
}
