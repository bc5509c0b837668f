package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market_cache/internal/domain"
	"market_cache/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	tickerFrame = `{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","P":"1.5","c":"50000","b":"49999","a":"50001","o":"49000","h":"51000","l":"48000","v":"100","q":"5000000"}}`
	tradeFrame  = `{"stream":"btcusdt@trade","data":{"e":"trade","E":1700000000000,"s":"BTCUSDT","t":1,"p":"50000.5","q":"0.1","T":1700000000000,"m":false}}`
)

// fakeExchange is a minimal combined-stream server.
type fakeExchange struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	queries []string
	frames  []subscribeRequest

	conns atomic.Int32
	// onConn runs after upgrade; it owns the connection until it returns.
	onConn func(fx *fakeExchange, n int32, c *websocket.Conn)
}

func newFakeExchange(t *testing.T, onConn func(fx *fakeExchange, n int32, c *websocket.Conn)) *fakeExchange {
	t.Helper()
	fx := &fakeExchange{onConn: onConn}
	fx.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stream" {
			http.NotFound(w, r)
			return
		}
		c, err := fx.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		fx.mu.Lock()
		fx.queries = append(fx.queries, r.URL.Query().Get("streams"))
		fx.mu.Unlock()

		fx.onConn(fx, fx.conns.Add(1), c)
	}))
	t.Cleanup(fx.srv.Close)
	return fx
}

func (fx *fakeExchange) url() string {
	return "ws" + strings.TrimPrefix(fx.srv.URL, "http")
}

// readFrames records SUBSCRIBE frames until the connection fails.
func (fx *fakeExchange) readFrames(c *websocket.Conn) {
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if json.Unmarshal(msg, &req) == nil && req.Method != "" {
			fx.mu.Lock()
			fx.frames = append(fx.frames, req)
			fx.mu.Unlock()
		}
	}
}

func (fx *fakeExchange) snapshot() ([]string, []subscribeRequest) {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return append([]string(nil), fx.queries...), append([]subscribeRequest(nil), fx.frames...)
}

type recordingListener struct {
	NopListener
	mu      sync.Mutex
	trades  []domain.Trade
	tickers []domain.TickerEvent
}

func (l *recordingListener) OnTrade(tr domain.Trade) {
	l.mu.Lock()
	l.trades = append(l.trades, tr)
	l.mu.Unlock()
}

func (l *recordingListener) OnTicker(ev domain.TickerEvent) {
	l.mu.Lock()
	l.tickers = append(l.tickers, ev)
	l.mu.Unlock()
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.trades), len(l.tickers)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestStream(url string, l Listener) *Stream {
	return NewStream(Options{
		URL:            url,
		ReconnectDelay: 20 * time.Millisecond,
		PingInterval:   time.Second,
		PongTimeout:    5 * time.Second,
		QueueSize:      16,
		Metrics:        infra.NewMetrics(),
	}, l)
}

func TestStream_DeliversEventsAndCountsMalformed(t *testing.T) {
	fx := newFakeExchange(t, func(_ *fakeExchange, _ int32, c *websocket.Conn) {
		for _, frame := range []string{tickerFrame, `{"foo":1}`, tradeFrame, `not json`} {
			c.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		// Keep reading so control frames are answered until the client leaves.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	l := &recordingListener{}
	s := newTestStream(fx.url(), l)
	if err := s.Start(context.Background(), []string{"BTCUSDT@ticker", "btcusdt@trade"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		trades, tickers := l.counts()
		return trades == 1 && tickers == 1 && s.DecodeErrors() == 2
	})

	if s.State() != StateConnected {
		t.Errorf("Expected CONNECTED, got %s", s.State())
	}
	if got := s.Queues().Tickers.Len(); got != 1 {
		t.Errorf("Expected 1 queued ticker, got %d", got)
	}
	tr, ok := s.Queues().Trades.Pop()
	if !ok || tr.Pair != "BTCUSDT" {
		t.Errorf("Unexpected queued trade: %+v", tr)
	}

	queries, _ := fx.snapshot()
	if len(queries) == 0 || queries[0] != "btcusdt@ticker/btcusdt@trade" {
		t.Errorf("Unexpected streams query: %v", queries)
	}
	if snap := s.metrics.Snapshot(); snap.DecodeErrors != 2 || snap.MessagesReceived != 4 {
		t.Errorf("Unexpected metrics: %+v", snap)
	}
}

func TestStream_StartValidation(t *testing.T) {
	s := NewStream(Options{}, nil)
	if err := s.Start(context.Background(), nil); err == nil {
		t.Error("Expected error when starting without streams")
	}
	if s.State() != StateDisconnected {
		t.Errorf("Expected DISCONNECTED, got %s", s.State())
	}
	s.Stop()
}

func TestStream_StartIsIdempotent(t *testing.T) {
	fx := newFakeExchange(t, func(_ *fakeExchange, _ int32, c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	s := newTestStream(fx.url(), nil)
	ctx := context.Background()
	if err := s.Start(ctx, []string{"btcusdt@ticker"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()
	waitFor(t, 2*time.Second, func() bool { return s.State() == StateConnected })

	if err := s.Start(ctx, []string{"ethusdt@trade"}); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := fx.conns.Load(); n != 1 {
		t.Errorf("Expected a single connection, got %d", n)
	}
	if got := s.Streams(); len(got) != 1 || got[0] != "btcusdt@ticker" {
		t.Errorf("Second Start must not add streams, got %v", got)
	}
}

func TestStream_SubscribeSendsFrame(t *testing.T) {
	fx := newFakeExchange(t, func(fx *fakeExchange, _ int32, c *websocket.Conn) {
		fx.readFrames(c)
	})

	s := newTestStream(fx.url(), nil)
	if err := s.Start(context.Background(), []string{"btcusdt@ticker"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()
	waitFor(t, 2*time.Second, func() bool { return s.State() == StateConnected })

	if err := s.Subscribe([]string{"ETHUSDT@trade", "btcusdt@ticker"}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, frames := fx.snapshot()
		return len(frames) == 1
	})

	_, frames := fx.snapshot()
	if frames[0].Method != "SUBSCRIBE" || len(frames[0].Params) != 1 || frames[0].Params[0] != "ethusdt@trade" {
		t.Errorf("Unexpected subscribe frame: %+v", frames[0])
	}

	// Already subscribed names produce no frame.
	if err := s.Subscribe([]string{"ethusdt@trade"}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, frames := fx.snapshot(); len(frames) != 1 {
		t.Errorf("Expected no extra frame, got %d frames", len(frames))
	}

	got := s.Streams()
	if len(got) != 2 || got[1] != "ethusdt@trade" {
		t.Errorf("Unexpected stream list: %v", got)
	}
}

func TestStream_ReconnectsAfterServerClose(t *testing.T) {
	fx := newFakeExchange(t, func(fx *fakeExchange, n int32, c *websocket.Conn) {
		if n == 1 {
			return // drop the first connection right away
		}
		c.WriteMessage(websocket.TextMessage, []byte(tickerFrame))
		fx.readFrames(c)
	})

	l := &recordingListener{}
	s := newTestStream(fx.url(), l)
	if err := s.Start(context.Background(), []string{"btcusdt@ticker"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, 3*time.Second, func() bool {
		_, tickers := l.counts()
		return tickers == 1 && fx.conns.Load() >= 2
	})

	if s.metrics.Snapshot().Reconnects < 1 {
		t.Error("Expected at least one reconnect")
	}
	queries, _ := fx.snapshot()
	for _, q := range queries {
		if q != "btcusdt@ticker" {
			t.Errorf("Reconnect must resubscribe the same streams, got %q", q)
		}
	}
}

func TestStream_PongTimeoutTriggersReconnect(t *testing.T) {
	release := make(chan struct{})
	fx := newFakeExchange(t, func(_ *fakeExchange, _ int32, c *websocket.Conn) {
		// Never read: pings go unanswered.
		<-release
	})
	t.Cleanup(func() { close(release) })

	s := NewStream(Options{
		URL:            fx.url(),
		ReconnectDelay: 20 * time.Millisecond,
		PingInterval:   30 * time.Millisecond,
		PongTimeout:    150 * time.Millisecond,
	}, nil)
	if err := s.Start(context.Background(), []string{"btcusdt@ticker"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, 3*time.Second, func() bool { return fx.conns.Load() >= 2 })
}

func TestStream_StopIsIdempotent(t *testing.T) {
	fx := newFakeExchange(t, func(_ *fakeExchange, _ int32, c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	s := newTestStream(fx.url(), nil)
	if err := s.Start(context.Background(), []string{"btcusdt@ticker"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.State() == StateConnected })

	s.Stop()
	s.Stop()
	if s.State() != StateDisconnected {
		t.Errorf("Expected DISCONNECTED after Stop, got %s", s.State())
	}
	if n := s.metrics.Snapshot().ActiveConnections; n != 0 {
		t.Errorf("Expected no active connections, got %d", n)
	}
}

func TestStream_ConnectionFailureKeepsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := newTestStream("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err := s.Start(context.Background(), []string{"btcusdt@ticker"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return s.metrics.Snapshot().Reconnects >= 2 })
	if st := s.State(); st == StateConnected || st == StateDisconnected {
		t.Errorf("Unexpected state while failing: %s", st)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnectWait, "RECONNECT_WAIT"},
		{State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
