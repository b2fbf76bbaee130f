package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsHarness runs a websocket endpoint that hands the server side of each
// connection to the test and counts incoming data frames.
type wsHarness struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	frames atomic.Int64
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	h := &wsHarness{conns: make(chan *websocket.Conn, 4)}
	up := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			h.frames.Add(1)
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func newStream(t *testing.T, h *wsHarness, maxAge time.Duration) *StreamSource {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewStreamSource("stream", h.url(), maxAge, logger)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStreamSource_ServesCachedTick(t *testing.T) {
	h := newWSHarness(t)
	s := newStream(t, h, time.Minute)

	server := <-h.conns
	require.NoError(t, server.WriteJSON(map[string]any{
		"type":   "ticker",
		"symbol": testPair.String(),
		"price":  10.5,
		"ts":     time.Now().UnixMilli(),
	}))

	assert.Eventually(t, func() bool {
		price, ok, err := s.Fetch(context.Background(), testPair)
		if err != nil || !ok {
			return false
		}
		f, _ := price.Float64()
		return f == 10.5
	}, time.Second, 10*time.Millisecond)
}

func TestStreamSource_StaleTickIsNoData(t *testing.T) {
	h := newWSHarness(t)
	s := newStream(t, h, time.Second)

	old := time.Now().Add(-time.Minute).UnixMilli()
	s.handleMessage([]byte(fmt.Sprintf(
		`{"type":"ticker","symbol":"TOKEN/USDC","price":10.5,"ts":%d}`, old,
	)))

	_, ok, err := s.Fetch(context.Background(), testPair)
	require.NoError(t, err)
	assert.False(t, ok)

	// The miss queued a subscription so the next cycle has data.
	assert.Eventually(t, func() bool {
		return h.frames.Load() >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestStreamSource_DropsMalformedTicks(t *testing.T) {
	h := newWSHarness(t)
	s := newStream(t, h, time.Minute)

	s.handleMessage([]byte(`{"type":"ticker","symbol":"TOKEN/USDC","price":-1,"ts":0}`))
	s.handleMessage([]byte(`not json`))
	s.handleMessage([]byte(`{"type":"book","symbol":"TOKEN/USDC","price":10,"ts":0}`))

	s.tickMu.RLock()
	defer s.tickMu.RUnlock()
	assert.Empty(t, s.ticks)
}

func TestStreamSource_ConcurrentPingAndSubscribe(t *testing.T) {
	h := newWSHarness(t)
	s := newStream(t, h, time.Minute)

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	// Keepalive pings and subscribe frames race on the same conn; the
	// write lock must serialize them.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = s.Subscribe(context.Background(), []string{fmt.Sprintf("SYM%d/USDC", i)})
		}
	}()
	wg.Wait()

	assert.Eventually(t, func() bool {
		return h.frames.Load() >= 50
	}, time.Second, 10*time.Millisecond)
}
