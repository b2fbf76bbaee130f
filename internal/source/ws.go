package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/quantfold/dexmaker/internal/domain"
)

const (
	wsWriteWait = 10 * time.Second

	wsPongWait   = 30 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10

	wsReconnectDelay    = 2 * time.Second
	wsMaxReconnectDelay = 60 * time.Second
)

// StreamSource keeps a websocket subscription to a trade tick feed and
// serves the most recent tick from memory. Fetch never blocks on the
// network; a tick older than maxAge is treated as no data.
type StreamSource struct {
	name   string
	wsURL  string
	maxAge time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// writeMu serializes frame writes; the ping loop and subscribe calls
	// would otherwise write to the conn concurrently.
	writeMu sync.Mutex

	subscribed []string

	tickMu sync.RWMutex
	ticks  map[string]tick

	done chan struct{}
}

type tick struct {
	price decimal.Decimal
	at    time.Time
}

var _ domain.PriceSource = (*StreamSource)(nil)

// NewStreamSource creates a StreamSource. maxAge bounds how stale a cached
// tick may be before Fetch reports no data.
func NewStreamSource(name, wsURL string, maxAge time.Duration, logger *slog.Logger) *StreamSource {
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return &StreamSource{
		name:   name,
		wsURL:  wsURL,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "source"), slog.String("source", name)),
		ticks:  make(map[string]tick),
		done:   make(chan struct{}),
	}
}

// Name implements domain.PriceSource.
func (s *StreamSource) Name() string { return s.name }

// Fetch implements domain.PriceSource from the tick cache.
func (s *StreamSource) Fetch(ctx context.Context, pair domain.Pair) (decimal.Decimal, bool, error) {
	symbol := pair.String()

	s.tickMu.RLock()
	t, ok := s.ticks[symbol]
	s.tickMu.RUnlock()

	if !ok || time.Since(t.at) > s.maxAge {
		// Lazily subscribe so the next cycle has data.
		if err := s.Subscribe(ctx, []string{symbol}); err != nil {
			return decimal.Zero, false, fmt.Errorf("source %s: %w", s.name, err)
		}
		return decimal.Zero, false, nil
	}
	return t.price, true, nil
}

// Connect establishes the websocket connection and starts the read and ping
// loops.
func (s *StreamSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("source %s: client is closed", s.name)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("source %s: connect: %w", s.name, err)
	}
	s.conn = conn

	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go s.readLoop()
	go s.pingLoop()

	if len(s.subscribed) > 0 {
		if err := s.sendSubscribe(s.subscribed); err != nil {
			return fmt.Errorf("source %s: restore subscriptions: %w", s.name, err)
		}
	}
	return nil
}

// Subscribe subscribes to tick updates for the given symbols.
func (s *StreamSource) Subscribe(_ context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}

	fresh := make([]string, 0, len(symbols))
	known := make(map[string]struct{}, len(s.subscribed))
	for _, sym := range s.subscribed {
		known[sym] = struct{}{}
	}
	for _, sym := range symbols {
		if _, ok := known[sym]; !ok {
			fresh = append(fresh, sym)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := s.sendSubscribe(fresh); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.subscribed = append(s.subscribed, fresh...)
	return nil
}

// Close shuts down the connection.
func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.write(s.conn,
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// write sends one frame under the write lock with a bounded deadline.
func (s *StreamSource) write(conn *websocket.Conn, messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(messageType, data)
}

// sendSubscribe sends a subscribe command. Caller must hold s.mu.
func (s *StreamSource) sendSubscribe(symbols []string) error {
	cmd := struct {
		Op      string   `json:"op"`
		Channel string   `json:"channel"`
		Symbols []string `json:"symbols"`
	}{
		Op:      "subscribe",
		Channel: "ticker",
		Symbols: symbols,
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	return s.write(s.conn, websocket.TextMessage, data)
}

// readLoop reads messages and updates the tick cache. On disconnect it
// attempts reconnection with exponential backoff.
func (s *StreamSource) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Warn("read failed, reconnecting", slog.String("error", err.Error()))
			s.reconnect()
			return
		}
		s.handleMessage(message)
	}
}

// pingLoop keeps the connection alive.
func (s *StreamSource) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one tick frame and caches it. Malformed or
// non-positive ticks are dropped.
func (s *StreamSource) handleMessage(raw []byte) {
	var msg struct {
		Type   string      `json:"type"`
		Symbol string      `json:"symbol"`
		Price  json.Number `json:"price"`
		TS     int64       `json:"ts"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "ticker" {
		return
	}
	price, err := decimal.NewFromString(msg.Price.String())
	if err != nil || !price.IsPositive() {
		return
	}
	at := time.Now()
	if msg.TS > 0 {
		at = time.UnixMilli(msg.TS)
	}

	s.tickMu.Lock()
	s.ticks[msg.Symbol] = tick{price: price, at: at}
	s.tickMu.Unlock()
}

// reconnect re-establishes the connection with exponential backoff.
func (s *StreamSource) reconnect() {
	delay := wsReconnectDelay
	for {
		select {
		case <-s.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			s.logger.Info("reconnected")
			return
		}

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}
