package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"
)

// Session is one connected websocket client.
type Session struct {
	id     string
	conn   *websocket.Conn
	config *Config
	logger *slog.Logger

	writeMu sync.Mutex // Protects write operation concurrency

	mu            sync.RWMutex
	subscriptions map[string]struct{}

	inflight *semaphore.Weighted
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   sync.Once

	heartbeat *Heartbeat
}

func newSession(ctx context.Context, conn *websocket.Conn, config *Config, logger *slog.Logger) *Session {
	s := &Session{
		id:            uuid.NewString(),
		conn:          conn,
		config:        config,
		subscriptions: make(map[string]struct{}),
		inflight:      semaphore.NewWeighted(int64(config.MaxInFlight)),
	}
	s.logger = logger.With("session", s.id)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.heartbeat = NewHeartbeat(s, &HeartbeatConfig{
		Interval:    config.HeartbeatInterval,
		ReadTimeout: config.ReadTimeout,
	}, s.logger)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Send writes one frame.
func (s *Session) Send(f *Frame) error {
	if f.Timestamp == 0 {
		f.Timestamp = time.Now().UnixMilli()
	}
	data, err := Encode(f)
	if err != nil {
		return err
	}

	// Lock to ensure write operation atomicity
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("session closed: %w", err)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	s.logger.Debug("Frame sent", "type", f.Type, "id", f.ID)
	return nil
}

// Close ends the session. Safe to call more than once.
func (s *Session) Close() {
	s.closed.Do(func() {
		s.cancel()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// Subscribe adds market to the depth subscriptions.
func (s *Session) Subscribe(market string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[market] = struct{}{}
}

// Unsubscribe removes market from the depth subscriptions.
func (s *Session) Unsubscribe(market string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, market)
}

// Subscribed reports whether the session receives depth for market.
func (s *Session) Subscribed(market string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscriptions[market]
	return ok
}
