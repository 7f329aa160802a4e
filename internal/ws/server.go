package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/depth"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/metrics"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/preview"
)

// Config websocket server configuration
type Config struct {
	ListenAddr        string        // HTTP listen address
	HeartbeatInterval time.Duration // Server ping interval
	ReadTimeout       time.Duration // Sessions silent for longer are closed
	WriteTimeout      time.Duration // Write timeout
	MaxInFlight       int           // Concurrent requests per session
	RequestTimeout    time.Duration // Upper bound on one preview
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":8080",
		HeartbeatInterval: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxInFlight:       8,
		RequestTimeout:    30 * time.Second,
	}
}

// Server serves previews over websocket sessions.
type Server struct {
	config   *Config
	service  *preview.Service
	depth    depth.Provider
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	http   *http.Server
}

// NewServer creates a server. provider may be nil, which disables depth subscriptions.
func NewServer(config *Config, service *preview.Service, provider depth.Provider, logger *slog.Logger) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = defaults.MaxInFlight
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:   config,
		service:  service,
		depth:    provider,
		logger:   logger.With("component", "WSServer"),
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Handler returns the HTTP routes: /ws, /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "ok %d sessions\n", s.SessionCount())
	})
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", "error", err)
		}
	}()

	s.logger.Info("Preview server listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes every session and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()
	for _, sess := range sessions {
		sess.Close()
	}

	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.wg.Wait()
	s.logger.Info("Preview server stopped")
	return err
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Subscribers returns the number of sessions subscribed to market's depth.
func (s *Server) Subscribers(market string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Subscribed(market) {
			n++
		}
	}
	return n
}

// BroadcastDepth sends snap to every subscribed session.
func (s *Server) BroadcastDepth(market string, snap *depth.Snapshot) int {
	s.mu.RLock()
	targets := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Subscribed(market) {
			targets = append(targets, sess)
		}
	}
	s.mu.RUnlock()

	sent := 0
	for _, sess := range targets {
		if err := sess.Send(depthFrame(market, snap)); err != nil {
			sess.logger.Warn("Failed to send depth", "market", market, "error", err)
			continue
		}
		sent++
	}
	return sent
}

func depthFrame(market string, snap *depth.Snapshot) *Frame {
	return &Frame{
		Type:      TypeDepth,
		Market:    market,
		Result:    depthResult(snap),
		Timestamp: snap.Timestamp.UnixMilli(),
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := newSession(s.ctx, conn, s.config, s.logger)
	s.register(sess)
	defer s.unregister(sess)

	sess.logger.Info("Session opened", "remote", r.RemoteAddr)

	// Start heartbeat
	sess.wg.Add(1)
	go sess.heartbeat.Start(sess.ctx, &sess.wg)

	s.readLoop(sess)

	sess.Close()
	sess.wg.Wait()
	sess.logger.Info("Session closed")
}

func (s *Server) register(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()
}

func (s *Server) unregister(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	metrics.ActiveSessions.Dec()
}

// readLoop message reading loop
func (s *Server) readLoop(sess *Session) {
	for {
		if sess.ctx.Err() != nil {
			return
		}

		// Set read timeout
		if err := sess.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			sess.logger.Error("Failed to set read deadline", "error", err)
			return
		}

		wsMsgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Debug("WebSocket closed by client")
			} else if sess.ctx.Err() == nil {
				sess.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		// Update heartbeat time
		sess.heartbeat.OnMessageReceived()

		// Only handle binary messages
		if wsMsgType != websocket.BinaryMessage {
			sess.logger.Warn("Received non-binary message", "type", wsMsgType)
			continue
		}

		req, err := Decode(data)
		if err != nil {
			sess.logger.Warn("Failed to decode frame", "error", err)
			_ = sess.Send(errorFrame("", "", codeInvalidRequest, err.Error()))
			continue
		}
		sess.logger.Debug("Frame received", "type", req.Type, "id", req.ID)

		switch req.Type {
		case TypePong:
			continue
		case TypePing:
			_ = sess.Send(&Frame{Type: TypePong, ID: req.ID})
			continue
		}

		if err := sess.inflight.Acquire(sess.ctx, 1); err != nil {
			return
		}
		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			defer sess.inflight.Release(1)
			resp := s.handle(sess, req)
			if err := sess.Send(resp); err != nil {
				sess.logger.Warn("Failed to send response", "id", req.ID, "error", err)
				return
			}
			// A new subscriber gets the current snapshot without waiting for the next tick
			if req.Type == TypeSubscribeDepth && resp.Type == TypeResult {
				s.pushDepth(sess, resp.Market)
			}
		}()
	}
}
