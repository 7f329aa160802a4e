package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// HeartbeatConfig heartbeat configuration
type HeartbeatConfig struct {
	Interval    time.Duration // Ping interval
	ReadTimeout time.Duration // Sessions silent for longer are closed
}

// Heartbeat pings one session and closes it when the client goes silent
type Heartbeat struct {
	session         *Session
	config          *HeartbeatConfig
	logger          *slog.Logger
	lastReceived    atomic.Int64 // Last message received time (Unix nanoseconds)
	timeoutDetected atomic.Bool  // Timeout detection flag (avoid duplicate logs)
}

// NewHeartbeat creates a heartbeat manager
func NewHeartbeat(session *Session, config *HeartbeatConfig, logger *slog.Logger) *Heartbeat {
	if config == nil {
		config = &HeartbeatConfig{
			Interval:    30 * time.Second,
			ReadTimeout: 90 * time.Second,
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Heartbeat{
		session: session,
		config:  config,
		logger:  logger,
	}
	h.lastReceived.Store(time.Now().UnixNano())
	return h
}

// Start starts heartbeat detection
func (h *Heartbeat) Start(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	h.logger.Debug("Heartbeat started",
		"interval", h.config.Interval,
		"timeout", h.config.ReadTimeout)

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("Heartbeat stopped")
			return
		case <-ticker.C:
			if !h.check() {
				return
			}
		}
	}
}

// check pings the session, or closes it on timeout. It returns false once the session is closed.
func (h *Heartbeat) check() bool {
	elapsed := time.Since(h.LastReceivedTime())

	if elapsed > h.config.ReadTimeout {
		if !h.timeoutDetected.Swap(true) {
			h.logger.Warn("Heartbeat timeout detected, closing session",
				"elapsed", elapsed,
				"timeout", h.config.ReadTimeout)
		}
		h.session.Close()
		return false
	}

	// Reset timeout detection flag
	h.timeoutDetected.Store(false)

	if err := h.session.Send(&Frame{Type: TypePing}); err != nil {
		h.logger.Error("Failed to send heartbeat ping", "error", err)
	}
	return true
}

// OnMessageReceived called when message is received, updates last received time
func (h *Heartbeat) OnMessageReceived() {
	h.lastReceived.Store(time.Now().UnixNano())
}

// LastReceivedTime gets the last message received time
func (h *Heartbeat) LastReceivedTime() time.Time {
	return time.Unix(0, h.lastReceived.Load())
}
