package depth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/config"
)

// Broadcaster delivers snapshots to the sessions subscribed to a market.
type Broadcaster interface {
	// Subscribers returns the number of sessions subscribed to market.
	Subscribers(market string) int
	// BroadcastDepth sends snap to every subscriber and returns how many received it.
	BroadcastDepth(market string, snap *Snapshot) int
}

// Pusher is the depth data pusher
// Periodically reads band liquidity and pushes it to subscribed sessions
type Pusher struct {
	provider    Provider
	broadcaster Broadcaster
	markets     []string
	cfg         config.DepthConfig
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPusher creates a new depth pusher
func NewPusher(
	provider Provider,
	broadcaster Broadcaster,
	markets []string,
	cfg config.DepthConfig,
	logger *slog.Logger,
) *Pusher {
	return &Pusher{
		provider:    provider,
		broadcaster: broadcaster,
		markets:     markets,
		cfg:         cfg,
		logger:      logger.With("component", "DepthPusher"),
	}
}

// Start starts the pusher
func (p *Pusher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	if p.cfg.Enabled {
		if p.cfg.PushInterval <= 0 {
			return fmt.Errorf("depth push interval must be positive, got %s", p.cfg.PushInterval)
		}
		p.wg.Add(1)
		go p.pushLoop()
	}

	p.logger.Info("Depth pusher started", "enabled", p.cfg.Enabled, "markets", len(p.markets))
	return nil
}

// Stop stops the pusher
func (p *Pusher) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("Depth pusher stopped")
	return nil
}

// pushLoop is the periodic push loop
func (p *Pusher) pushLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PushAll(p.ctx)
		}
	}
}

// PushAll pushes a snapshot for every market that has subscribers.
func (p *Pusher) PushAll(ctx context.Context) {
	for _, id := range p.markets {
		// Only read the chain for markets someone is watching
		if p.broadcaster.Subscribers(id) == 0 {
			continue
		}
		if err := p.Push(ctx, id); err != nil {
			p.logger.Error("Failed to push depth snapshot",
				"market", id,
				"error", err)
		}
	}
}

// Push reads and broadcasts one market's snapshot.
func (p *Pusher) Push(ctx context.Context, market string) error {
	snap, err := p.provider.GetDepth(ctx, market)
	if err != nil {
		return fmt.Errorf("failed to get depth: %w", err)
	}

	sent := p.broadcaster.BroadcastDepth(market, snap)

	p.logger.Debug("Depth snapshot sent",
		"market", market,
		"activeBand", snap.ActiveBand,
		"bands", len(snap.Bands),
		"sessions", sent)
	return nil
}
