package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/cache"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/config"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/depth"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/preview"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/signer"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// purgeInterval is how often expired cache entries are dropped.
var purgeInterval = cache.BlockTTL

// Runner is the service runner
// Responsible for orchestrating and starting all components
type Runner struct {
	cfg         *config.Config
	logger      *slog.Logger
	rpc         *chain.RPCReader
	registry    *market.Registry
	cache       *cache.Cache
	service     *preview.Service
	server      *ws.Server
	depthPusher *depth.Pusher
}

// New creates a service runner
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		logger: logger,
	}

	// 1. Markets
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	r.registry = reg
	for _, id := range reg.IDs() {
		m, _ := reg.Get(id)
		logger.Info("Registered market",
			"market", id,
			"chainId", m.ChainID,
			"controller", m.Controller.Hex(),
			"leverage", m.HasLeverage(),
			"deleverage", m.HasDeleverage())
	}

	// 2. Chain reader
	r.rpc, err = chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.RPCConfig(), logger)
	if err != nil {
		return nil, market.Upstream("dial", err)
	}
	var reader chain.Reader = r.rpc
	if !cfg.Chain.BatchingEnabled() {
		reader = chain.NewSequentialReader(r.rpc, cfg.Chain.Concurrency)
	}
	logger.Info("Chain reader initialized",
		"batching", cfg.Chain.BatchingEnabled(),
		"maxBatchSize", cfg.Chain.MaxBatchSize,
		"requestsPerSecond", cfg.Chain.RequestsPerSecond)

	// 3. Optional attestation signer
	var attester preview.Attester
	if cfg.Signer.Enabled() {
		dm := cfg.DomainManager()
		for _, chainID := range dm.ChainIDs() {
			logger.Info("Registered EIP-712 domain",
				"chainId", chainID,
				"verifyingContract", dm.Domain(chainID).VerifyingContract.Hex())
		}
		s, err := signer.NewSignerFromConfig(cfg.Signer.Config, dm)
		if err != nil {
			r.rpc.Close()
			return nil, fmt.Errorf("failed to create signer: %w", err)
		}
		attester = signer.NewAttester(s, cfg.Server.AttestationTTL, nil)
		logger.Info("Signer initialized", "address", s.Address().Hex())
	}

	// 4. Preview service, one cache shared by every market
	r.cache = cache.New(nil)
	r.service = preview.NewService(reg, reader, r.cache, attester, logger)

	// 5. Depth provider reuses each market's oracle so snapshots share the price cache
	var provider depth.Provider
	chainProvider := depth.NewChainProvider(reader, cfg.Depth.Window)
	if cfg.Depth.Enabled {
		for _, id := range reg.IDs() {
			e, err := r.service.Engines(id)
			if err != nil {
				r.rpc.Close()
				return nil, err
			}
			chainProvider.AddMarket(e.Config, e.Oracle)
		}
		provider = chainProvider
	}

	// 6. Websocket server
	r.server = ws.NewServer(&ws.Config{
		ListenAddr:        cfg.Server.ListenAddr,
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}, r.service, provider, logger)

	// 7. Depth pusher
	r.depthPusher = depth.NewPusher(chainProvider, r.server, chainProvider.Markets(), cfg.Depth, logger)

	return r, nil
}

// Service returns the preview service.
func (r *Runner) Service() *preview.Service { return r.service }

// Run runs the service
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Starting preview service",
		"app", r.cfg.App.Name,
		"listen", r.cfg.Server.ListenAddr,
		"markets", r.registry.Len())

	// Create cancellable context
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Listen for system signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// Start websocket server
	if err := r.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	// Start depth pusher
	if err := r.depthPusher.Start(ctx); err != nil {
		_ = r.Shutdown()
		return fmt.Errorf("failed to start depth pusher: %w", err)
	}

	// Drop expired cache entries that are never read again
	purgeDone := make(chan struct{})
	go func() {
		defer close(purgeDone)
		r.cache.PurgeEvery(ctx, purgeInterval)
	}()
	defer func() {
		cancel()
		<-purgeDone
	}()

	r.logger.Info("Preview service started successfully")

	// Wait for signal or context cancellation
	select {
	case sig := <-sigCh:
		r.logger.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
		r.logger.Info("Context cancelled, shutting down")
	}

	// Graceful shutdown
	return r.Shutdown()
}

// Shutdown gracefully shuts down the service
func (r *Runner) Shutdown() error {
	r.logger.Info("Shutting down preview service...")

	// Stop depth pusher
	if r.depthPusher != nil {
		if err := r.depthPusher.Stop(); err != nil {
			r.logger.Error("Failed to stop depth pusher", "error", err)
		}
	}

	// Close sessions and listener
	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.server.Stop(ctx); err != nil {
			r.logger.Error("Failed to stop server", "error", err)
		}
	}

	// Close JSON-RPC client
	if r.rpc != nil {
		r.rpc.Close()
	}

	r.logger.Info("Preview service stopped")
	return nil
}

// Close releases the chain client without starting anything. Used by one-shot commands.
func (r *Runner) Close() {
	if r.rpc != nil {
		r.rpc.Close()
	}
}
