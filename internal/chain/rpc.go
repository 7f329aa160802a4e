package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/metrics"
)

// RPCConfig tunes the JSON-RPC reader.
type RPCConfig struct {
	MaxBatchSize      int           // calls per JSON-RPC batch request
	RequestsPerSecond float64       // 0 = unlimited
	Burst             int           // limiter burst
	CallTimeout       time.Duration // per request; 0 = caller's deadline only
	BlockTag          string        // "latest" unless set
}

// DefaultRPCConfig returns default configuration
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		MaxBatchSize: 100,
		Burst:        10,
		CallTimeout:  15 * time.Second,
		BlockTag:     "latest",
	}
}

// RPCReader issues eth_call requests, batching them with JSON-RPC batch requests.
type RPCReader struct {
	client  *rpc.Client
	cfg     RPCConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

type callMsg struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// Dial connects to an HTTP or websocket JSON-RPC endpoint.
func Dial(ctx context.Context, url string, cfg RPCConfig, logger *slog.Logger) (*RPCReader, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", url, err)
	}
	return NewRPCReader(client, cfg, logger), nil
}

// NewRPCReader wraps an existing client.
func NewRPCReader(client *rpc.Client, cfg RPCConfig, logger *slog.Logger) *RPCReader {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.BlockTag == "" {
		cfg.BlockTag = "latest"
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RPCReader{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "RPCReader"),
	}
}

// Close closes the underlying client.
func (r *RPCReader) Close() {
	r.client.Close()
}

// Read performs one eth_call.
func (r *RPCReader) Read(ctx context.Context, call Call) ([]any, error) {
	data, err := call.Pack()
	if err != nil {
		return nil, err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	metrics.UpstreamCalls.WithLabelValues(call.Method, "single").Inc()
	var raw hexutil.Bytes
	if err := r.client.CallContext(ctx, &raw, "eth_call", callMsg{To: call.To, Data: data}, r.cfg.BlockTag); err != nil {
		metrics.UpstreamFailures.WithLabelValues("single").Inc()
		r.logger.Debug("eth_call failed", "call", call.String(), "error", err)
		return nil, err
	}
	return call.Unpack(raw)
}

// ReadBatch sends the calls as JSON-RPC batches of at most MaxBatchSize.
// Any failed element fails the whole batch.
func (r *RPCReader) ReadBatch(ctx context.Context, calls []Call) ([][]any, error) {
	results := make([][]any, len(calls))
	if len(calls) == 0 {
		return results, nil
	}
	metrics.BatchSize.Observe(float64(len(calls)))

	for start := 0; start < len(calls); start += r.cfg.MaxBatchSize {
		end := min(start+r.cfg.MaxBatchSize, len(calls))
		if err := r.readChunk(ctx, calls[start:end], results[start:end]); err != nil {
			metrics.UpstreamFailures.WithLabelValues("batch").Inc()
			return nil, err
		}
	}
	return results, nil
}

func (r *RPCReader) readChunk(ctx context.Context, calls []Call, results [][]any) error {
	raws := make([]hexutil.Bytes, len(calls))
	elems := make([]rpc.BatchElem, len(calls))
	for i, call := range calls {
		data, err := call.Pack()
		if err != nil {
			return err
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []any{callMsg{To: call.To, Data: data}, r.cfg.BlockTag},
			Result: &raws[i],
		}
		metrics.UpstreamCalls.WithLabelValues(call.Method, "batch").Inc()
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.BatchCallContext(ctx, elems); err != nil {
		return err
	}
	for i, elem := range elems {
		if elem.Error != nil {
			r.logger.Debug("batched eth_call failed", "call", calls[i].String(), "error", elem.Error)
			return elem.Error
		}
		out, err := calls[i].Unpack(raws[i])
		if err != nil {
			return err
		}
		results[i] = out
	}
	return nil
}

func (r *RPCReader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.cfg.CallTimeout)
}
