package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain/chaintest"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
)

var reverting = common.HexToAddress("0x000000000000000000000000000000000000dead")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// newNode answers eth_call with the last byte of the target address as a uint256.
func newNode(t *testing.T, batches *atomic.Int32) *httptest.Server {
	answer := func(req rpcRequest) rpcResponse {
		var msg struct {
			To   common.Address `json:"to"`
			Data hexutil.Bytes  `json:"data"`
		}
		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		if err := json.Unmarshal(req.Params[0], &msg); err != nil {
			resp.Error = &rpcError{Code: -32602, Message: err.Error()}
			return resp
		}
		if msg.To == reverting {
			resp.Error = &rpcError{Code: 3, Message: "execution reverted"}
			return resp
		}
		word := common.LeftPadBytes(big.NewInt(int64(msg.To[19])).Bytes(), 32)
		resp.Result = hexutil.Encode(word)
		return resp
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if len(raw) > 0 && raw[0] == '[' {
			batches.Add(1)
			var reqs []rpcRequest
			require.NoError(t, json.Unmarshal(raw, &reqs))
			resps := make([]rpcResponse, len(reqs))
			for i, req := range reqs {
				resps[i] = answer(req)
			}
			_ = json.NewEncoder(w).Encode(resps)
			return
		}
		var req rpcRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		_ = json.NewEncoder(w).Encode(answer(req))
	}))
}

func dial(t *testing.T, url string, batchSize int) *chain.RPCReader {
	cfg := chain.DefaultRPCConfig()
	cfg.MaxBatchSize = batchSize
	r, err := chain.Dial(context.Background(), url, cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func controllerAt(last byte) contracts.Controller {
	var addr common.Address
	addr[19] = last
	return contracts.Controller{Address: addr}
}

func TestRPCReader_Read(t *testing.T) {
	var batches atomic.Int32
	node := newNode(t, &batches)
	defer node.Close()

	r := dial(t, node.URL, 10)
	out, err := r.Read(context.Background(), controllerAt(7).MaxBorrowable(big.NewInt(1), 4))
	require.NoError(t, err)

	v, err := contracts.BigInt(out)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int64())
	assert.Equal(t, int32(0), batches.Load())
}

func TestRPCReader_ReadBatch(t *testing.T) {
	var batches atomic.Int32
	node := newNode(t, &batches)
	defer node.Close()

	r := dial(t, node.URL, 2)
	calls := make([]chain.Call, 5)
	for i := range calls {
		calls[i] = controllerAt(byte(i+1)).MaxBorrowable(big.NewInt(1), 4+i)
	}

	results, err := r.ReadBatch(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, out := range results {
		v, err := contracts.BigInt(out)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), v.Int64(), "result %d out of order", i)
	}
	// 5 calls in chunks of 2
	assert.Equal(t, int32(3), batches.Load())
}

func TestRPCReader_ReadBatch_PartialFailure(t *testing.T) {
	var batches atomic.Int32
	node := newNode(t, &batches)
	defer node.Close()

	r := dial(t, node.URL, 10)
	calls := []chain.Call{
		controllerAt(1).MaxBorrowable(big.NewInt(1), 4),
		contracts.Controller{Address: reverting}.MaxBorrowable(big.NewInt(1), 5),
		controllerAt(3).MaxBorrowable(big.NewInt(1), 6),
	}
	results, err := r.ReadBatch(context.Background(), calls)
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestRPCReader_ReadBatch_Empty(t *testing.T) {
	var batches atomic.Int32
	node := newNode(t, &batches)
	defer node.Close()

	results, err := dial(t, node.URL, 10).ReadBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(0), batches.Load())
}

func TestSequentialReader_MatchesBatch(t *testing.T) {
	fake := chaintest.New().Handle(contracts.MethodMaxBorrowable, func(call chain.Call) ([]any, error) {
		n := chaintest.ArgInt(call, 1)
		return []any{big.NewInt(int64(n * 100))}, nil
	})

	calls := make([]chain.Call, 10)
	for i := range calls {
		calls[i] = controllerAt(1).MaxBorrowable(big.NewInt(1), 4+i)
	}

	batched, err := fake.ReadBatch(context.Background(), calls)
	require.NoError(t, err)

	for _, concurrency := range []int{0, 1, 4} {
		seq := chain.NewSequentialReader(fake, concurrency)
		got, err := seq.ReadBatch(context.Background(), calls)
		require.NoError(t, err)
		assert.Equal(t, batched, got, "concurrency %d", concurrency)
	}
}

func TestSequentialReader_Failure(t *testing.T) {
	boom := errors.New("node unavailable")
	fake := chaintest.New().Handle(contracts.MethodMaxBorrowable, func(call chain.Call) ([]any, error) {
		if chaintest.ArgInt(call, 1) == 6 {
			return nil, boom
		}
		return []any{big.NewInt(1)}, nil
	})
	calls := []chain.Call{
		controllerAt(1).MaxBorrowable(big.NewInt(1), 4),
		controllerAt(1).MaxBorrowable(big.NewInt(1), 5),
		controllerAt(1).MaxBorrowable(big.NewInt(1), 6),
		controllerAt(1).MaxBorrowable(big.NewInt(1), 7),
	}
	got, err := chain.NewSequentialReader(fake, 1).ReadBatch(context.Background(), calls)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, got)
	// strictly sequential: nothing after the failing call is read
	assert.Equal(t, 3, fake.Count(contracts.MethodMaxBorrowable))
}

func TestBatchOp(t *testing.T) {
	c := controllerAt(1)
	op := chain.BatchOp([]chain.Call{c.MaxBorrowable(big.NewInt(1), 4), c.MaxBorrowable(big.NewInt(1), 5), c.UserState(common.Address{})})
	assert.Equal(t, "batch(max_borrowable x2, user_state x1)", op)
}
