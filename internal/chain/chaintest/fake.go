// Package chaintest provides an in-memory chain.Reader that counts calls.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
)

// Handler answers one call.
type Handler func(call chain.Call) ([]any, error)

// FakeReader dispatches calls to handlers by contract address and method.
type FakeReader struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []chain.Call
	reads    int
	batches  int
}

// New creates an empty fake.
func New() *FakeReader {
	return &FakeReader{handlers: make(map[string]Handler)}
}

// Handle registers h for method on any address.
func (f *FakeReader) Handle(method string, h Handler) *FakeReader {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
	return f
}

// HandleAt registers h for method on one address; it takes precedence over Handle.
func (f *FakeReader) HandleAt(to common.Address, method string, h Handler) *FakeReader {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[to.Hex()+":"+method] = h
	return f
}

func (f *FakeReader) dispatch(call chain.Call) ([]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	h, ok := f.handlers[call.To.Hex()+":"+call.Method]
	if !ok {
		h, ok = f.handlers[call.Method]
	}
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("chaintest: no handler for %s", call.String())
	}
	return h(call)
}

func (f *FakeReader) Read(ctx context.Context, call chain.Call) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	return f.dispatch(call)
}

func (f *FakeReader) ReadBatch(ctx context.Context, calls []chain.Call) ([][]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()

	results := make([][]any, len(calls))
	for i, call := range calls {
		out, err := f.dispatch(call)
		if err != nil {
			return nil, err
		}
		results[i] = out
	}
	return results, nil
}

// Reads returns the number of single reads.
func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Batches returns the number of batched reads.
func (f *FakeReader) Batches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

// RemoteReads is Reads plus Batches: the number of round trips.
func (f *FakeReader) RemoteReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads + f.batches
}

// Count returns how many calls, batched or not, targeted method.
func (f *FakeReader) Count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Calls returns a copy of every call seen.
func (f *FakeReader) Calls() []chain.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chain.Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Reset clears the counters and call log, keeping handlers.
func (f *FakeReader) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.reads = 0
	f.batches = 0
}

// Returns answers every call with the same outputs.
func Returns(out ...any) Handler {
	return func(chain.Call) ([]any, error) { return out, nil }
}

// Fails answers every call with err.
func Fails(err error) Handler {
	return func(chain.Call) ([]any, error) { return nil, err }
}

// Arg returns call argument i as *big.Int.
func Arg(call chain.Call, i int) *big.Int {
	v, _ := call.Args[i].(*big.Int)
	return v
}

// ArgInt returns call argument i as int.
func ArgInt(call chain.Call, i int) int {
	return int(Arg(call, i).Int64())
}

// Big parses a base-10 integer, panicking on bad input.
func Big(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("chaintest: bad integer " + s)
	}
	return v
}

// E18 returns v * 10^18.
func E18(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}
