// Package chain performs read-only contract calls against a JSON-RPC node.
package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call is one view-function invocation.
type Call struct {
	To     common.Address
	ABI    *abi.ABI
	Method string
	Args   []any
}

// Pack ABI-encodes the call data.
func (c Call) Pack() ([]byte, error) {
	if c.ABI == nil {
		return nil, fmt.Errorf("call %s: no ABI", c.Method)
	}
	data, err := c.ABI.Pack(c.Method, c.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", c.Method, err)
	}
	return data, nil
}

// Unpack decodes return data into the method's outputs.
func (c Call) Unpack(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s on %s returned no data", c.Method, c.To.Hex())
	}
	out, err := c.ABI.Unpack(c.Method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", c.Method, err)
	}
	return out, nil
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = fmt.Sprint(a)
	}
	return fmt.Sprintf("%s.%s(%s)", c.To.Hex(), c.Method, strings.Join(args, ","))
}

// SingleReader issues one read at a time.
type SingleReader interface {
	Read(ctx context.Context, call Call) ([]any, error)
}

// Reader is the read capability every engine component consumes.
// ReadBatch returns one result per call in order, or an error if any call failed.
type Reader interface {
	SingleReader
	ReadBatch(ctx context.Context, calls []Call) ([][]any, error)
}

// BatchOp names a batch for logs and errors, e.g. "batch(max_borrowable x47)".
func BatchOp(calls []Call) string {
	if len(calls) == 0 {
		return "batch()"
	}
	seen := make(map[string]int)
	var order []string
	for _, c := range calls {
		if _, ok := seen[c.Method]; !ok {
			order = append(order, c.Method)
		}
		seen[c.Method]++
	}
	parts := make([]string, len(order))
	for i, m := range order {
		parts[i] = fmt.Sprintf("%s x%d", m, seen[m])
	}
	return "batch(" + strings.Join(parts, ", ") + ")"
}
