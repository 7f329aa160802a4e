package market

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Registry is the read-only set of markets known to the engine.
type Registry struct {
	markets map[string]Config
	ids     []string
}

// NewRegistry validates and freezes the given markets.
func NewRegistry(markets ...Config) (*Registry, error) {
	r := &Registry{markets: make(map[string]Config, len(markets))}
	for i := range markets {
		m := markets[i]
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.markets[m.ID]; dup {
			return nil, Configf("duplicate market id %q", m.ID)
		}
		r.markets[m.ID] = m
		r.ids = append(r.ids, m.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Get returns the market with the given id.
func (r *Registry) Get(id string) (Config, bool) {
	m, ok := r.markets[id]
	return m, ok
}

// Lookup is Get with a validation error for unknown ids.
func (r *Registry) Lookup(id string) (Config, error) {
	m, ok := r.markets[id]
	if !ok {
		return Config{}, Validationf("unknown market %q", id)
	}
	return m, nil
}

// IDs returns all market ids, sorted.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Len returns the number of markets.
func (r *Registry) Len() int {
	return len(r.ids)
}

// ByCollateral finds the market that takes token as collateral on chainID, or on
// any chain when chainID is zero. The native-coin sentinel resolves to each
// chain's wrapped native token.
func (r *Registry) ByCollateral(chainID uint64, token common.Address) (Config, bool) {
	for _, id := range r.ids {
		m := r.markets[id]
		if chainID != 0 && m.ChainID != chainID {
			continue
		}
		want := token
		if IsNativeAsset(token) {
			wrapped, ok := WrappedToken(m.ChainID)
			if !ok {
				continue
			}
			want = wrapped
		}
		if m.Collateral == want {
			return m, true
		}
	}
	return Config{}, false
}

// Resolve finds a market by id, or by collateral token when id is empty.
func (r *Registry) Resolve(id string, chainID uint64, token common.Address) (Config, error) {
	if id != "" {
		return r.Lookup(id)
	}
	if token == (common.Address{}) {
		return Config{}, Validationf("market or collateral token is required")
	}
	m, ok := r.ByCollateral(chainID, token)
	if !ok {
		return Config{}, Validationf("no market takes %s as collateral", token.Hex())
	}
	return m, nil
}
