package depth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/bands"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/units"
)

// Provider supplies band liquidity for a market.
type Provider interface {
	GetDepth(ctx context.Context, marketID string) (*Snapshot, error)
}

// Snapshot is the AMM's liquidity around the active band.
//
// Bands are ordered by index, so prices descend through the slice.
// Stablecoin amounts are in stablecoin units, collateral amounts in collateral units.
type Snapshot struct {
	Market      string
	ActiveBand  int
	OraclePrice decimal.Decimal
	AMMPrice    decimal.Decimal
	BasePrice   decimal.Decimal
	Bands       []BandLiquidity
	Timestamp   time.Time
}

// BandLiquidity is the balance held in one band.
type BandLiquidity struct {
	N          int
	Down       decimal.Decimal // bottom price edge
	Up         decimal.Decimal // top price edge
	Stablecoin decimal.Decimal
	Collateral decimal.Decimal
}

// TotalStablecoin sums the stablecoin balance across bands.
func (s *Snapshot) TotalStablecoin() decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.Bands {
		total = total.Add(b.Stablecoin)
	}
	return total
}

// TotalCollateral sums the collateral balance across bands.
func (s *Snapshot) TotalCollateral() decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.Bands {
		total = total.Add(b.Collateral)
	}
	return total
}

type source struct {
	market market.Config
	oracle *bands.Oracle
	amm    contracts.AMM
}

// ChainProvider reads band balances from the AMM.
type ChainProvider struct {
	reader chain.Reader
	window int

	mu      sync.RWMutex
	markets map[string]source
}

// NewChainProvider creates a provider reading window bands on each side of the active band.
func NewChainProvider(reader chain.Reader, window int) *ChainProvider {
	if window < 0 {
		window = 0
	}
	return &ChainProvider{
		reader:  reader,
		window:  window,
		markets: make(map[string]source),
	}
}

// AddMarket registers m with the oracle already serving it.
func (p *ChainProvider) AddMarket(m market.Config, oracle *bands.Oracle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markets[m.ID] = source{market: m, oracle: oracle, amm: contracts.AMM{Address: m.AMM}}
}

// Markets returns the registered market ids, sorted.
func (p *ChainProvider) Markets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.markets))
	for id := range p.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetDepth reads the liquidity of the bands around the active band.
func (p *ChainProvider) GetDepth(ctx context.Context, marketID string) (*Snapshot, error) {
	p.mu.RLock()
	src, ok := p.markets[marketID]
	p.mu.RUnlock()
	if !ok {
		return nil, market.Validationf("unknown market %q", marketID)
	}

	// 1. Price state, shared with the preview engines through the cache
	snap, err := src.oracle.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	model, err := src.oracle.Model(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Bounds of the bands that hold liquidity
	lo, hi, err := p.bounds(ctx, src)
	if err != nil {
		return nil, err
	}
	lo = max(lo, snap.ActiveBand-p.window)
	hi = min(hi, snap.ActiveBand+p.window)

	out := &Snapshot{
		Market:      marketID,
		ActiveBand:  snap.ActiveBand,
		OraclePrice: snap.OraclePrice,
		AMMPrice:    snap.AMMPrice,
		BasePrice:   snap.BasePrice,
		Timestamp:   time.Now(),
	}
	if lo > hi {
		return out, nil
	}

	// 3. Balances, one batch
	calls := make([]chain.Call, 0, 2*(hi-lo+1))
	for n := lo; n <= hi; n++ {
		calls = append(calls, src.amm.BandsX(n), src.amm.BandsY(n))
	}
	results, err := p.reader.ReadBatch(ctx, calls)
	if err != nil {
		return nil, market.Upstream(chain.BatchOp(calls), err)
	}

	out.Bands = make([]BandLiquidity, 0, hi-lo+1)
	for i, n := 0, lo; n <= hi; i, n = i+2, n+1 {
		x, err := contracts.BigInt(results[i])
		if err != nil {
			return nil, fmt.Errorf("decode bands_x(%d): %w", n, err)
		}
		y, err := contracts.BigInt(results[i+1])
		if err != nil {
			return nil, fmt.Errorf("decode bands_y(%d): %w", n, err)
		}
		down, up := model.BandPrices(n)
		out.Bands = append(out.Bands, BandLiquidity{
			N:          n,
			Down:       down,
			Up:         up,
			Stablecoin: units.FromStablecoin(x),
			Collateral: units.FromRaw(y, src.market.CollateralDecimals),
		})
	}
	return out, nil
}

func (p *ChainProvider) bounds(ctx context.Context, src source) (int, int, error) {
	calls := []chain.Call{src.amm.MinBand(), src.amm.MaxBand()}
	results, err := p.reader.ReadBatch(ctx, calls)
	if err != nil {
		return 0, 0, market.Upstream(chain.BatchOp(calls), err)
	}
	lo, err := contracts.Int(results[0])
	if err != nil {
		return 0, 0, fmt.Errorf("decode min_band: %w", err)
	}
	hi, err := contracts.Int(results[1])
	if err != nil {
		return 0, 0, fmt.Errorf("decode max_band: %w", err)
	}
	return lo, hi, nil
}
