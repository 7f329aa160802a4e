package bands

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/cache"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/units"
)

// Snapshot is the AMM's block-varying price state.
type Snapshot struct {
	BasePrice   decimal.Decimal
	OraclePrice decimal.Decimal
	AMMPrice    decimal.Decimal
	ActiveBand  int
}

// Oracle reads the AMM's price state and builds band models from it.
type Oracle struct {
	market market.Config
	reader chain.Reader
	cache  *cache.Cache
	amm    contracts.AMM
}

// NewOracle creates an oracle for m.
func NewOracle(m market.Config, reader chain.Reader, c *cache.Cache) *Oracle {
	return &Oracle{
		market: m,
		reader: reader,
		cache:  c,
		amm:    contracts.AMM{Address: m.AMM},
	}
}

// BasePrice returns the configured base price, or get_base_price cached for one block window.
func (o *Oracle) BasePrice(ctx context.Context) (decimal.Decimal, error) {
	if !o.market.BasePrice.IsZero() {
		return o.market.BasePrice, nil
	}
	return cache.Memo(ctx, o.cache, cache.BlockTTL, o.market.ID+".basePrice", func(ctx context.Context) (decimal.Decimal, error) {
		out, err := o.reader.Read(ctx, o.amm.GetBasePrice())
		if err != nil {
			return decimal.Zero, market.Upstream(contracts.MethodGetBasePrice, err)
		}
		raw, err := contracts.BigInt(out)
		if err != nil {
			return decimal.Zero, market.Upstream(contracts.MethodGetBasePrice, err)
		}
		return units.FromRaw(raw, 18), nil
	})
}

// Model returns the band model anchored at the current base price.
func (o *Oracle) Model(ctx context.Context) (*Model, error) {
	base, err := o.BasePrice(ctx)
	if err != nil {
		return nil, err
	}
	return NewModel(o.market.A, base)
}

// Snapshot reads oracle price, AMM price and active band in one batch.
func (o *Oracle) Snapshot(ctx context.Context) (Snapshot, error) {
	return cache.Memo(ctx, o.cache, cache.BlockTTL, o.market.ID+".snapshot", func(ctx context.Context) (Snapshot, error) {
		base, err := o.BasePrice(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		calls := []chain.Call{o.amm.PriceOracle(), o.amm.GetP(), o.amm.ActiveBand()}
		results, err := o.reader.ReadBatch(ctx, calls)
		if err != nil {
			return Snapshot{}, market.Upstream(chain.BatchOp(calls), err)
		}

		oracle, err := contracts.BigInt(results[0])
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode price_oracle: %w", err)
		}
		p, err := contracts.BigInt(results[1])
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode get_p: %w", err)
		}
		active, err := contracts.Int(results[2])
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode active_band: %w", err)
		}
		return Snapshot{
			BasePrice:   base,
			OraclePrice: units.FromRaw(oracle, 18),
			AMMPrice:    units.FromRaw(p, 18),
			ActiveBand:  active,
		}, nil
	})
}
