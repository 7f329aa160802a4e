// Package stats reads market-wide figures: total debt and the AMM's pool balances.
package stats

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/cache"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/units"
)

// Stats is a market's aggregate state at one block.
type Stats struct {
	Market    string
	TotalDebt decimal.Decimal
	// Pool balances exclude admin fees. Null when the market has no
	// stablecoin or collateral token address configured.
	StablecoinBalance decimal.NullDecimal
	CollateralBalance decimal.NullDecimal
}

// Reader reads Stats for one market.
type Reader struct {
	market     market.Config
	reader     chain.Reader
	cache      *cache.Cache
	controller contracts.Controller
	amm        contracts.AMM
}

// NewReader creates a stats reader.
func NewReader(m market.Config, reader chain.Reader, c *cache.Cache) *Reader {
	return &Reader{
		market:     m,
		reader:     reader,
		cache:      c,
		controller: contracts.Controller{Address: m.Controller},
		amm:        contracts.AMM{Address: m.AMM},
	}
}

func (r *Reader) hasBalances() bool {
	return r.market.Stablecoin != (common.Address{}) && r.market.Collateral != (common.Address{})
}

// Read returns total debt and pool balances from one batch, cached for one block window.
func (r *Reader) Read(ctx context.Context) (Stats, error) {
	return cache.Memo(ctx, r.cache, cache.BlockTTL, r.market.ID+".stats", func(ctx context.Context) (Stats, error) {
		calls := []chain.Call{r.controller.TotalDebt()}
		if r.hasBalances() {
			calls = append(calls,
				contracts.Token{Address: r.market.Stablecoin}.BalanceOf(r.market.AMM),
				contracts.Token{Address: r.market.Collateral}.BalanceOf(r.market.AMM),
				r.amm.AdminFeesX(),
				r.amm.AdminFeesY(),
			)
		}
		results, err := r.reader.ReadBatch(ctx, calls)
		if err != nil {
			return Stats{}, market.Upstream(chain.BatchOp(calls), err)
		}

		raw := make([]*big.Int, len(results))
		for i, out := range results {
			v, err := contracts.BigInt(out)
			if err != nil {
				return Stats{}, fmt.Errorf("decode %s: %w", calls[i].Method, err)
			}
			raw[i] = v
		}

		s := Stats{Market: r.market.ID, TotalDebt: units.FromStablecoin(raw[0])}
		if r.hasBalances() {
			s.StablecoinBalance = decimal.NewNullDecimal(units.FromStablecoin(new(big.Int).Sub(raw[1], raw[3])))
			s.CollateralBalance = decimal.NewNullDecimal(units.FromRaw(new(big.Int).Sub(raw[2], raw[4]), r.market.CollateralDecimals))
		}
		return s, nil
	})
}
