// Package impact estimates slippage by comparing a trade's rate against a small probe trade.
package impact

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/route"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/units"
)

// Coin indexes inside the AMM.
const (
	StablecoinIndex = 0
	CollateralIndex = 1
)

const (
	impactPlaces = 6
	ratioPlaces  = 40
)

var (
	hundred     = decimal.NewFromInt(100)
	probeTarget = decimal.New(1, 15)
	maxProbe    = decimal.RequireFromString("0.2")

	// LeverageProbe is the stablecoin size of the leverage reference trade.
	LeverageProbe = decimal.NewFromInt(100)
	// DeleverageProbe is the collateral size of the deleverage reference trade.
	DeleverageProbe = decimal.RequireFromString("0.001")
)

// Estimator reads swap quotes for one market.
type Estimator struct {
	market     market.Config
	reader     chain.Reader
	amm        contracts.AMM
	leverage   contracts.LeverageZap
	deleverage contracts.DeleverageZap
	logger     *slog.Logger
}

// NewEstimator creates an estimator.
func NewEstimator(m market.Config, reader chain.Reader, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		market:     m,
		reader:     reader,
		amm:        contracts.AMM{Address: m.AMM},
		leverage:   contracts.LeverageZap{Address: m.LeverageZap},
		deleverage: contracts.DeleverageZap{Address: m.DeleverageZap},
		logger:     logger.With("component", "PriceImpactEstimator", "market", m.ID),
	}
}

func (e *Estimator) decimals(coin int) int32 {
	if coin == StablecoinIndex {
		return market.StablecoinDecimals
	}
	return e.market.CollateralDecimals
}

func checkPair(i, j int) error {
	if (i == StablecoinIndex && j == CollateralIndex) || (i == CollateralIndex && j == StablecoinIndex) {
		return nil
	}
	return market.Validationf("invalid coin pair (%d, %d)", i, j)
}

// SwapExpected returns the output of swapping amount of coin i for coin j.
func (e *Estimator) SwapExpected(ctx context.Context, i, j int, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkPair(i, j); err != nil {
		return decimal.Zero, err
	}
	raw, err := units.ToRaw(amount, e.decimals(i))
	if err != nil {
		return decimal.Zero, err
	}
	out, err := e.getDy(ctx, i, j, raw)
	if err != nil {
		return decimal.Zero, err
	}
	return units.FromRaw(out, e.decimals(j)), nil
}

func (e *Estimator) getDy(ctx context.Context, i, j int, amount *big.Int) (*big.Int, error) {
	out, err := e.reader.Read(ctx, e.amm.GetDy(i, j, amount))
	if err != nil {
		return nil, market.Upstream(contracts.MethodGetDy, err)
	}
	dy, err := contracts.BigInt(out)
	if err != nil {
		return nil, fmt.Errorf("decode get_dy: %w", err)
	}
	return dy, nil
}

// MaxSwappable returns the most coin i the AMM can take in exchange for coin j.
// When the AMM cannot fill any output the answer is zero.
func (e *Estimator) MaxSwappable(ctx context.Context, i, j int) (decimal.Decimal, error) {
	if err := checkPair(i, j); err != nil {
		return decimal.Zero, err
	}
	out, err := e.reader.Read(ctx, e.amm.GetDxDy(i, j, contracts.MaxUint256))
	if err != nil {
		return decimal.Zero, market.Upstream(contracts.MethodGetDxDy, err)
	}
	dx, dy, err := contracts.BigIntPair(out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode get_dxdy: %w", err)
	}
	if dy.Sign() == 0 {
		return decimal.Zero, nil
	}
	return units.FromRaw(dx, e.decimals(i)), nil
}

// ProbeSize picks the probe input in raw units: scaled so either leg lands near 10^15,
// at most 20% of the trade and at most one whole coin. A zero output leaves the cap.
func ProbeSize(amount, output *big.Int, inDecimals int32) *big.Int {
	x := decimal.NewFromBigInt(amount, 0)
	k := maxProbe
	if output.Sign() > 0 {
		y := decimal.NewFromBigInt(output, 0)
		k = decimal.Min(decimal.Max(probeTarget.DivRound(x, ratioPlaces), probeTarget.DivRound(y, ratioPlaces)), maxProbe)
	}
	probe := decimal.Min(x.Mul(k), decimal.New(1, inDecimals))
	return probe.Truncate(0).BigInt()
}

// Impact is (1 - rate/probeRate) * 100 rounded to six places, never negative.
// A probe that returned nothing has no rate to compare against and yields zero.
func Impact(in, out, probeIn, probeOut decimal.Decimal) decimal.Decimal {
	if probeOut.IsZero() || probeIn.IsZero() || in.IsZero() {
		return decimal.Zero
	}
	rate := out.Div(in)
	probeRate := probeOut.Div(probeIn)
	pct := decimal.NewFromInt(1).Sub(rate.Div(probeRate)).Mul(hundred).Round(impactPlaces)
	if pct.IsNegative() {
		return decimal.Zero
	}
	return pct
}

// EstimatePriceImpact returns the percentage slippage of swapping amount of coin i for coin j.
func (e *Estimator) EstimatePriceImpact(ctx context.Context, i, j int, amount decimal.Decimal) (decimal.Decimal, error) {
	// 1. Validate
	if err := checkPair(i, j); err != nil {
		return decimal.Zero, err
	}
	inDec, outDec := e.decimals(i), e.decimals(j)
	amountRaw, err := units.ToRaw(amount, inDec)
	if err != nil {
		return decimal.Zero, err
	}
	if amountRaw.Sign() == 0 {
		return decimal.Zero, nil
	}

	// 2. Quote the trade and size the probe
	outRaw, err := e.getDy(ctx, i, j, amountRaw)
	if err != nil {
		return decimal.Zero, err
	}
	probeRaw := ProbeSize(amountRaw, outRaw, inDec)
	if probeRaw.Sign() == 0 {
		return decimal.Zero, nil
	}

	// 3. Quote the probe
	probeOutRaw, err := e.getDy(ctx, i, j, probeRaw)
	if err != nil {
		return decimal.Zero, err
	}

	pct := Impact(
		units.FromRaw(amountRaw, inDec), units.FromRaw(outRaw, outDec),
		units.FromRaw(probeRaw, inDec), units.FromRaw(probeOutRaw, outDec),
	)
	e.logger.Debug("price impact", "i", i, "j", j, "amount", amount, "probe", probeRaw, "impact", pct)
	return pct, nil
}

// LeveragePriceImpact compares swapping debt through the chosen route against the
// fixed stablecoin probe on the same route, reading both legs in one batch.
func (e *Estimator) LeveragePriceImpact(ctx context.Context, debt decimal.Decimal, choice route.Choice) (decimal.Decimal, error) {
	if !e.market.HasLeverage() {
		return decimal.Zero, market.Unavailablef("market %s has no leverage routes", e.market.ID)
	}
	debtRaw, err := units.Stablecoin(debt)
	if err != nil {
		return decimal.Zero, err
	}
	if debtRaw.Sign() == 0 {
		return decimal.Zero, nil
	}
	probeRaw, err := units.Stablecoin(LeverageProbe)
	if err != nil {
		return decimal.Zero, err
	}

	calls := []chain.Call{
		e.leverage.GetCollateral(debtRaw, choice.Index),
		e.leverage.GetCollateral(probeRaw, choice.Index),
	}
	outs, err := e.readPair(ctx, calls)
	if err != nil {
		return decimal.Zero, err
	}
	return Impact(
		debt, units.FromRaw(outs[0], e.market.CollateralDecimals),
		LeverageProbe, units.FromRaw(outs[1], e.market.CollateralDecimals),
	), nil
}

// DeleveragePriceImpact mirrors LeveragePriceImpact on the collateral to stablecoin leg.
func (e *Estimator) DeleveragePriceImpact(ctx context.Context, collateral decimal.Decimal, choice route.Choice) (decimal.Decimal, error) {
	if !e.market.HasDeleverage() {
		return decimal.Zero, market.Unavailablef("market %s has no deleverage routes", e.market.ID)
	}
	collRaw, err := units.ToRaw(collateral, e.market.CollateralDecimals)
	if err != nil {
		return decimal.Zero, err
	}
	if collRaw.Sign() == 0 {
		return decimal.Zero, nil
	}
	probeRaw, err := units.ToRaw(DeleverageProbe, e.market.CollateralDecimals)
	if err != nil {
		return decimal.Zero, err
	}
	if probeRaw.Sign() == 0 {
		return decimal.Zero, nil
	}

	calls := []chain.Call{
		e.deleverage.GetStablecoins(collRaw, choice.Index),
		e.deleverage.GetStablecoins(probeRaw, choice.Index),
	}
	outs, err := e.readPair(ctx, calls)
	if err != nil {
		return decimal.Zero, err
	}
	return Impact(
		units.FromRaw(collRaw, e.market.CollateralDecimals), units.FromStablecoin(outs[0]),
		units.FromRaw(probeRaw, e.market.CollateralDecimals), units.FromStablecoin(outs[1]),
	), nil
}

func (e *Estimator) readPair(ctx context.Context, calls []chain.Call) ([2]*big.Int, error) {
	var outs [2]*big.Int
	results, err := e.reader.ReadBatch(ctx, calls)
	if err != nil {
		return outs, market.Upstream(chain.BatchOp(calls), err)
	}
	for i := range outs {
		v, err := contracts.BigInt(results[i])
		if err != nil {
			return outs, fmt.Errorf("decode %s: %w", calls[i].Method, err)
		}
		outs[i] = v
	}
	return outs, nil
}
