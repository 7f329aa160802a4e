// Package health asks the controller what a position's health would become.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/units"
)

var hundred = decimal.NewFromInt(100)

// Projection carries both health figures for the same inputs.
// Full counts price appreciation above the top band; NotFull does not.
type Projection struct {
	Full    decimal.Decimal
	NotFull decimal.Decimal
}

// Projector delegates health math to the controller's health_calculator.
type Projector struct {
	market     market.Config
	reader     chain.Reader
	controller contracts.Controller
	logger     *slog.Logger
}

// NewProjector creates a projector for one market.
func NewProjector(m market.Config, reader chain.Reader, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		market:     m,
		reader:     reader,
		controller: contracts.Controller{Address: m.Controller},
		logger:     logger.With("component", "HealthProjector", "market", m.ID),
	}
}

// Deltas converts human-unit signed deltas to raw integers.
func (p *Projector) Deltas(dCollateral, dDebt decimal.Decimal) (*big.Int, *big.Int, error) {
	dc, err := units.ToRawSigned(dCollateral, p.market.CollateralDecimals)
	if err != nil {
		return nil, nil, err
	}
	dd, err := units.ToRawSigned(dDebt, market.StablecoinDecimals)
	if err != nil {
		return nil, nil, err
	}
	return dc, dd, nil
}

// ProjectHealth returns the health percentage after applying the deltas.
// Use the zero address for a loan that does not exist yet.
func (p *Projector) ProjectHealth(ctx context.Context, user common.Address, dCollateral, dDebt decimal.Decimal, n int, full bool) (decimal.Decimal, error) {
	dc, dd, err := p.Deltas(dCollateral, dDebt)
	if err != nil {
		return decimal.Zero, err
	}
	return p.ProjectHealthRaw(ctx, user, dc, dd, n, full)
}

// ProjectHealthRaw is ProjectHealth with raw deltas.
func (p *Projector) ProjectHealthRaw(ctx context.Context, user common.Address, dCollateral, dDebt *big.Int, n int, full bool) (decimal.Decimal, error) {
	out, err := p.reader.Read(ctx, p.controller.HealthCalculator(user, dCollateral, dDebt, full, n))
	if err != nil {
		return decimal.Zero, market.Upstream(contracts.MethodHealthCalculator, err)
	}
	return toPercent(out)
}

// ProjectBoth reads both health modes in one batch.
func (p *Projector) ProjectBoth(ctx context.Context, user common.Address, dCollateral, dDebt *big.Int, n int) (Projection, error) {
	calls := []chain.Call{
		p.controller.HealthCalculator(user, dCollateral, dDebt, true, n),
		p.controller.HealthCalculator(user, dCollateral, dDebt, false, n),
	}
	results, err := p.reader.ReadBatch(ctx, calls)
	if err != nil {
		return Projection{}, market.Upstream(chain.BatchOp(calls), err)
	}
	full, err := toPercent(results[0])
	if err != nil {
		return Projection{}, err
	}
	notFull, err := toPercent(results[1])
	if err != nil {
		return Projection{}, err
	}
	p.logger.Debug("health projected", "user", user.Hex(), "n", n, "full", full, "notFull", notFull)
	return Projection{Full: full, NotFull: notFull}, nil
}

// CurrentHealth reads the health of an existing position.
func (p *Projector) CurrentHealth(ctx context.Context, user common.Address, full bool) (decimal.Decimal, error) {
	out, err := p.reader.Read(ctx, p.controller.Health(user, full))
	if err != nil {
		return decimal.Zero, market.Upstream(contracts.MethodHealth, err)
	}
	return toPercent(out)
}

func toPercent(out []any) (decimal.Decimal, error) {
	raw, err := contracts.BigInt(out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode health: %w", err)
	}
	return units.FromRaw(raw, 18).Mul(hundred), nil
}
