// Package quote previews the band range a single loan action would produce.
package quote

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/bands"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/position"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/units"
)

// Engine computes single-size band quotes. The controller's calculate_debt_n1 is
// the only source of band placement.
type Engine struct {
	market     market.Config
	reader     chain.Reader
	oracle     *bands.Oracle
	positions  *position.Reader
	controller contracts.Controller
	logger     *slog.Logger
}

// NewEngine creates a quote engine for one market.
func NewEngine(m market.Config, reader chain.Reader, oracle *bands.Oracle, positions *position.Reader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		market:     m,
		reader:     reader,
		oracle:     oracle,
		positions:  positions,
		controller: contracts.Controller{Address: m.Controller},
		logger:     logger.With("component", "QuoteEngine", "market", m.ID),
	}
}

// Market returns the engine's market.
func (e *Engine) Market() market.Config { return e.market }

// CheckRange rejects band counts outside [MinBands, MaxBands].
func (e *Engine) CheckRange(n int) error {
	return CheckRange(e.market, n)
}

// CheckRange is Engine.CheckRange for callers without an engine.
func CheckRange(m market.Config, n int) error {
	if n < m.MinBands {
		return market.Validationf("number of bands must be >= %d, got %d", m.MinBands, n)
	}
	if n > m.MaxBands {
		return market.Validationf("number of bands must be <= %d, got %d", m.MaxBands, n)
	}
	return nil
}

// CalcN1 asks the controller where a loan of the given raw size would start.
func (e *Engine) CalcN1(ctx context.Context, collateral, debt *big.Int, n int) (int, error) {
	out, err := e.reader.Read(ctx, e.controller.CalculateDebtN1(collateral, debt, n))
	if err != nil {
		return 0, market.Upstream(contracts.MethodCalculateDebtN1, err)
	}
	n1, err := contracts.Int(out)
	if err != nil {
		return 0, market.Upstream(contracts.MethodCalculateDebtN1, err)
	}
	return n1, nil
}

// Quote prices the range of n bands starting at n1.
func (e *Engine) Quote(ctx context.Context, n1, n int) (SizingQuote, error) {
	model, err := e.oracle.Model(ctx)
	if err != nil {
		return SizingQuote{}, err
	}
	return QuoteRange(model, n1, n), nil
}

// QuoteRange prices a band range with an already built model.
func QuoteRange(model *bands.Model, n1, n int) SizingQuote {
	r := NewBandRange(n1, n)
	up, down := model.RangePrices(r.N1, r.N2)
	return SizingQuote{
		Bands:  r,
		Prices: Prices{Up: up, Down: down},
	}
}

// QuoteCreateLoan previews a new loan. A zero user skips the existing-loan check.
func (e *Engine) QuoteCreateLoan(ctx context.Context, user common.Address, collateral, debt decimal.Decimal, n int) (SizingQuote, error) {
	// 1. Validate before touching the chain
	if err := e.CheckRange(n); err != nil {
		return SizingQuote{}, err
	}
	collateralRaw, debtRaw, err := e.amounts(collateral, debt)
	if err != nil {
		return SizingQuote{}, err
	}
	if collateralRaw.Sign() == 0 || debtRaw.Sign() == 0 {
		return SizingQuote{}, market.Validationf("collateral and debt must be positive")
	}

	// 2. A user can hold one loan per market
	if user != (common.Address{}) {
		exists, err := e.positions.LoanExists(ctx, user)
		if err != nil {
			return SizingQuote{}, err
		}
		if exists {
			return SizingQuote{}, market.Preconditionf("loan for %s already exists", user.Hex())
		}
	}

	// 3. Band placement from the controller
	n1, err := e.CalcN1(ctx, collateralRaw, debtRaw, n)
	if err != nil {
		return SizingQuote{}, err
	}

	e.logger.Debug("create loan quoted", "collateral", collateral, "debt", debt, "n", n, "n1", n1)
	return e.Quote(ctx, n1, n)
}

// QuoteBorrowMore previews adding collateral and debt to an existing loan.
func (e *Engine) QuoteBorrowMore(ctx context.Context, user common.Address, dCollateral, dDebt decimal.Decimal) (SizingQuote, error) {
	return e.quoteAdjusted(ctx, "borrow more", user, dCollateral, dDebt, false)
}

// QuoteAddCollateral previews adding collateral to an existing loan.
func (e *Engine) QuoteAddCollateral(ctx context.Context, user common.Address, dCollateral decimal.Decimal) (SizingQuote, error) {
	return e.quoteAdjusted(ctx, "add collateral", user, dCollateral, decimal.Zero, false)
}

// QuoteRemoveCollateral previews withdrawing collateral from an existing loan.
func (e *Engine) QuoteRemoveCollateral(ctx context.Context, user common.Address, dCollateral decimal.Decimal) (SizingQuote, error) {
	return e.quoteAdjusted(ctx, "remove collateral", user, dCollateral, decimal.Zero, true)
}

func (e *Engine) quoteAdjusted(ctx context.Context, action string, user common.Address, dCollateral, dDebt decimal.Decimal, remove bool) (SizingQuote, error) {
	dCollRaw, dDebtRaw, err := e.amounts(dCollateral, dDebt)
	if err != nil {
		return SizingQuote{}, err
	}

	state, err := e.positions.Existing(ctx, user)
	if err != nil {
		return SizingQuote{}, err
	}
	if state.Phase() == position.InLiquidation {
		return SizingQuote{}, market.Preconditionf("cannot %s while the loan is in soft liquidation", action)
	}

	collateral := new(big.Int).Add(state.Collateral, dCollRaw)
	if remove {
		collateral.Sub(state.Collateral, dCollRaw)
		if collateral.Sign() <= 0 {
			return SizingQuote{}, market.Validationf("cannot remove %s, position holds %s",
				dCollateral, units.FromRaw(state.Collateral, e.market.CollateralDecimals))
		}
	}
	debt := new(big.Int).Add(state.Debt, dDebtRaw)

	n1, err := e.CalcN1(ctx, collateral, debt, state.N)
	if err != nil {
		return SizingQuote{}, err
	}
	return e.Quote(ctx, n1, state.N)
}

// QuoteRepay previews a partial repayment. While the loan is in soft liquidation the
// current n1 is kept as is.
func (e *Engine) QuoteRepay(ctx context.Context, user common.Address, dDebt decimal.Decimal) (SizingQuote, error) {
	dDebtRaw, err := units.Stablecoin(dDebt)
	if err != nil {
		return SizingQuote{}, err
	}

	state, err := e.positions.Existing(ctx, user)
	if err != nil {
		return SizingQuote{}, err
	}

	if state.Phase() == position.InLiquidation {
		return e.Quote(ctx, state.N1, state.N)
	}

	debt := new(big.Int).Sub(state.Debt, dDebtRaw)
	if debt.Sign() <= 0 {
		return SizingQuote{}, market.Validationf("repaying %s closes the loan, no band range remains", dDebt)
	}
	n1, err := e.CalcN1(ctx, state.Collateral, debt, state.N)
	if err != nil {
		return SizingQuote{}, err
	}
	return e.Quote(ctx, n1, state.N)
}

// CreateLoanMaxRecv returns the most a new loan of n bands can borrow.
func (e *Engine) CreateLoanMaxRecv(ctx context.Context, collateral decimal.Decimal, n int) (decimal.Decimal, error) {
	if err := e.CheckRange(n); err != nil {
		return decimal.Zero, err
	}
	collateralRaw, err := units.ToRaw(collateral, e.market.CollateralDecimals)
	if err != nil {
		return decimal.Zero, err
	}
	return e.maxBorrowable(ctx, collateralRaw, n)
}

// BorrowMoreMaxRecv returns how much more an existing loan can borrow after adding dCollateral.
func (e *Engine) BorrowMoreMaxRecv(ctx context.Context, user common.Address, dCollateral decimal.Decimal) (decimal.Decimal, error) {
	dCollRaw, err := units.ToRaw(dCollateral, e.market.CollateralDecimals)
	if err != nil {
		return decimal.Zero, err
	}
	state, err := e.positions.Existing(ctx, user)
	if err != nil {
		return decimal.Zero, err
	}
	total, err := e.maxBorrowable(ctx, new(big.Int).Add(state.Collateral, dCollRaw), state.N)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Max(total.Sub(units.FromStablecoin(state.Debt)), decimal.Zero), nil
}

// MaxRemovable returns the collateral a user can withdraw without changing debt.
func (e *Engine) MaxRemovable(ctx context.Context, user common.Address) (decimal.Decimal, error) {
	state, err := e.positions.Existing(ctx, user)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := e.reader.Read(ctx, e.controller.MinCollateral(state.Debt, state.N))
	if err != nil {
		return decimal.Zero, market.Upstream(contracts.MethodMinCollateral, err)
	}
	minRaw, err := contracts.BigInt(out)
	if err != nil {
		return decimal.Zero, market.Upstream(contracts.MethodMinCollateral, err)
	}
	free := new(big.Int).Sub(state.Collateral, minRaw)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	return units.FromRaw(free, e.market.CollateralDecimals), nil
}

func (e *Engine) maxBorrowable(ctx context.Context, collateral *big.Int, n int) (decimal.Decimal, error) {
	out, err := e.reader.Read(ctx, e.controller.MaxBorrowable(collateral, n))
	if err != nil {
		return decimal.Zero, market.Upstream(contracts.MethodMaxBorrowable, err)
	}
	raw, err := contracts.BigInt(out)
	if err != nil {
		return decimal.Zero, market.Upstream(contracts.MethodMaxBorrowable, err)
	}
	return units.FromStablecoin(raw), nil
}

func (e *Engine) amounts(collateral, debt decimal.Decimal) (*big.Int, *big.Int, error) {
	collateralRaw, err := units.ToRaw(collateral, e.market.CollateralDecimals)
	if err != nil {
		return nil, nil, err
	}
	debtRaw, err := units.Stablecoin(debt)
	if err != nil {
		return nil, nil, err
	}
	return collateralRaw, debtRaw, nil
}
