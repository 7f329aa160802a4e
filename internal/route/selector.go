// Package route picks the best of the fixed leverage and deleverage swap routes and
// threads that choice through every dependent read.
package route

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/bands"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/cache"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/health"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/position"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/quote"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/units"
)

// Output is one route slot's estimate.
type Output struct {
	Value     decimal.Decimal
	Available bool
}

// Candidate holds an estimate per route slot.
type Candidate [market.RouteCount]Output

// Choice identifies the route a preview committed to.
type Choice struct {
	Index int
	Name  string
}

// Selection is a choice together with the estimates it was chosen from.
type Selection struct {
	Choice  Choice
	Outputs Candidate
}

// Chosen returns the chosen route's estimate.
func (s Selection) Chosen() decimal.Decimal {
	return s.Outputs[s.Choice.Index].Value
}

// BestIndex returns the first available slot with the largest value.
func BestIndex(outputs Candidate) (int, bool) {
	best := -1
	for i, o := range outputs {
		if !o.Available {
			continue
		}
		if best < 0 || o.Value.GreaterThan(outputs[best].Value) {
			best = i
		}
	}
	return best, best >= 0
}

// Selector evaluates the routes of one market.
type Selector struct {
	market     market.Config
	reader     chain.Reader
	cache      *cache.Cache
	oracle     *bands.Oracle
	positions  *position.Reader
	health     *health.Projector
	leverage   contracts.LeverageZap
	deleverage contracts.DeleverageZap
	logger     *slog.Logger
}

// NewSelector creates a route selector.
func NewSelector(m market.Config, reader chain.Reader, c *cache.Cache, oracle *bands.Oracle, positions *position.Reader, hp *health.Projector, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		market:     m,
		reader:     reader,
		cache:      c,
		oracle:     oracle,
		positions:  positions,
		health:     hp,
		leverage:   contracts.LeverageZap{Address: m.LeverageZap},
		deleverage: contracts.DeleverageZap{Address: m.DeleverageZap},
		logger:     logger.With("component", "RouteSelector", "market", m.ID),
	}
}

func (s *Selector) routeName(i int) string {
	if name := s.market.RouteName(i); name != "" {
		return name
	}
	return fmt.Sprintf("route %d", i)
}

// evaluate reads every route in one batch and picks the best.
func (s *Selector) evaluate(ctx context.Context, calls []chain.Call, decimals int32) (Selection, error) {
	results, err := s.reader.ReadBatch(ctx, calls)
	if err != nil {
		return Selection{}, market.Upstream(chain.BatchOp(calls), err)
	}

	var outputs Candidate
	for i, out := range results {
		raw, err := contracts.BigInt(out)
		if err != nil {
			return Selection{}, fmt.Errorf("decode route %d: %w", i, err)
		}
		outputs[i] = Output{Value: units.FromRaw(raw, decimals), Available: raw.Sign() > 0}
	}

	idx, ok := BestIndex(outputs)
	if !ok {
		return Selection{}, market.Preconditionf("no swap route is available")
	}
	return Selection{Choice: Choice{Index: idx, Name: s.routeName(idx)}, Outputs: outputs}, nil
}

// SelectLeverageRoute estimates the collateral each route buys with debt and picks the
// most. Only the debt is swapped, so the choice is cached by debt alone.
func (s *Selector) SelectLeverageRoute(ctx context.Context, debt decimal.Decimal) (Selection, error) {
	if !s.market.HasLeverage() {
		return Selection{}, market.Unavailablef("market %s has no leverage routes", s.market.ID)
	}
	if !debt.IsPositive() {
		return Selection{}, market.Validationf("debt must be positive")
	}
	debtRaw, err := units.Stablecoin(debt)
	if err != nil {
		return Selection{}, err
	}

	return cache.Memo(ctx, s.cache, cache.StructuralTTL, s.market.ID+".leverageRoute", func(ctx context.Context) (Selection, error) {
		calls := make([]chain.Call, market.RouteCount)
		for i := range calls {
			calls[i] = s.leverage.GetCollateral(debtRaw, i)
		}
		sel, err := s.evaluate(ctx, calls, s.market.CollateralDecimals)
		if err != nil {
			return Selection{}, err
		}
		s.logger.Info("leverage route selected", "debt", debt, "route", sel.Choice.Name, "collateral", sel.Chosen())
		return sel, nil
	}, debt)
}

// LeverageCreateLoanCollateral returns user collateral plus what the best route buys.
func (s *Selector) LeverageCreateLoanCollateral(ctx context.Context, userCollateral, debt decimal.Decimal) (decimal.Decimal, Selection, error) {
	if userCollateral.IsNegative() {
		return decimal.Zero, Selection{}, market.Validationf("collateral must not be negative")
	}
	sel, err := s.SelectLeverageRoute(ctx, debt)
	if err != nil {
		return decimal.Zero, Selection{}, err
	}
	return userCollateral.Add(sel.Chosen()), sel, nil
}

// LeverageCreateLoanBands previews the bands of a leveraged loan through the chosen route.
func (s *Selector) LeverageCreateLoanBands(ctx context.Context, userCollateral, debt decimal.Decimal, n int, choice Choice) (quote.SizingQuote, error) {
	if err := quote.CheckRange(s.market, n); err != nil {
		return quote.SizingQuote{}, err
	}
	if !s.market.HasLeverage() {
		return quote.SizingQuote{}, market.Unavailablef("market %s has no leverage routes", s.market.ID)
	}
	collRaw, err := units.ToRaw(userCollateral, s.market.CollateralDecimals)
	if err != nil {
		return quote.SizingQuote{}, err
	}
	debtRaw, err := units.Stablecoin(debt)
	if err != nil {
		return quote.SizingQuote{}, err
	}

	out, err := s.reader.Read(ctx, s.leverage.CalculateDebtN1(collRaw, debtRaw, n, choice.Index))
	if err != nil {
		return quote.SizingQuote{}, market.Upstream(contracts.MethodCalculateDebtN1, err)
	}
	n1, err := contracts.Int(out)
	if err != nil {
		return quote.SizingQuote{}, market.Upstream(contracts.MethodCalculateDebtN1, err)
	}
	model, err := s.oracle.Model(ctx)
	if err != nil {
		return quote.SizingQuote{}, err
	}
	return quote.QuoteRange(model, n1, n), nil
}

// LeverageCreateLoanHealth projects both health modes for the total collateral the
// selection produces.
func (s *Selector) LeverageCreateLoanHealth(ctx context.Context, userCollateral, debt decimal.Decimal, n int, sel Selection) (health.Projection, error) {
	if err := quote.CheckRange(s.market, n); err != nil {
		return health.Projection{}, err
	}
	total := userCollateral.Add(sel.Chosen())
	collRaw, err := units.ToRaw(total, s.market.CollateralDecimals)
	if err != nil {
		return health.Projection{}, err
	}
	debtRaw, err := units.Stablecoin(debt)
	if err != nil {
		return health.Projection{}, err
	}
	return s.health.ProjectBoth(ctx, common.Address{}, collRaw, debtRaw, n)
}

// SelectDeleverageRoute estimates the stablecoin each route pays for collateral.
func (s *Selector) SelectDeleverageRoute(ctx context.Context, collateral decimal.Decimal) (Selection, error) {
	if !s.market.HasDeleverage() {
		return Selection{}, market.Unavailablef("market %s has no deleverage routes", s.market.ID)
	}
	if !collateral.IsPositive() {
		return Selection{}, market.Validationf("collateral must be positive")
	}
	collRaw, err := units.ToRaw(collateral, s.market.CollateralDecimals)
	if err != nil {
		return Selection{}, err
	}

	return cache.Memo(ctx, s.cache, cache.StructuralTTL, s.market.ID+".deleverageRoute", func(ctx context.Context) (Selection, error) {
		calls := make([]chain.Call, market.RouteCount)
		for i := range calls {
			calls[i] = s.deleverage.GetStablecoins(collRaw, i)
		}
		sel, err := s.evaluate(ctx, calls, market.StablecoinDecimals)
		if err != nil {
			return Selection{}, err
		}
		s.logger.Info("deleverage route selected", "collateral", collateral, "route", sel.Choice.Name, "stablecoin", sel.Chosen())
		return sel, nil
	}, collateral)
}

// IsFullRepayment reports whether the chosen route's proceeds plus any stablecoin
// already held by the position exceed its debt.
func IsFullRepayment(state position.State, sel Selection) bool {
	proceeds := sel.Chosen()
	held := units.FromStablecoin(state.Stablecoin)
	return proceeds.Add(held).GreaterThan(units.FromStablecoin(state.Debt))
}

// DeleverageIsFullRepayment reads the position and applies IsFullRepayment.
func (s *Selector) DeleverageIsFullRepayment(ctx context.Context, user common.Address, collateral decimal.Decimal) (bool, error) {
	state, err := s.positions.Existing(ctx, user)
	if err != nil {
		return false, err
	}
	sel, err := s.SelectDeleverageRoute(ctx, collateral)
	if err != nil {
		return false, err
	}
	return IsFullRepayment(state, sel), nil
}

// DeleverageIsAvailable reports whether selling collateral through the zap is allowed:
// never more than the position holds, and only a full repayment while in soft liquidation.
func (s *Selector) DeleverageIsAvailable(ctx context.Context, user common.Address, collateral decimal.Decimal) (bool, error) {
	if !s.market.HasDeleverage() {
		return false, nil
	}
	state, err := s.positions.State(ctx, user)
	if err != nil {
		return false, err
	}
	if state.Phase() == position.NoLoan {
		return false, nil
	}
	collRaw, err := units.ToRaw(collateral, s.market.CollateralDecimals)
	if err != nil {
		return false, err
	}
	if collRaw.Cmp(state.Collateral) > 0 {
		return false, nil
	}
	if state.Phase() != position.InLiquidation {
		return true, nil
	}
	sel, err := s.SelectDeleverageRoute(ctx, collateral)
	if err != nil {
		return false, err
	}
	return IsFullRepayment(state, sel), nil
}

// DeleverageQuote is the band range left after a deleverage, unless it closes the loan.
type DeleverageQuote struct {
	quote.SizingQuote
	FullRepayment bool
}

// DeleverageRepayBands previews the bands left after selling collateral through sel.
func (s *Selector) DeleverageRepayBands(ctx context.Context, user common.Address, collateral decimal.Decimal, sel Selection) (DeleverageQuote, error) {
	state, err := s.positions.Existing(ctx, user)
	if err != nil {
		return DeleverageQuote{}, err
	}
	if IsFullRepayment(state, sel) {
		return DeleverageQuote{FullRepayment: true}, nil
	}
	collRaw, err := units.ToRaw(collateral, s.market.CollateralDecimals)
	if err != nil {
		return DeleverageQuote{}, err
	}

	out, err := s.reader.Read(ctx, s.deleverage.CalculateDebtN1(collRaw, sel.Choice.Index, user))
	if err != nil {
		return DeleverageQuote{}, market.Upstream(contracts.MethodCalculateDebtN1, err)
	}
	n1, err := contracts.Int(out)
	if err != nil {
		return DeleverageQuote{}, market.Upstream(contracts.MethodCalculateDebtN1, err)
	}
	model, err := s.oracle.Model(ctx)
	if err != nil {
		return DeleverageQuote{}, err
	}
	return DeleverageQuote{SizingQuote: quote.QuoteRange(model, n1, state.N)}, nil
}

// DeleverageHealth projects the health left after a partial deleverage.
func (s *Selector) DeleverageHealth(ctx context.Context, user common.Address, collateral decimal.Decimal, sel Selection) (health.Projection, error) {
	collRaw, err := units.ToRaw(collateral, s.market.CollateralDecimals)
	if err != nil {
		return health.Projection{}, err
	}
	debtRaw, err := units.Stablecoin(sel.Chosen())
	if err != nil {
		return health.Projection{}, err
	}
	return s.health.ProjectBoth(ctx, user, new(big.Int).Neg(collRaw), new(big.Int).Neg(debtRaw), 0)
}
