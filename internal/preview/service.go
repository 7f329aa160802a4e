package preview

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/cache"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/metrics"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/position"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/quote"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/signer"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/stats"
)

// Attester signs create-loan previews.
type Attester interface {
	Attest(chainID uint64, p *signer.LoanPreview) (signer.Attestation, error)
}

// Service answers previews for every market of a registry.
type Service struct {
	registry *market.Registry
	engines  map[string]*Engines
	attester Attester
	logger   *slog.Logger
}

// NewService wires engines for every market. A nil attester leaves previews unsigned.
func NewService(reg *market.Registry, reader chain.Reader, c *cache.Cache, attester Attester, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	engines := make(map[string]*Engines, reg.Len())
	for _, id := range reg.IDs() {
		m, _ := reg.Get(id)
		engines[id] = NewEngines(m, reader, c, logger)
	}
	return &Service{
		registry: reg,
		engines:  engines,
		attester: attester,
		logger:   logger.With("component", "PreviewService"),
	}
}

// Registry returns the markets the service answers for.
func (s *Service) Registry() *market.Registry { return s.registry }

// Engines returns the engines of one market.
func (s *Service) Engines(id string) (*Engines, error) {
	if _, err := s.registry.Lookup(id); err != nil {
		return nil, err
	}
	return s.engines[id], nil
}

func observe(action Action, start time.Time) {
	metrics.PreviewLatency.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
}

func newPreview(m market.Config, action Action, user common.Address, collateral, debt decimal.Decimal) Preview {
	return Preview{
		ID:         uuid.NewString(),
		Market:     m.ID,
		Action:     action,
		User:       user,
		Collateral: collateral,
		Debt:       debt,
	}
}

func (p *Preview) setQuote(q quote.SizingQuote) {
	p.Bands = q.Bands
	p.Prices = q.Prices
}

func rangeWidth(ctx context.Context, e *Engines, n int) (decimal.Decimal, error) {
	model, err := e.Oracle.Model(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return model.RangeWidthPct(n), nil
}

// CreateLoan previews a new loan of n bands. A zero user is anonymous.
func (s *Service) CreateLoan(ctx context.Context, id string, user common.Address, collateral, debt decimal.Decimal, n int) (Preview, error) {
	defer observe(ActionCreateLoan, time.Now())
	e, err := s.Engines(id)
	if err != nil {
		return Preview{}, err
	}

	// 1. Validate before any read
	if err := e.Quotes.CheckRange(n); err != nil {
		return Preview{}, err
	}
	if !collateral.IsPositive() || !debt.IsPositive() {
		return Preview{}, market.Validationf("collateral and debt must be positive")
	}
	dc, dd, err := e.Health.Deltas(collateral, debt)
	if err != nil {
		return Preview{}, err
	}

	// 2. Independent reads in parallel
	p := newPreview(e.Config, ActionCreateLoan, user, collateral, debt)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := e.Quotes.QuoteCreateLoan(gctx, user, collateral, debt, n)
		if err != nil {
			return err
		}
		p.setQuote(q)
		return nil
	})
	g.Go(func() error {
		h, err := e.Health.ProjectBoth(gctx, common.Address{}, dc, dd, n)
		p.Health = h
		return err
	})
	g.Go(func() error {
		maxB, err := e.Quotes.CreateLoanMaxRecv(gctx, collateral, n)
		p.MaxBorrowable = decimal.NewNullDecimal(maxB)
		return err
	})
	g.Go(func() error {
		w, err := rangeWidth(gctx, e, n)
		p.RangeWidthPct = w
		return err
	})
	if err := g.Wait(); err != nil {
		return Preview{}, err
	}

	// 3. Optional attestation
	if err := s.attest(e.Config, &p, dc, dd); err != nil {
		return Preview{}, err
	}
	s.logger.Info("create loan previewed", "market", id, "id", p.ID, "n1", p.Bands.N1, "n2", p.Bands.N2)
	return p, nil
}

func (s *Service) attest(m market.Config, p *Preview, collateral, debt *big.Int) error {
	if s.attester == nil {
		return nil
	}
	lp := &signer.LoanPreview{
		Controller: m.Controller,
		User:       p.User,
		Collateral: collateral,
		Debt:       debt,
		N:          big.NewInt(int64(p.Bands.N())),
		N1:         big.NewInt(int64(p.Bands.N1)),
		N2:         big.NewInt(int64(p.Bands.N2)),
	}
	att, err := s.attester.Attest(m.ChainID, lp)
	if err != nil {
		return err
	}
	p.Attestation = &att
	return nil
}

// LeverageCreateLoan previews a leveraged loan. The route is chosen once and reused by
// every band, health and impact read of the preview.
func (s *Service) LeverageCreateLoan(ctx context.Context, id string, user common.Address, collateral, debt decimal.Decimal, n int) (Preview, error) {
	defer observe(ActionLeverageCreateLoan, time.Now())
	e, err := s.Engines(id)
	if err != nil {
		return Preview{}, err
	}

	// 1. Validate
	if err := e.Quotes.CheckRange(n); err != nil {
		return Preview{}, err
	}
	if !e.Config.HasLeverage() {
		return Preview{}, market.Unavailablef("market %s has no leverage routes", id)
	}
	if collateral.IsNegative() || !debt.IsPositive() {
		return Preview{}, market.Validationf("collateral must not be negative and debt must be positive")
	}
	if user != (common.Address{}) {
		exists, err := e.Positions.LoanExists(ctx, user)
		if err != nil {
			return Preview{}, err
		}
		if exists {
			return Preview{}, market.Preconditionf("loan for %s already exists", user.Hex())
		}
	}

	// 2. Choose the route
	total, sel, err := e.Routes.LeverageCreateLoanCollateral(ctx, collateral, debt)
	if err != nil {
		return Preview{}, err
	}
	p := newPreview(e.Config, ActionLeverageCreateLoan, user, collateral, debt)
	p.TotalCollateral = decimal.NewNullDecimal(total)
	p.Route = &sel

	// 3. Everything downstream of the choice in parallel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := e.Routes.LeverageCreateLoanBands(gctx, collateral, debt, n, sel.Choice)
		if err != nil {
			return err
		}
		p.setQuote(q)
		return nil
	})
	g.Go(func() error {
		h, err := e.Routes.LeverageCreateLoanHealth(gctx, collateral, debt, n, sel)
		p.Health = h
		return err
	})
	g.Go(func() error {
		pct, err := e.Impact.LeveragePriceImpact(gctx, debt, sel.Choice)
		p.PriceImpact = decimal.NewNullDecimal(pct)
		return err
	})
	g.Go(func() error {
		w, err := rangeWidth(gctx, e, n)
		p.RangeWidthPct = w
		return err
	})
	if err := g.Wait(); err != nil {
		return Preview{}, err
	}

	s.logger.Info("leverage loan previewed", "market", id, "id", p.ID, "route", sel.Choice.Name, "totalCollateral", total)
	return p, nil
}

// BorrowMore previews adding collateral and debt to an existing loan.
func (s *Service) BorrowMore(ctx context.Context, id string, user common.Address, dCollateral, dDebt decimal.Decimal) (Preview, error) {
	defer observe(ActionBorrowMore, time.Now())
	e, err := s.Engines(id)
	if err != nil {
		return Preview{}, err
	}
	q, err := e.Quotes.QuoteBorrowMore(ctx, user, dCollateral, dDebt)
	if err != nil {
		return Preview{}, err
	}
	p := newPreview(e.Config, ActionBorrowMore, user, dCollateral, dDebt)
	p.setQuote(q)

	maxB := func(ctx context.Context) error {
		v, err := e.Quotes.BorrowMoreMaxRecv(ctx, user, dCollateral)
		p.MaxBorrowable = decimal.NewNullDecimal(v)
		return err
	}
	if err := s.finishAdjusted(ctx, e, &p, dCollateral, dDebt, maxB); err != nil {
		return Preview{}, err
	}
	return p, nil
}

// AddCollateral previews adding collateral to an existing loan.
func (s *Service) AddCollateral(ctx context.Context, id string, user common.Address, dCollateral decimal.Decimal) (Preview, error) {
	defer observe(ActionAddCollateral, time.Now())
	e, err := s.Engines(id)
	if err != nil {
		return Preview{}, err
	}
	q, err := e.Quotes.QuoteAddCollateral(ctx, user, dCollateral)
	if err != nil {
		return Preview{}, err
	}
	p := newPreview(e.Config, ActionAddCollateral, user, dCollateral, decimal.Zero)
	p.setQuote(q)
	if err := s.finishAdjusted(ctx, e, &p, dCollateral, decimal.Zero, nil); err != nil {
		return Preview{}, err
	}
	return p, nil
}

// RemoveCollateral previews withdrawing collateral from an existing loan.
func (s *Service) RemoveCollateral(ctx context.Context, id string, user common.Address, dCollateral decimal.Decimal) (Preview, error) {
	defer observe(ActionRemoveCollateral, time.Now())
	e, err := s.Engines(id)
	if err != nil {
		return Preview{}, err
	}
	q, err := e.Quotes.QuoteRemoveCollateral(ctx, user, dCollateral)
	if err != nil {
		return Preview{}, err
	}
	p := newPreview(e.Config, ActionRemoveCollateral, user, dCollateral, decimal.Zero)
	p.setQuote(q)

	maxRemovable := func(ctx context.Context) error {
		v, err := e.Quotes.MaxRemovable(ctx, user)
		p.MaxRemovable = decimal.NewNullDecimal(v)
		return err
	}
	if err := s.finishAdjusted(ctx, e, &p, dCollateral.Neg(), decimal.Zero, maxRemovable); err != nil {
		return Preview{}, err
	}
	return p, nil
}

// Repay previews repaying part of a loan's debt.
func (s *Service) Repay(ctx context.Context, id string, user common.Address, dDebt decimal.Decimal) (Preview, error) {
	defer observe(ActionRepay, time.Now())
	e, err := s.Engines(id)
	if err != nil {
		return Preview{}, err
	}
	q, err := e.Quotes.QuoteRepay(ctx, user, dDebt)
	if err != nil {
		return Preview{}, err
	}
	p := newPreview(e.Config, ActionRepay, user, decimal.Zero, dDebt)
	p.setQuote(q)
	if err := s.finishAdjusted(ctx, e, &p, decimal.Zero, dDebt.Neg(), nil); err != nil {
		return Preview{}, err
	}
	return p, nil
}

// finishAdjusted fills health, range width and the optional extra read of an
// existing-loan preview whose bands are already set.
func (s *Service) finishAdjusted(ctx context.Context, e *Engines, p *Preview, dCollateral, dDebt decimal.Decimal, extra func(context.Context) error) error {
	dc, dd, err := e.Health.Deltas(dCollateral, dDebt)
	if err != nil {
		return err
	}
	n := p.Bands.N()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := e.Health.ProjectBoth(gctx, p.User, dc, dd, n)
		p.Health = h
		return err
	})
	g.Go(func() error {
		w, err := rangeWidth(gctx, e, n)
		p.RangeWidthPct = w
		return err
	})
	if extra != nil {
		g.Go(func() error { return extra(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("loan change previewed", "market", e.Config.ID, "action", p.Action, "id", p.ID, "user", p.User.Hex())
	return nil
}

// DeleverageRepay previews selling collateral through the best deleverage route to repay debt.
func (s *Service) DeleverageRepay(ctx context.Context, id string, user common.Address, collateral decimal.Decimal) (Preview, error) {
	defer observe(ActionDeleverageRepay, time.Now())
	e, err := s.Engines(id)
	if err != nil {
		return Preview{}, err
	}

	// 1. Availability
	if !e.Config.HasDeleverage() {
		return Preview{}, market.Unavailablef("market %s has no deleverage routes", id)
	}
	if !collateral.IsPositive() {
		return Preview{}, market.Validationf("collateral must be positive")
	}
	ok, err := e.Routes.DeleverageIsAvailable(ctx, user, collateral)
	if err != nil {
		return Preview{}, err
	}
	if !ok {
		return Preview{}, market.Preconditionf("deleverage of %s is not available for %s", collateral, user.Hex())
	}

	// 2. Choose the route
	sel, err := e.Routes.SelectDeleverageRoute(ctx, collateral)
	if err != nil {
		return Preview{}, err
	}
	p := newPreview(e.Config, ActionDeleverageRepay, user, collateral, sel.Chosen())
	p.Route = &sel

	// 3. Bands and impact share the choice
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dq, err := e.Routes.DeleverageRepayBands(gctx, user, collateral, sel)
		if err != nil {
			return err
		}
		p.setQuote(dq.SizingQuote)
		p.FullRepayment = dq.FullRepayment
		return nil
	})
	g.Go(func() error {
		pct, err := e.Impact.DeleveragePriceImpact(gctx, collateral, sel.Choice)
		p.PriceImpact = decimal.NewNullDecimal(pct)
		return err
	})
	if err := g.Wait(); err != nil {
		return Preview{}, err
	}

	// 4. A closed loan has no health or bands left
	if !p.FullRepayment {
		g, gctx = errgroup.WithContext(ctx)
		g.Go(func() error {
			h, err := e.Routes.DeleverageHealth(gctx, user, collateral, sel)
			p.Health = h
			return err
		})
		g.Go(func() error {
			w, err := rangeWidth(gctx, e, p.Bands.N())
			p.RangeWidthPct = w
			return err
		})
		if err := g.Wait(); err != nil {
			return Preview{}, err
		}
	}

	s.logger.Info("deleverage previewed", "market", id, "id", p.ID, "route", sel.Choice.Name, "fullRepayment", p.FullRepayment)
	return p, nil
}

// Swap previews an AMM swap of amount of coin i for coin j.
func (s *Service) Swap(ctx context.Context, id string, i, j int, amount decimal.Decimal) (SwapPreview, error) {
	defer observe(ActionSwap, time.Now())
	e, err := s.Engines(id)
	if err != nil {
		return SwapPreview{}, err
	}

	sp := SwapPreview{ID: uuid.NewString(), Market: id, In: i, Out: j, Amount: amount}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := e.Impact.SwapExpected(gctx, i, j, amount)
		sp.Expected = v
		return err
	})
	g.Go(func() error {
		v, err := e.Impact.EstimatePriceImpact(gctx, i, j, amount)
		sp.PriceImpact = v
		return err
	})
	g.Go(func() error {
		v, err := e.Impact.MaxSwappable(gctx, i, j)
		sp.MaxSwappable = v
		return err
	})
	if err := g.Wait(); err != nil {
		return SwapPreview{}, err
	}
	return sp, nil
}

// Ranges sizes a loan across every band count.
func (s *Service) Ranges(ctx context.Context, id string, collateral, debt decimal.Decimal) (RangeTable, error) {
	e, err := s.Engines(id)
	if err != nil {
		return RangeTable{}, err
	}
	quotes, err := e.Scanner.ScanBandsAndPrices(ctx, collateral, debt)
	if err != nil {
		return RangeTable{}, err
	}
	// cached by the scan above
	maxRange, err := e.Scanner.GetMaxRange(ctx, collateral, debt)
	if err != nil {
		return RangeTable{}, err
	}
	return RangeTable{Market: id, MaxRange: maxRange, Quotes: quotes}, nil
}

// MaxBorrowable returns the max borrowable debt for every band count.
func (s *Service) MaxBorrowable(ctx context.Context, id string, collateral decimal.Decimal) (map[int]decimal.Decimal, error) {
	e, err := s.Engines(id)
	if err != nil {
		return nil, err
	}
	return e.Scanner.ScanMaxBorrowable(ctx, collateral)
}

// UserStats reads a user's position, liquidation range and health.
func (s *Service) UserStats(ctx context.Context, id string, user common.Address) (UserStats, error) {
	e, err := s.Engines(id)
	if err != nil {
		return UserStats{}, err
	}
	state, err := e.Positions.State(ctx, user)
	if err != nil {
		return UserStats{}, err
	}
	us := UserStats{Market: id, Position: state.Summary(e.Config.CollateralDecimals)}
	if state.Phase() == position.NoLoan {
		return us, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		up, down, err := e.Positions.UserPrices(gctx, user)
		us.Prices = quote.Prices{Up: up, Down: down}
		return err
	})
	g.Go(func() error {
		v, err := e.Health.CurrentHealth(gctx, user, true)
		us.Health.Full = v
		return err
	})
	g.Go(func() error {
		v, err := e.Health.CurrentHealth(gctx, user, false)
		us.Health.NotFull = v
		return err
	})
	if state.Phase() == position.InLiquidation {
		g.Go(func() error {
			v, err := e.Positions.TokensToLiquidate(gctx, user)
			us.TokensToLiquidate = decimal.NewNullDecimal(v)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return UserStats{}, err
	}
	return us, nil
}

// MarketStats reads a market's total debt and pool balances.
func (s *Service) MarketStats(ctx context.Context, id string) (stats.Stats, error) {
	e, err := s.Engines(id)
	if err != nil {
		return stats.Stats{}, err
	}
	return e.Stats.Read(ctx)
}
