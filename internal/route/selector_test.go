package route

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/bands"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/cache"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain/chaintest"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/health"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/position"
)

var (
	borrower      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	leverageZap   = common.HexToAddress("0x0000000000000000000000000000000000000010")
	deleverageZap = common.HexToAddress("0x0000000000000000000000000000000000000011")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testMarket() market.Config {
	return market.Config{
		ID:                 "weth",
		Controller:         common.HexToAddress("0x01"),
		AMM:                common.HexToAddress("0x02"),
		CollateralDecimals: 18,
		A:                  100,
		MinBands:           4,
		MaxBands:           50,
		DefaultBands:       10,
		BasePrice:          decimal.NewFromInt(2000),
		LeverageZap:        leverageZap,
		DeleverageZap:      deleverageZap,
		RouteNames:         [market.RouteCount]string{"curve", "1inch", "odos", "paraswap", "kyber"},
	}
}

type fixture struct {
	fake     *chaintest.FakeReader
	clock    *cache.ManualClock
	selector *Selector
}

func newFixture(m market.Config) *fixture {
	fake := chaintest.New()
	clock := cache.NewManualClock(time.Unix(1_700_000_000, 0))
	c := cache.New(clock)
	oracle := bands.NewOracle(m, fake, c)
	positions := position.NewReader(m, fake)
	hp := health.NewProjector(m, fake, testLogger())
	return &fixture{
		fake:     fake,
		clock:    clock,
		selector: NewSelector(m, fake, c, oracle, positions, hp, testLogger()),
	}
}

// perRoute answers with values[route] * 1e18, reading the route from argument 1.
func perRoute(values *[market.RouteCount]int64) chaintest.Handler {
	return func(call chain.Call) ([]any, error) {
		return []any{chaintest.E18(values[chaintest.ArgInt(call, 1)])}, nil
	}
}

func withState(f *chaintest.FakeReader, collateral, stablecoin, debt *big.Int, n1, n2 int64) {
	f.Handle(contracts.MethodUserState, chaintest.Returns([4]*big.Int{collateral, stablecoin, debt, big.NewInt(n2 - n1 + 1)})).
		Handle(contracts.MethodReadUserTickNumbers, chaintest.Returns([2]*big.Int{big.NewInt(n1), big.NewInt(n2)}))
}

func candidate(values ...int64) Candidate {
	var c Candidate
	for i, v := range values {
		c[i] = Output{Value: decimal.NewFromInt(v), Available: v > 0}
	}
	return c
}

func TestBestIndex(t *testing.T) {
	idx, ok := BestIndex(candidate(1, 3, 3, 0, 2))
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	idx, ok = BestIndex(candidate(0, 0, 0, 0, 7))
	assert.True(t, ok)
	assert.Equal(t, 4, idx)

	_, ok = BestIndex(candidate(0, 0, 0, 0, 0))
	assert.False(t, ok)

	c := candidate(1, 2, 3, 4, 5)
	c[4].Available = false
	idx, _ = BestIndex(c)
	assert.Equal(t, 3, idx)
}

func TestSelectLeverageRoute_Cached(t *testing.T) {
	values := [market.RouteCount]int64{1, 3, 3, 0, 2}
	fx := newFixture(testMarket())
	fx.fake.HandleAt(leverageZap, contracts.MethodGetCollateral, perRoute(&values))

	ctx := context.Background()
	sel, err := fx.selector.SelectLeverageRoute(ctx, decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.Equal(t, Choice{Index: 1, Name: "1inch"}, sel.Choice)
	assert.True(t, sel.Chosen().Equal(decimal.NewFromInt(3)))
	assert.False(t, sel.Outputs[3].Available)
	assert.Equal(t, 1, fx.fake.Batches())
	assert.Equal(t, market.RouteCount, fx.fake.Count(contracts.MethodGetCollateral))

	// upstream moves, but the cached choice holds within the TTL
	values = [market.RouteCount]int64{9, 0, 0, 0, 0}
	fx.clock.Advance(4 * time.Minute)
	again, err := fx.selector.SelectLeverageRoute(ctx, decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.Equal(t, sel, again)
	assert.Equal(t, 1, fx.fake.RemoteReads())

	fx.clock.Advance(time.Minute)
	fresh, err := fx.selector.SelectLeverageRoute(ctx, decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Choice.Index)
	assert.Equal(t, 2, fx.fake.Batches())
}

func TestSelectLeverageRoute_KeyedByDebt(t *testing.T) {
	values := [market.RouteCount]int64{1, 3, 3, 0, 2}
	fx := newFixture(testMarket())
	fx.fake.HandleAt(leverageZap, contracts.MethodGetCollateral, perRoute(&values))

	ctx := context.Background()
	_, err := fx.selector.SelectLeverageRoute(ctx, decimal.NewFromInt(5000))
	require.NoError(t, err)
	_, err = fx.selector.SelectLeverageRoute(ctx, decimal.NewFromInt(6000))
	require.NoError(t, err)
	assert.Equal(t, 2, fx.fake.Batches())
}

func TestSelectLeverageRoute_Errors(t *testing.T) {
	ctx := context.Background()

	m := testMarket()
	m.LeverageZap = common.Address{}
	fx := newFixture(m)
	_, err := fx.selector.SelectLeverageRoute(ctx, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, market.ErrUnavailable)
	assert.Equal(t, 0, fx.fake.RemoteReads())

	fx = newFixture(testMarket())
	_, err = fx.selector.SelectLeverageRoute(ctx, decimal.Zero)
	assert.ErrorIs(t, err, market.ErrValidation)
	assert.Equal(t, 0, fx.fake.RemoteReads())

	zeros := [market.RouteCount]int64{}
	fx.fake.HandleAt(leverageZap, contracts.MethodGetCollateral, perRoute(&zeros))
	_, err = fx.selector.SelectLeverageRoute(ctx, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, market.ErrPrecondition)

	boom := errors.New("execution reverted")
	fx = newFixture(testMarket())
	fx.fake.HandleAt(leverageZap, contracts.MethodGetCollateral, chaintest.Fails(boom))
	_, err = fx.selector.SelectLeverageRoute(ctx, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, market.ErrUpstream)
	assert.ErrorIs(t, err, boom)
}

func TestLeverageCreateLoan(t *testing.T) {
	values := [market.RouteCount]int64{1, 3, 3, 0, 2}
	fx := newFixture(testMarket())
	var zapCall chain.Call
	fx.fake.HandleAt(leverageZap, contracts.MethodGetCollateral, perRoute(&values)).
		HandleAt(leverageZap, contracts.MethodCalculateDebtN1, func(call chain.Call) ([]any, error) {
			zapCall = call
			return []any{big.NewInt(7)}, nil
		})
	var healthCalls []chain.Call
	fx.fake.Handle(contracts.MethodHealthCalculator, func(call chain.Call) ([]any, error) {
		healthCalls = append(healthCalls, call)
		return []any{chaintest.Big("40000000000000000")}, nil
	})

	ctx := context.Background()
	total, sel, err := fx.selector.LeverageCreateLoanCollateral(ctx, decimal.NewFromInt(1), decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(4)), "got %s", total)

	q, err := fx.selector.LeverageCreateLoanBands(ctx, decimal.NewFromInt(1), decimal.NewFromInt(5000), 10, sel.Choice)
	require.NoError(t, err)
	assert.Equal(t, 7, q.Bands.N1)
	assert.Equal(t, 16, q.Bands.N2)
	assert.Equal(t, sel.Choice.Index, chaintest.ArgInt(zapCall, 3))
	assert.Equal(t, 10, chaintest.ArgInt(zapCall, 2))

	model, err := bands.NewModel(100, decimal.NewFromInt(2000))
	require.NoError(t, err)
	up, down := model.RangePrices(7, 16)
	assert.True(t, q.Prices.Down.Equal(down))
	assert.True(t, q.Prices.Up.Equal(up))

	proj, err := fx.selector.LeverageCreateLoanHealth(ctx, decimal.NewFromInt(1), decimal.NewFromInt(5000), 10, sel)
	require.NoError(t, err)
	assert.True(t, proj.Full.Equal(decimal.NewFromInt(4)))
	require.Len(t, healthCalls, 2)
	assert.Equal(t, common.Address{}, healthCalls[0].Args[0])
	assert.Equal(t, chaintest.E18(4).String(), chaintest.Arg(healthCalls[0], 1).String())

	// one batch for the routes, one read for the bands, one batch for health
	assert.Equal(t, 3, fx.fake.RemoteReads())
}

func TestLeverageCreateLoanBands_RangeChecked(t *testing.T) {
	fx := newFixture(testMarket())
	_, err := fx.selector.LeverageCreateLoanBands(context.Background(), decimal.NewFromInt(1), decimal.NewFromInt(5000), 51, Choice{})
	assert.ErrorIs(t, err, market.ErrValidation)
	assert.Equal(t, 0, fx.fake.RemoteReads())
}

func TestDeleverageIsAvailable(t *testing.T) {
	ctx := context.Background()
	values := [market.RouteCount]int64{100, 500, 0, 300, 200}

	tests := []struct {
		name       string
		stablecoin *big.Int
		debt       *big.Int
		collateral string
		want       bool
	}{
		{"active", big.NewInt(0), chaintest.E18(1000), "1", true},
		{"more than held", big.NewInt(0), chaintest.E18(1000), "3", false},
		{"liquidation full repayment", chaintest.E18(600), chaintest.E18(1000), "1", true},
		{"liquidation partial", chaintest.E18(400), chaintest.E18(1000), "1", false},
		{"no loan", big.NewInt(0), big.NewInt(0), "1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(testMarket())
			fx.fake.HandleAt(deleverageZap, contracts.MethodGetStablecoins, perRoute(&values))
			withState(fx.fake, chaintest.E18(2), tt.stablecoin, tt.debt, 5, 14)

			ok, err := fx.selector.DeleverageIsAvailable(ctx, borrower, decimal.RequireFromString(tt.collateral))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestDeleverageIsAvailable_NoRoutes(t *testing.T) {
	m := testMarket()
	m.DeleverageZap = common.Address{}
	fx := newFixture(m)

	ok, err := fx.selector.DeleverageIsAvailable(context.Background(), borrower, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, fx.fake.RemoteReads())
}

func TestDeleverageRepay(t *testing.T) {
	ctx := context.Background()
	values := [market.RouteCount]int64{100, 500, 0, 300, 200}
	fx := newFixture(testMarket())
	var zapCall chain.Call
	fx.fake.HandleAt(deleverageZap, contracts.MethodGetStablecoins, perRoute(&values)).
		HandleAt(deleverageZap, contracts.MethodCalculateDebtN1, func(call chain.Call) ([]any, error) {
			zapCall = call
			return []any{big.NewInt(12)}, nil
		})
	withState(fx.fake, chaintest.E18(2), big.NewInt(0), chaintest.E18(1000), 5, 14)

	sel, err := fx.selector.SelectDeleverageRoute(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, Choice{Index: 1, Name: "1inch"}, sel.Choice)

	full, err := fx.selector.DeleverageIsFullRepayment(ctx, borrower, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, full)

	q, err := fx.selector.DeleverageRepayBands(ctx, borrower, decimal.NewFromInt(1), sel)
	require.NoError(t, err)
	assert.False(t, q.FullRepayment)
	assert.Equal(t, 12, q.Bands.N1)
	assert.Equal(t, 21, q.Bands.N2)
	assert.Equal(t, 1, chaintest.ArgInt(zapCall, 1))
	assert.Equal(t, borrower, zapCall.Args[2])
}

func TestDeleverageRepay_FullRepayment(t *testing.T) {
	ctx := context.Background()
	values := [market.RouteCount]int64{100, 1500, 0, 300, 200}
	fx := newFixture(testMarket())
	fx.fake.HandleAt(deleverageZap, contracts.MethodGetStablecoins, perRoute(&values))
	withState(fx.fake, chaintest.E18(2), big.NewInt(0), chaintest.E18(1000), 5, 14)

	sel, err := fx.selector.SelectDeleverageRoute(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)

	q, err := fx.selector.DeleverageRepayBands(ctx, borrower, decimal.NewFromInt(1), sel)
	require.NoError(t, err)
	assert.True(t, q.FullRepayment)
	assert.Zero(t, fx.fake.Count(contracts.MethodCalculateDebtN1))
}

func TestDeleverageHealth(t *testing.T) {
	values := [market.RouteCount]int64{100, 500, 0, 300, 200}
	fx := newFixture(testMarket())
	var seen []chain.Call
	fx.fake.HandleAt(deleverageZap, contracts.MethodGetStablecoins, perRoute(&values)).
		Handle(contracts.MethodHealthCalculator, func(call chain.Call) ([]any, error) {
			seen = append(seen, call)
			return []any{chaintest.Big("80000000000000000")}, nil
		})

	ctx := context.Background()
	sel, err := fx.selector.SelectDeleverageRoute(ctx, decimal.NewFromInt(1))
	require.NoError(t, err)
	proj, err := fx.selector.DeleverageHealth(ctx, borrower, decimal.NewFromInt(1), sel)
	require.NoError(t, err)
	assert.True(t, proj.NotFull.Equal(decimal.NewFromInt(8)))

	require.Len(t, seen, 2)
	assert.Equal(t, "-1000000000000000000", chaintest.Arg(seen[0], 1).String())
	assert.Equal(t, "-500000000000000000000", chaintest.Arg(seen[0], 2).String())
}
