package scan

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
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
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
	}
}

// decreasingMax answers max_borrowable(collateral, N) = 10000 - 100*N stablecoin.
func decreasingMax(call chain.Call) ([]any, error) {
	n := int64(chaintest.ArgInt(call, 1))
	return []any{chaintest.E18(10000 - 100*n)}, nil
}

// fixedMax answers max_borrowable from a table indexed by N - 4.
func fixedMax(values ...int64) chaintest.Handler {
	return func(call chain.Call) ([]any, error) {
		n := chaintest.ArgInt(call, 1)
		if n-4 < len(values) {
			return []any{chaintest.E18(values[n-4])}, nil
		}
		return []any{chaintest.E18(1)}, nil
	}
}

func calcN1(call chain.Call) ([]any, error) {
	return []any{big.NewInt(int64(20 - chaintest.ArgInt(call, 2)))}, nil
}

func newTestScanner(f *chaintest.FakeReader, clock cache.Clock) *Scanner {
	m := testMarket()
	c := cache.New(clock)
	return NewScanner(m, f, bands.NewOracle(m, f, c), c, testLogger())
}

func TestScanMaxBorrowable_OneBatch(t *testing.T) {
	fake := chaintest.New().Handle(contracts.MethodMaxBorrowable, decreasingMax)
	clock := cache.NewManualClock(time.Unix(1700000000, 0))
	s := newTestScanner(fake, clock)
	ctx := context.Background()

	maxes, err := s.ScanMaxBorrowable(ctx, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Len(t, maxes, 47)
	assert.True(t, maxes[4].Equal(decimal.NewFromInt(9600)))
	assert.True(t, maxes[50].Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, 1, fake.Batches())
	assert.Equal(t, 0, fake.Reads())
	assert.Equal(t, 47, fake.Count(contracts.MethodMaxBorrowable))

	// identical call within the TTL hits the cache
	_, err = s.ScanMaxBorrowable(ctx, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.RemoteReads())

	// another collateral is another key
	_, err = s.ScanMaxBorrowable(ctx, decimal.NewFromInt(6))
	require.NoError(t, err)
	assert.Equal(t, 2, fake.RemoteReads())

	clock.Advance(cache.StructuralTTL)
	_, err = s.ScanMaxBorrowable(ctx, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, 3, fake.RemoteReads())
}

func TestScanMaxBorrowable_ResultIsACopy(t *testing.T) {
	fake := chaintest.New().Handle(contracts.MethodMaxBorrowable, decreasingMax)
	s := newTestScanner(fake, nil)

	maxes, err := s.ScanMaxBorrowable(context.Background(), decimal.NewFromInt(5))
	require.NoError(t, err)
	maxes[4] = decimal.Zero

	again, err := s.ScanMaxBorrowable(context.Background(), decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.True(t, again[4].Equal(decimal.NewFromInt(9600)))
}

func TestGetMaxRange(t *testing.T) {
	tests := []struct {
		name string
		debt int64
		want int
	}{
		{"fits every range", 1000, 50},
		{"fails past 40", 6000, 40},
		{"equal to max is allowed", 6000 - 100, 41},
		{"fails at minimum", 9700, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := chaintest.New().Handle(contracts.MethodMaxBorrowable, decreasingMax)
			s := newTestScanner(fake, nil)

			got, err := s.GetMaxRange(context.Background(), decimal.NewFromInt(5), decimal.NewFromInt(tt.debt))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetMaxRange_StopsAtFirstFailure(t *testing.T) {
	// N=5 cannot carry the debt although N=6 could; the scan stops at the first failure.
	fake := chaintest.New().Handle(contracts.MethodMaxBorrowable, fixedMax(5000, 3000, 8000, 8000))
	s := newTestScanner(fake, nil)

	got, err := s.GetMaxRange(context.Background(), decimal.NewFromInt(5), decimal.NewFromInt(4000))
	require.NoError(t, err)
	assert.Equal(t, 4, got)
}

func TestScanBandsAndPrices(t *testing.T) {
	fake := chaintest.New().
		Handle(contracts.MethodMaxBorrowable, decreasingMax).
		Handle(contracts.MethodCalculateDebtN1, calcN1)
	s := newTestScanner(fake, nil)
	model, err := bands.NewModel(100, decimal.NewFromInt(2000))
	require.NoError(t, err)

	got, err := s.ScanBandsAndPrices(context.Background(), decimal.NewFromInt(5), decimal.NewFromInt(6000))
	require.NoError(t, err)
	require.Len(t, got, 47)

	for n := 4; n <= 50; n++ {
		q, ok := got[n]
		require.True(t, ok, "missing key %d", n)
		if n > 40 {
			assert.Nil(t, q, "N=%d beyond max range must be nil", n)
			continue
		}
		require.NotNil(t, q, "N=%d", n)
		assert.Equal(t, 20-n, q.Bands.N1)
		assert.Equal(t, q.Bands.N1+n-1, q.Bands.N2)
		up, down := model.RangePrices(q.Bands.N1, q.Bands.N2)
		assert.True(t, q.Prices.Down.Equal(down))
		assert.True(t, q.Prices.Up.Equal(up))
		assert.True(t, q.MaxBorrowable.Valid)
	}

	assert.Equal(t, 37, fake.Count(contracts.MethodCalculateDebtN1))
	assert.Equal(t, 2, fake.Batches())
	assert.Equal(t, 0, fake.Reads())

	_, err = s.ScanBandsAndPrices(context.Background(), decimal.NewFromInt(5), decimal.NewFromInt(6000))
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Batches())
}

func TestScanBandsAndPrices_NothingFits(t *testing.T) {
	fake := chaintest.New().
		Handle(contracts.MethodMaxBorrowable, decreasingMax).
		Handle(contracts.MethodCalculateDebtN1, calcN1)
	s := newTestScanner(fake, nil)

	got, err := s.ScanBandsAndPrices(context.Background(), decimal.NewFromInt(5), decimal.NewFromInt(20000))
	require.NoError(t, err)
	require.Len(t, got, 47)
	for n, q := range got {
		assert.Nil(t, q, "N=%d", n)
	}
	assert.Equal(t, 0, fake.Count(contracts.MethodCalculateDebtN1))
}

func TestScanBandsAndPrices_Rejects(t *testing.T) {
	fake := chaintest.New()
	s := newTestScanner(fake, nil)

	_, err := s.ScanBandsAndPrices(context.Background(), decimal.Zero, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, market.ErrValidation)
	assert.Equal(t, 0, fake.RemoteReads())
}

func TestScan_BatchFailureIsWhole(t *testing.T) {
	boom := errors.New("header not found")
	fake := chaintest.New().Handle(contracts.MethodMaxBorrowable, func(call chain.Call) ([]any, error) {
		if chaintest.ArgInt(call, 1) == 30 {
			return nil, boom
		}
		return decreasingMax(call)
	})
	s := newTestScanner(fake, nil)

	maxes, err := s.ScanMaxBorrowable(context.Background(), decimal.NewFromInt(5))
	assert.Nil(t, maxes)
	assert.ErrorIs(t, err, market.ErrUpstream)
	assert.ErrorIs(t, err, boom)
}
