// Package scan sizes a loan across every admissible band count at once.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/bands"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/cache"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/quote"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/units"
)

// Scanner issues one batched read per scan and memoizes the result.
type Scanner struct {
	market     market.Config
	reader     chain.Reader
	oracle     *bands.Oracle
	cache      *cache.Cache
	controller contracts.Controller
	logger     *slog.Logger
}

// NewScanner creates a scanner for one market.
func NewScanner(m market.Config, reader chain.Reader, oracle *bands.Oracle, c *cache.Cache, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		market:     m,
		reader:     reader,
		oracle:     oracle,
		cache:      c,
		controller: contracts.Controller{Address: m.Controller},
		logger:     logger.With("component", "AllRangesScanner", "market", m.ID),
	}
}

// ScanMaxBorrowable returns max_borrowable(collateral, N) for every N in [MinBands, MaxBands].
func (s *Scanner) ScanMaxBorrowable(ctx context.Context, collateral decimal.Decimal) (map[int]decimal.Decimal, error) {
	collateralRaw, err := units.ToRaw(collateral, s.market.CollateralDecimals)
	if err != nil {
		return nil, err
	}

	maxes, err := cache.Memo(ctx, s.cache, cache.StructuralTTL, s.market.ID+".maxBorrowable", func(ctx context.Context) (map[int]decimal.Decimal, error) {
		counts := s.market.BandCounts()
		calls := make([]chain.Call, len(counts))
		for i, n := range counts {
			calls[i] = s.controller.MaxBorrowable(collateralRaw, n)
		}
		results, err := s.reader.ReadBatch(ctx, calls)
		if err != nil {
			return nil, market.Upstream(chain.BatchOp(calls), err)
		}

		out := make(map[int]decimal.Decimal, len(counts))
		for i, n := range counts {
			raw, err := contracts.BigInt(results[i])
			if err != nil {
				return nil, fmt.Errorf("decode max_borrowable(N=%d): %w", n, err)
			}
			out[n] = units.FromStablecoin(raw)
		}
		s.logger.Debug("max borrowable scanned", "collateral", collateral, "ranges", len(out))
		return out, nil
	}, collateral)
	if err != nil {
		return nil, err
	}
	return copyMaxes(maxes), nil
}

// GetMaxRange returns the largest N before the first band count, scanning upward from
// MinBands, whose max borrowable falls below debt. It returns MaxBands when none does
// and MinBands-1 when even MinBands cannot carry the debt.
func (s *Scanner) GetMaxRange(ctx context.Context, collateral, debt decimal.Decimal) (int, error) {
	maxes, err := s.ScanMaxBorrowable(ctx, collateral)
	if err != nil {
		return 0, err
	}
	for n := s.market.MinBands; n <= s.market.MaxBands; n++ {
		if debt.GreaterThan(maxes[n]) {
			return n - 1, nil
		}
	}
	return s.market.MaxBands, nil
}

// ScanBandsAndPrices quotes every admissible N for (collateral, debt). Entries past the
// max range are nil.
func (s *Scanner) ScanBandsAndPrices(ctx context.Context, collateral, debt decimal.Decimal) (map[int]*quote.SizingQuote, error) {
	if !collateral.IsPositive() || !debt.IsPositive() {
		return nil, market.Validationf("collateral and debt must be positive")
	}
	collateralRaw, err := units.ToRaw(collateral, s.market.CollateralDecimals)
	if err != nil {
		return nil, err
	}
	debtRaw, err := units.Stablecoin(debt)
	if err != nil {
		return nil, err
	}

	scanned, err := cache.Memo(ctx, s.cache, cache.StructuralTTL, s.market.ID+".bandsAndPrices", func(ctx context.Context) (map[int]*quote.SizingQuote, error) {
		maxes, err := s.ScanMaxBorrowable(ctx, collateral)
		if err != nil {
			return nil, err
		}
		maxRange, err := s.GetMaxRange(ctx, collateral, debt)
		if err != nil {
			return nil, err
		}

		out := make(map[int]*quote.SizingQuote, s.market.MaxBands-s.market.MinBands+1)
		for n := s.market.MinBands; n <= s.market.MaxBands; n++ {
			out[n] = nil
		}
		if maxRange < s.market.MinBands {
			return out, nil
		}

		model, err := s.oracle.Model(ctx)
		if err != nil {
			return nil, err
		}
		n1s, err := s.calcN1s(ctx, collateralRaw, debtRaw, maxRange)
		if err != nil {
			return nil, err
		}
		for i, n1 := range n1s {
			n := s.market.MinBands + i
			q := quote.QuoteRange(model, n1, n)
			q.MaxBorrowable = decimal.NewNullDecimal(maxes[n])
			out[n] = &q
		}
		return out, nil
	}, collateral, debt)
	if err != nil {
		return nil, err
	}
	return copyQuotes(scanned), nil
}

func (s *Scanner) calcN1s(ctx context.Context, collateral, debt *big.Int, maxRange int) ([]int, error) {
	calls := make([]chain.Call, 0, maxRange-s.market.MinBands+1)
	for n := s.market.MinBands; n <= maxRange; n++ {
		calls = append(calls, s.controller.CalculateDebtN1(collateral, debt, n))
	}
	results, err := s.reader.ReadBatch(ctx, calls)
	if err != nil {
		return nil, market.Upstream(chain.BatchOp(calls), err)
	}
	n1s := make([]int, len(results))
	for i, out := range results {
		n1, err := contracts.Int(out)
		if err != nil {
			return nil, fmt.Errorf("decode calculate_debt_n1(N=%d): %w", s.market.MinBands+i, err)
		}
		n1s[i] = n1
	}
	return n1s, nil
}

func copyMaxes(in map[int]decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyQuotes(in map[int]*quote.SizingQuote) map[int]*quote.SizingQuote {
	out := make(map[int]*quote.SizingQuote, len(in))
	for k, v := range in {
		if v == nil {
			out[k] = nil
			continue
		}
		q := *v
		out[k] = &q
	}
	return out
}
