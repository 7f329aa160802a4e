// Package bands implements the geometric price grid of the band AMM.
package bands

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
)

const (
	// PricePrecision is the number of fractional digits prices are reported with.
	PricePrecision int32 = 18
	// workPrecision is the number of significant digits kept in intermediate results.
	workPrecision int32 = 40
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Model converts band indices to prices for one market. Band n spans
// [TickPrice(n+1), TickPrice(n)]; prices fall as n grows.
type Model struct {
	a     int64
	ratio decimal.Decimal // (A-1)/A
	base  decimal.Decimal
}

// NewModel returns the grid anchored at basePrice.
func NewModel(a int64, basePrice decimal.Decimal) (*Model, error) {
	if a <= 1 {
		return nil, market.Configf("amplification A must be greater than 1, got %d", a)
	}
	ratio := decimal.NewFromInt(a-1).DivRound(decimal.NewFromInt(a), workPrecision)
	return &Model{a: a, ratio: ratio, base: basePrice}, nil
}

// A returns the amplification.
func (m *Model) A() int64 { return m.a }

// BasePrice returns the anchor price of band 0's upper edge.
func (m *Model) BasePrice() decimal.Decimal { return m.base }

// TickPrice returns basePrice * ((A-1)/A)^n.
func (m *Model) TickPrice(n int) decimal.Decimal {
	return m.TickPriceAt(decimal.NewFromInt(int64(n)))
}

// TickPriceAt is TickPrice for a fractional band position.
func (m *Model) TickPriceAt(n decimal.Decimal) decimal.Decimal {
	return m.base.Mul(m.pow(n)).Round(PricePrecision)
}

// BandPrices returns (TickPrice(n+1), TickPrice(n)): the bottom edge first.
func (m *Model) BandPrices(n int) (down, up decimal.Decimal) {
	return m.TickPrice(n + 1), m.TickPrice(n)
}

// RangePrices returns the outer edges of the range [n1, n2], upper edge first.
func (m *Model) RangePrices(n1, n2 int) (up, down decimal.Decimal) {
	return m.TickPrice(n1), m.TickPrice(n2 + 1)
}

// RangeWidthPct returns the price span of n bands as a percentage of the top edge.
func (m *Model) RangeWidthPct(n int) decimal.Decimal {
	return one.Sub(m.pow(decimal.NewFromInt(int64(n)))).Mul(hundred).Round(PricePrecision)
}

// BandOf returns the fractional band position whose upper edge is price.
func (m *Model) BandOf(price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() || !m.base.IsPositive() {
		return decimal.Zero, market.Validationf("price and base price must be positive")
	}
	lnRatio, err := m.ratio.Ln(workPrecision)
	if err != nil {
		return decimal.Zero, err
	}
	lnRel, err := price.DivRound(m.base, workPrecision).Ln(workPrecision)
	if err != nil {
		return decimal.Zero, err
	}
	return lnRel.DivRound(lnRatio, PricePrecision), nil
}

// pow returns ratio^e. The exponent is split into floor(e) and a fraction in [0, 1);
// the integer part is computed by repeated squaring at fixed significance.
//
// PowWithPrecision only fails for a zero or negative base. NewModel keeps the
// ratio in [0.5, 1), so an error here means the Model was built by hand.
func (m *Model) pow(e decimal.Decimal) decimal.Decimal {
	whole := e.Floor()
	result := powInt(m.ratio, whole.BigInt())

	frac := e.Sub(whole)
	if !frac.IsZero() {
		f, err := m.ratio.PowWithPrecision(frac, workPrecision)
		if err != nil {
			panic("bands: fractional power of band ratio: " + err.Error())
		}
		result = roundSig(result.Mul(f))
	}
	return result
}

func powInt(base decimal.Decimal, n *big.Int) decimal.Decimal {
	exp := new(big.Int).Set(n)
	if exp.Sign() < 0 {
		base = one.DivRound(base, workPrecision)
		exp.Neg(exp)
	}

	result := one
	for exp.Sign() > 0 {
		if exp.Bit(0) == 1 {
			result = roundSig(result.Mul(base))
		}
		exp.Rsh(exp, 1)
		if exp.Sign() > 0 {
			base = roundSig(base.Mul(base))
		}
	}
	return result
}

// roundSig keeps workPrecision significant digits.
func roundSig(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return d
	}
	magnitude := int32(d.NumDigits()) + d.Exponent()
	return d.Round(workPrecision - magnitude)
}
