package quote

import (
	"github.com/shopspring/decimal"
)

// BandRange is the contiguous band interval a loan occupies.
type BandRange struct {
	N1 int
	N2 int
}

// NewBandRange returns the range of n bands starting at n1.
func NewBandRange(n1, n int) BandRange {
	return BandRange{N1: n1, N2: n1 + n - 1}
}

// N returns the number of bands.
func (r BandRange) N() int {
	return r.N2 - r.N1 + 1
}

// Prices are the outer price edges of a band range, upper edge first.
type Prices struct {
	Up   decimal.Decimal // top edge, TickPrice(n1)
	Down decimal.Decimal // bottom edge, TickPrice(n2+1)
}

// SizingQuote is the band placement of one previewed action.
type SizingQuote struct {
	Bands         BandRange
	Prices        Prices
	MaxBorrowable decimal.NullDecimal
	Health        decimal.NullDecimal
}
