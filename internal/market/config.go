package market

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// RouteCount is the fixed number of swap routes a leverage or deleverage zap exposes.
const RouteCount = 5

// StablecoinDecimals is the precision of the borrowed stablecoin.
const StablecoinDecimals int32 = 18

// StablecoinTokens maps chain IDs to the address of the borrowed stablecoin.
var StablecoinTokens = map[uint64]common.Address{
	1: common.HexToAddress("0xf939E0A03FB07F59A73314E73794Be0E57ac1b4E"), // crvUSD
}

// Config describes one lending market. It is immutable after the Registry is built.
type Config struct {
	ID                 string
	ChainID            uint64
	Controller         common.Address
	AMM                common.Address
	Collateral         common.Address
	Stablecoin         common.Address // zero when pool balances are not read
	CollateralSymbol   string
	CollateralDecimals int32

	A            int64 // band amplification; (A-1)/A is the price ratio between bands
	MinBands     int
	MaxBands     int
	DefaultBands int

	// BasePrice, when non-zero, is used instead of reading get_base_price from the AMM.
	BasePrice decimal.Decimal

	LeverageZap   common.Address // zero when the market has no leverage routes
	DeleverageZap common.Address // zero when the market has no deleverage routes
	RouteNames    [RouteCount]string
}

// HasLeverage reports whether leverage routes are configured.
func (c *Config) HasLeverage() bool {
	return c.LeverageZap != (common.Address{})
}

// HasDeleverage reports whether deleverage routes are configured.
func (c *Config) HasDeleverage() bool {
	return c.DeleverageZap != (common.Address{})
}

// RouteName returns the display name of route slot i.
func (c *Config) RouteName(i int) string {
	if i < 0 || i >= RouteCount {
		return ""
	}
	return c.RouteNames[i]
}

// BandCounts returns every admissible band count in ascending order.
func (c *Config) BandCounts() []int {
	out := make([]int, 0, c.MaxBands-c.MinBands+1)
	for n := c.MinBands; n <= c.MaxBands; n++ {
		out = append(out, n)
	}
	return out
}

// Validate checks the invariants every component relies on.
func (c *Config) Validate() error {
	if c.ID == "" {
		return Configf("market id is required")
	}
	if c.Controller == (common.Address{}) {
		return Configf("market %s: controller address is required", c.ID)
	}
	if c.AMM == (common.Address{}) {
		return Configf("market %s: amm address is required", c.ID)
	}
	if c.A <= 1 {
		return Configf("market %s: A must be greater than 1, got %d", c.ID, c.A)
	}
	if c.CollateralDecimals < 0 || c.CollateralDecimals > 36 {
		return Configf("market %s: collateral decimals out of range: %d", c.ID, c.CollateralDecimals)
	}
	if c.MinBands < 1 || c.MaxBands < c.MinBands {
		return Configf("market %s: invalid band limits [%d, %d]", c.ID, c.MinBands, c.MaxBands)
	}
	if c.DefaultBands < c.MinBands || c.DefaultBands > c.MaxBands {
		return Configf("market %s: default bands %d outside [%d, %d]", c.ID, c.DefaultBands, c.MinBands, c.MaxBands)
	}
	if c.BasePrice.IsNegative() {
		return Configf("market %s: base price must not be negative", c.ID)
	}
	return nil
}
