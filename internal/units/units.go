// Package units converts between human-readable decimal amounts and the raw
// integers contracts expect.
package units

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
)

// ToRaw scales d by 10^decimals and truncates any remaining fraction.
// Negative amounts and amounts that do not fit a uint256 are rejected.
func ToRaw(d decimal.Decimal, decimals int32) (*big.Int, error) {
	if d.IsNegative() {
		return nil, market.Validationf("amount must not be negative: %s", d.String())
	}
	raw := d.Shift(decimals).Truncate(0).BigInt()
	if _, overflow := uint256.FromBig(raw); overflow {
		return nil, market.Validationf("amount %s overflows uint256", d.String())
	}
	return raw, nil
}

// ToRawSigned is ToRaw for int256 deltas.
func ToRawSigned(d decimal.Decimal, decimals int32) (*big.Int, error) {
	raw := d.Shift(decimals).Truncate(0).BigInt()
	abs := new(big.Int).Abs(raw)
	u, overflow := uint256.FromBig(abs)
	// int256 magnitude must stay below 2^255
	if overflow || u.BitLen() > 255 {
		return nil, market.Validationf("amount %s overflows int256", d.String())
	}
	return raw, nil
}

// FromRaw is the inverse of ToRaw.
func FromRaw(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// Stablecoin converts a stablecoin amount to its raw form.
func Stablecoin(d decimal.Decimal) (*big.Int, error) {
	return ToRaw(d, market.StablecoinDecimals)
}

// FromStablecoin converts a raw stablecoin amount back.
func FromStablecoin(raw *big.Int) decimal.Decimal {
	return FromRaw(raw, market.StablecoinDecimals)
}
