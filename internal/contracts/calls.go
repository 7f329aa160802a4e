package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
)

// Method names shared with fakes and metrics.
const (
	MethodCalculateDebtN1     = "calculate_debt_n1"
	MethodMaxBorrowable       = "max_borrowable"
	MethodMinCollateral       = "min_collateral"
	MethodLoanExists          = "loan_exists"
	MethodUserState           = "user_state"
	MethodUserPrices          = "user_prices"
	MethodTotalDebt           = "total_debt"
	MethodTokensToLiquidate   = "tokens_to_liquidate"
	MethodHealth              = "health"
	MethodHealthCalculator    = "health_calculator"
	MethodReadUserTickNumbers = "read_user_tick_numbers"
	MethodGetDy               = "get_dy"
	MethodGetDxDy             = "get_dxdy"
	MethodAdminFeesX          = "admin_fees_x"
	MethodAdminFeesY          = "admin_fees_y"
	MethodGetBasePrice        = "get_base_price"
	MethodPriceOracle         = "price_oracle"
	MethodGetP                = "get_p"
	MethodActiveBand          = "active_band"
	MethodMinBand             = "min_band"
	MethodMaxBand             = "max_band"
	MethodBandsX              = "bands_x"
	MethodBandsY              = "bands_y"
	MethodGetCollateral       = "get_collateral"
	MethodGetStablecoins      = "get_stablecoins"
	MethodBalanceOf           = "balanceOf"
)

// MaxUint256 is the largest uint256, used to ask the AMM for everything it can fill.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func n256(n int) *big.Int { return big.NewInt(int64(n)) }

// Controller builds calls against a market controller.
type Controller struct {
	Address common.Address
}

func (c Controller) call(method string, args ...any) chain.Call {
	return chain.Call{To: c.Address, ABI: controllerABI, Method: method, Args: args}
}

func (c Controller) CalculateDebtN1(collateral, debt *big.Int, n int) chain.Call {
	return c.call(MethodCalculateDebtN1, collateral, debt, n256(n))
}

func (c Controller) MaxBorrowable(collateral *big.Int, n int) chain.Call {
	return c.call(MethodMaxBorrowable, collateral, n256(n))
}

func (c Controller) MinCollateral(debt *big.Int, n int) chain.Call {
	return c.call(MethodMinCollateral, debt, n256(n))
}

func (c Controller) LoanExists(user common.Address) chain.Call {
	return c.call(MethodLoanExists, user)
}

// UserState returns [collateral, stablecoin, debt, N].
func (c Controller) UserState(user common.Address) chain.Call {
	return c.call(MethodUserState, user)
}

func (c Controller) UserPrices(user common.Address) chain.Call {
	return c.call(MethodUserPrices, user)
}

func (c Controller) TotalDebt() chain.Call {
	return c.call(MethodTotalDebt)
}

// TokensToLiquidate is the stablecoin a liquidator must bring to close user's loan.
func (c Controller) TokensToLiquidate(user common.Address) chain.Call {
	return c.call(MethodTokensToLiquidate, user)
}

func (c Controller) Health(user common.Address, full bool) chain.Call {
	return c.call(MethodHealth, user, full)
}

// HealthCalculator projects health after signed collateral and debt deltas.
func (c Controller) HealthCalculator(user common.Address, dCollateral, dDebt *big.Int, full bool, n int) chain.Call {
	return c.call(MethodHealthCalculator, user, dCollateral, dDebt, full, n256(n))
}

// AMM builds calls against a market's band AMM.
type AMM struct {
	Address common.Address
}

func (a AMM) call(method string, args ...any) chain.Call {
	return chain.Call{To: a.Address, ABI: ammABI, Method: method, Args: args}
}

func (a AMM) ReadUserTickNumbers(user common.Address) chain.Call {
	return a.call(MethodReadUserTickNumbers, user)
}

func (a AMM) GetDy(i, j int, amount *big.Int) chain.Call {
	return a.call(MethodGetDy, n256(i), n256(j), amount)
}

// GetDxDy returns the input needed for up to outAmount of coin j and the output actually filled.
func (a AMM) GetDxDy(i, j int, outAmount *big.Int) chain.Call {
	return a.call(MethodGetDxDy, n256(i), n256(j), outAmount)
}

func (a AMM) AdminFeesX() chain.Call   { return a.call(MethodAdminFeesX) }
func (a AMM) AdminFeesY() chain.Call   { return a.call(MethodAdminFeesY) }
func (a AMM) GetBasePrice() chain.Call { return a.call(MethodGetBasePrice) }
func (a AMM) PriceOracle() chain.Call  { return a.call(MethodPriceOracle) }
func (a AMM) GetP() chain.Call         { return a.call(MethodGetP) }
func (a AMM) ActiveBand() chain.Call   { return a.call(MethodActiveBand) }
func (a AMM) MinBand() chain.Call      { return a.call(MethodMinBand) }
func (a AMM) MaxBand() chain.Call      { return a.call(MethodMaxBand) }
func (a AMM) BandsX(n int) chain.Call  { return a.call(MethodBandsX, n256(n)) }
func (a AMM) BandsY(n int) chain.Call  { return a.call(MethodBandsY, n256(n)) }

// LeverageZap builds calls against the leverage zap.
type LeverageZap struct {
	Address common.Address
}

func (z LeverageZap) call(method string, args ...any) chain.Call {
	return chain.Call{To: z.Address, ABI: leverageZapABI, Method: method, Args: args}
}

// GetCollateral estimates collateral bought with stablecoin through route.
func (z LeverageZap) GetCollateral(stablecoin *big.Int, route int) chain.Call {
	return z.call(MethodGetCollateral, stablecoin, n256(route))
}

func (z LeverageZap) CalculateDebtN1(collateral, debt *big.Int, n, route int) chain.Call {
	return z.call(MethodCalculateDebtN1, collateral, debt, n256(n), n256(route))
}

// DeleverageZap builds calls against the deleverage zap.
type DeleverageZap struct {
	Address common.Address
}

func (z DeleverageZap) call(method string, args ...any) chain.Call {
	return chain.Call{To: z.Address, ABI: deleverageZapABI, Method: method, Args: args}
}

// GetStablecoins estimates stablecoin received for selling collateral through route.
func (z DeleverageZap) GetStablecoins(collateral *big.Int, route int) chain.Call {
	return z.call(MethodGetStablecoins, collateral, n256(route))
}

func (z DeleverageZap) CalculateDebtN1(collateral *big.Int, route int, user common.Address) chain.Call {
	return z.call(MethodCalculateDebtN1, collateral, n256(route), user)
}

// Token builds calls against an ERC-20 token.
type Token struct {
	Address common.Address
}

func (t Token) BalanceOf(owner common.Address) chain.Call {
	return chain.Call{To: t.Address, ABI: erc20ABI, Method: MethodBalanceOf, Args: []any{owner}}
}

// BigInt decodes a single integer output.
func BigInt(out []any) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("empty output")
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", out[0])
	}
	return v, nil
}

// Int decodes a single integer output that fits an int (band indices, N).
func Int(out []any) (int, error) {
	v, err := BigInt(out)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("output %s does not fit int64", v)
	}
	return int(v.Int64()), nil
}

// Bool decodes a single bool output.
func Bool(out []any) (bool, error) {
	if len(out) == 0 {
		return false, fmt.Errorf("empty output")
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected output type %T", out[0])
	}
	return v, nil
}

// BigInt2 decodes an int256[2] or uint256[2] output.
func BigInt2(out []any) ([2]*big.Int, error) {
	if len(out) == 0 {
		return [2]*big.Int{}, fmt.Errorf("empty output")
	}
	v, ok := out[0].([2]*big.Int)
	if !ok {
		return [2]*big.Int{}, fmt.Errorf("unexpected output type %T", out[0])
	}
	return v, nil
}

// Ints2 decodes an int256[2] output whose elements must fit an int (a band range).
func Ints2(out []any) ([2]int, error) {
	v, err := BigInt2(out)
	if err != nil {
		return [2]int{}, err
	}
	var res [2]int
	for i, x := range v {
		if x == nil || !x.IsInt64() {
			return [2]int{}, fmt.Errorf("output %s does not fit int64", x)
		}
		res[i] = int(x.Int64())
	}
	return res, nil
}

// BigIntPair decodes a function returning two integers.
func BigIntPair(out []any) (*big.Int, *big.Int, error) {
	if len(out) < 2 {
		return nil, nil, fmt.Errorf("expected 2 outputs, got %d", len(out))
	}
	a, ok := out[0].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected output type %T", out[0])
	}
	b, ok := out[1].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected output type %T", out[1])
	}
	return a, b, nil
}

// BigInt4 decodes a uint256[4] output.
func BigInt4(out []any) ([4]*big.Int, error) {
	if len(out) == 0 {
		return [4]*big.Int{}, fmt.Errorf("empty output")
	}
	v, ok := out[0].([4]*big.Int)
	if !ok {
		return [4]*big.Int{}, fmt.Errorf("unexpected output type %T", out[0])
	}
	return v, nil
}
