// Package position reads a borrower's on-chain loan state.
package position

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/contracts"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/units"
)

// Phase is the externally observed loan state. A closed loan reads the same as NoLoan.
type Phase int

const (
	NoLoan Phase = iota
	Active
	InLiquidation
)

func (p Phase) String() string {
	switch p {
	case NoLoan:
		return "NoLoan"
	case Active:
		return "Active"
	case InLiquidation:
		return "InLiquidation"
	default:
		return "Unknown"
	}
}

// State is a user's position in raw contract units.
type State struct {
	User       common.Address
	Collateral *big.Int
	Stablecoin *big.Int // non-zero once soft liquidation has converted collateral
	Debt       *big.Int
	N          int
	N1, N2     int
}

// Phase derives the loan phase from debt and stablecoin residue.
func (s State) Phase() Phase {
	if s.Debt == nil || s.Debt.Sign() == 0 {
		return NoLoan
	}
	if s.Stablecoin != nil && s.Stablecoin.Sign() > 0 {
		return InLiquidation
	}
	return Active
}

// Summary is State in human units.
type Summary struct {
	Collateral decimal.Decimal
	Stablecoin decimal.Decimal
	Debt       decimal.Decimal
	N          int
	N1, N2     int
	Phase      Phase
}

// Summary converts s using the market's collateral precision.
func (s State) Summary(collateralDecimals int32) Summary {
	return Summary{
		Collateral: units.FromRaw(s.Collateral, collateralDecimals),
		Stablecoin: units.FromStablecoin(s.Stablecoin),
		Debt:       units.FromStablecoin(s.Debt),
		N:          s.N,
		N1:         s.N1,
		N2:         s.N2,
		Phase:      s.Phase(),
	}
}

// Reader performs the delegated state reads for one market.
type Reader struct {
	market     market.Config
	reader     chain.Reader
	controller contracts.Controller
	amm        contracts.AMM
}

// NewReader creates a position reader.
func NewReader(m market.Config, r chain.Reader) *Reader {
	return &Reader{
		market:     m,
		reader:     r,
		controller: contracts.Controller{Address: m.Controller},
		amm:        contracts.AMM{Address: m.AMM},
	}
}

// State reads user_state and the user's tick numbers in one batch.
// N is derived from the ticks as n2 - n1 + 1.
func (r *Reader) State(ctx context.Context, user common.Address) (State, error) {
	calls := []chain.Call{r.controller.UserState(user), r.amm.ReadUserTickNumbers(user)}
	results, err := r.reader.ReadBatch(ctx, calls)
	if err != nil {
		return State{}, market.Upstream(chain.BatchOp(calls), err)
	}

	us, err := contracts.BigInt4(results[0])
	if err != nil {
		return State{}, fmt.Errorf("decode user_state: %w", err)
	}
	ticks, err := contracts.Ints2(results[1])
	if err != nil {
		return State{}, fmt.Errorf("decode read_user_tick_numbers: %w", err)
	}

	s := State{
		User:       user,
		Collateral: us[0],
		Stablecoin: us[1],
		Debt:       us[2],
		N1:         ticks[0],
		N2:         ticks[1],
	}
	if s.Debt.Sign() > 0 {
		s.N = s.N2 - s.N1 + 1
	}
	return s, nil
}

// Existing is State that fails with a precondition error when the user has no loan.
func (r *Reader) Existing(ctx context.Context, user common.Address) (State, error) {
	s, err := r.State(ctx, user)
	if err != nil {
		return State{}, err
	}
	if s.Phase() == NoLoan {
		return State{}, market.Preconditionf("loan for %s does not exist", user.Hex())
	}
	return s, nil
}

// LoanExists reads loan_exists.
func (r *Reader) LoanExists(ctx context.Context, user common.Address) (bool, error) {
	out, err := r.reader.Read(ctx, r.controller.LoanExists(user))
	if err != nil {
		return false, market.Upstream(contracts.MethodLoanExists, err)
	}
	return contracts.Bool(out)
}

// UserPrices returns the user's liquidation range prices, upper edge first.
func (r *Reader) UserPrices(ctx context.Context, user common.Address) (up, down decimal.Decimal, err error) {
	out, err := r.reader.Read(ctx, r.controller.UserPrices(user))
	if err != nil {
		return decimal.Zero, decimal.Zero, market.Upstream(contracts.MethodUserPrices, err)
	}
	p, err := contracts.BigInt2(out)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return units.FromRaw(p[0], 18), units.FromRaw(p[1], 18), nil
}

// UserBands reads the user's band range. Both ends are zero when there is no loan.
func (r *Reader) UserBands(ctx context.Context, user common.Address) (n1, n2 int, err error) {
	out, err := r.reader.Read(ctx, r.amm.ReadUserTickNumbers(user))
	if err != nil {
		return 0, 0, market.Upstream(contracts.MethodReadUserTickNumbers, err)
	}
	ticks, err := contracts.Ints2(out)
	if err != nil {
		return 0, 0, fmt.Errorf("decode read_user_tick_numbers: %w", err)
	}
	return ticks[0], ticks[1], nil
}

// TokensToLiquidate is the stablecoin needed to liquidate user's loan.
func (r *Reader) TokensToLiquidate(ctx context.Context, user common.Address) (decimal.Decimal, error) {
	out, err := r.reader.Read(ctx, r.controller.TokensToLiquidate(user))
	if err != nil {
		return decimal.Zero, market.Upstream(contracts.MethodTokensToLiquidate, err)
	}
	v, err := contracts.BigInt(out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode tokens_to_liquidate: %w", err)
	}
	return units.FromStablecoin(v), nil
}
