package preview

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/health"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/position"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/quote"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/route"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/signer"
)

// Action names a previewable user action.
type Action string

const (
	ActionCreateLoan         Action = "create_loan"
	ActionLeverageCreateLoan Action = "leverage_create_loan"
	ActionBorrowMore         Action = "borrow_more"
	ActionAddCollateral      Action = "add_collateral"
	ActionRemoveCollateral   Action = "remove_collateral"
	ActionRepay              Action = "repay"
	ActionDeleverageRepay    Action = "deleverage_repay"
	ActionSwap               Action = "swap"
)

// Preview is everything a client shows before sending one loan action.
type Preview struct {
	ID     string
	Market string
	Action Action
	User   common.Address

	// Collateral and Debt are the amounts the action was previewed with.
	Collateral decimal.Decimal
	Debt       decimal.Decimal
	// TotalCollateral is user collateral plus what the leverage route buys.
	TotalCollateral decimal.NullDecimal

	Bands         quote.BandRange
	Prices        quote.Prices
	RangeWidthPct decimal.Decimal
	Health        health.Projection

	MaxBorrowable decimal.NullDecimal
	MaxRemovable  decimal.NullDecimal
	PriceImpact   decimal.NullDecimal

	Route         *route.Selection
	FullRepayment bool
	Attestation   *signer.Attestation
}

// SwapPreview is the expected output and slippage of an AMM swap.
type SwapPreview struct {
	ID          string
	Market      string
	In, Out     int
	Amount      decimal.Decimal
	Expected    decimal.Decimal
	PriceImpact decimal.Decimal
	// MaxSwappable is the most of coin In the AMM can fill right now.
	MaxSwappable decimal.Decimal
}

// RangeTable is a loan sized across every admissible band count.
type RangeTable struct {
	Market   string
	MaxRange int
	Quotes   map[int]*quote.SizingQuote // nil past MaxRange
}

// UserStats is a user's current position in one market.
type UserStats struct {
	Market   string
	Position position.Summary
	Prices   quote.Prices
	Health   health.Projection
	// TokensToLiquidate is set only while the position is in soft liquidation.
	TokensToLiquidate decimal.NullDecimal
}
