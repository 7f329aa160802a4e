package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/preview"
)

const quoteTimeout = 30 * time.Second

func init() {
	quoteCmd.PersistentFlags().String("market", "", "market id")
	quoteCmd.PersistentFlags().String("collateral-token", "", "collateral token address, used when --market is empty (0xEeee...EEeE for the native coin)")
	quoteCmd.PersistentFlags().Uint64("chain-id", 0, "chain of --collateral-token (any when 0)")
	quoteCmd.PersistentFlags().String("collateral", "", "collateral amount")
	_ = quoteCmd.MarkPersistentFlagRequired("collateral")

	for _, c := range []*cobra.Command{createLoanCmd, leverageCmd} {
		c.Flags().String("debt", "", "debt amount")
		c.Flags().Int("n", 0, "number of bands (market default when 0)")
		c.Flags().String("user", "", "borrower address (anonymous when empty)")
		_ = c.MarkFlagRequired("debt")
	}

	quoteCmd.AddCommand(createLoanCmd, leverageCmd, maxBorrowableCmd)
	rootCmd.AddCommand(quoteCmd)
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Print one preview and exit",
}

// go run ./cmd/preview quote create-loan --market weth --collateral 1 --debt 1000
var createLoanCmd = &cobra.Command{
	Use:   "create-loan",
	Short: "Preview a new loan",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoanQuote(cmd, false)
	},
}

// go run ./cmd/preview quote leverage --market weth --collateral 1 --debt 1000 --n 10
var leverageCmd = &cobra.Command{
	Use:   "leverage",
	Short: "Preview a leveraged loan through the best swap route",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoanQuote(cmd, true)
	},
}

// go run ./cmd/preview quote max-borrowable --collateral-token 0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE --collateral 1
var maxBorrowableCmd = &cobra.Command{
	Use:   "max-borrowable",
	Short: "Print the max borrowable debt for every band count",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), quoteTimeout)
		defer cancel()

		collateral, err := collateralAmount(cmd)
		if err != nil {
			return err
		}
		r, _, _, err := setup(ctx, false)
		if err != nil {
			return err
		}
		defer r.Close()

		m, err := resolveMarket(cmd, r.Service().Registry())
		if err != nil {
			return err
		}
		maxes, err := r.Service().MaxBorrowable(ctx, m.ID, collateral)
		if err != nil {
			return err
		}

		ns := make([]int, 0, len(maxes))
		for n := range maxes {
			ns = append(ns, n)
		}
		sort.Ints(ns)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "N\tMAX BORROWABLE")
		for _, n := range ns {
			fmt.Fprintf(w, "%d\t%s\n", n, maxes[n].StringFixed(2))
		}
		return w.Flush()
	},
}

func collateralAmount(cmd *cobra.Command) (decimal.Decimal, error) {
	raw, err := cmd.Flags().GetString("collateral")
	if err != nil {
		return decimal.Zero, err
	}
	collateral, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, market.Validationf("collateral is not a number: %q", raw)
	}
	return collateral, nil
}

// resolveMarket picks the market from --market, or from --collateral-token and --chain-id.
func resolveMarket(cmd *cobra.Command, reg *market.Registry) (market.Config, error) {
	id, _ := cmd.Flags().GetString("market")
	rawToken, _ := cmd.Flags().GetString("collateral-token")
	chainID, _ := cmd.Flags().GetUint64("chain-id")

	var token common.Address
	if rawToken != "" {
		if !common.IsHexAddress(rawToken) {
			return market.Config{}, market.Validationf("collateral-token is not an address: %q", rawToken)
		}
		token = common.HexToAddress(rawToken)
	}
	return reg.Resolve(id, chainID, token)
}

func runLoanQuote(cmd *cobra.Command, leverage bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), quoteTimeout)
	defer cancel()

	collateral, err := collateralAmount(cmd)
	if err != nil {
		return err
	}
	rawDebt, _ := cmd.Flags().GetString("debt")
	debt, err := decimal.NewFromString(rawDebt)
	if err != nil {
		return market.Validationf("debt is not a number: %q", rawDebt)
	}
	n, _ := cmd.Flags().GetInt("n")
	rawUser, _ := cmd.Flags().GetString("user")
	var user common.Address
	if rawUser != "" {
		if !common.IsHexAddress(rawUser) {
			return market.Validationf("user is not an address: %q", rawUser)
		}
		user = common.HexToAddress(rawUser)
	}

	r, _, _, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer r.Close()

	m, err := resolveMarket(cmd, r.Service().Registry())
	if err != nil {
		return err
	}
	if n == 0 {
		n = m.DefaultBands
	}

	var p preview.Preview
	if leverage {
		p, err = r.Service().LeverageCreateLoan(ctx, m.ID, user, collateral, debt, n)
	} else {
		p, err = r.Service().CreateLoan(ctx, m.ID, user, collateral, debt, n)
	}
	if err != nil {
		return err
	}
	return printPreview(cmd.OutOrStdout(), p)
}

func printPreview(out io.Writer, p preview.Preview) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "market\t%s\n", p.Market)
	fmt.Fprintf(w, "action\t%s\n", p.Action)
	fmt.Fprintf(w, "collateral\t%s\n", p.Collateral)
	if p.TotalCollateral.Valid {
		fmt.Fprintf(w, "total collateral\t%s\n", p.TotalCollateral.Decimal)
	}
	fmt.Fprintf(w, "debt\t%s\n", p.Debt)
	fmt.Fprintf(w, "bands\t%d..%d (%d)\n", p.Bands.N1, p.Bands.N2, p.Bands.N())
	fmt.Fprintf(w, "liquidation range\t%s - %s\n", p.Prices.Up.StringFixed(2), p.Prices.Down.StringFixed(2))
	fmt.Fprintf(w, "range width\t%s%%\n", p.RangeWidthPct.StringFixed(2))
	fmt.Fprintf(w, "health\t%s%% (full %s%%)\n", p.Health.NotFull.StringFixed(4), p.Health.Full.StringFixed(4))
	if p.MaxBorrowable.Valid {
		fmt.Fprintf(w, "max borrowable\t%s\n", p.MaxBorrowable.Decimal.StringFixed(2))
	}
	if p.PriceImpact.Valid {
		fmt.Fprintf(w, "price impact\t%s%%\n", p.PriceImpact.Decimal)
	}
	if p.Route != nil {
		fmt.Fprintf(w, "route\t%s (#%d)\n", p.Route.Choice.Name, p.Route.Choice.Index)
	}
	if p.Attestation != nil {
		fmt.Fprintf(w, "attestation\t%s by %s until %d\n", p.Attestation.Signature, p.Attestation.Signer.Hex(), p.Attestation.ValidUntil)
	}
	return w.Flush()
}
