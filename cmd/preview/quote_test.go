package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/health"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/preview"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/quote"
)

func testRegistry(t *testing.T) *market.Registry {
	weth := market.Config{
		ID:                 "weth",
		ChainID:            1,
		Controller:         common.HexToAddress("0x8472A9A7632b173c8Cf3a86D3afec50c35548e76"),
		AMM:                common.HexToAddress("0x136e783846ef68C8Bd00a3369F787dF8d683a696"),
		Collateral:         common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"),
		CollateralSymbol:   "WETH",
		CollateralDecimals: 18,
		A:                  100,
		MinBands:           4,
		MaxBands:           50,
		DefaultBands:       10,
	}
	r, err := market.NewRegistry(weth)
	require.NoError(t, err)
	return r
}

func flagCmd(t *testing.T, args map[string]string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("market", "", "")
	cmd.Flags().String("collateral-token", "", "")
	cmd.Flags().Uint64("chain-id", 0, "")
	for k, v := range args {
		require.NoError(t, cmd.Flags().Set(k, v))
	}
	return cmd
}

func TestResolveMarket(t *testing.T) {
	reg := testRegistry(t)

	m, err := resolveMarket(flagCmd(t, map[string]string{"market": "weth"}), reg)
	require.NoError(t, err)
	assert.Equal(t, "weth", m.ID)

	m, err = resolveMarket(flagCmd(t, map[string]string{
		"collateral-token": "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE",
		"chain-id":         "1",
	}), reg)
	require.NoError(t, err)
	assert.Equal(t, "weth", m.ID)

	_, err = resolveMarket(flagCmd(t, map[string]string{"collateral-token": "weth"}), reg)
	assert.ErrorIs(t, err, market.ErrValidation)

	_, err = resolveMarket(flagCmd(t, nil), reg)
	assert.ErrorIs(t, err, market.ErrValidation)
}

func TestPrintPreview_UpperEdgeFirst(t *testing.T) {
	p := preview.Preview{
		Market:     "weth",
		Action:     preview.ActionCreateLoan,
		Collateral: decimal.NewFromInt(1),
		Debt:       decimal.NewFromInt(1000),
		Bands:      quote.BandRange{N1: 5, N2: 14},
		Prices:     quote.Prices{Up: decimal.NewFromInt(2100), Down: decimal.NewFromInt(1900)},
		Health:     health.Projection{Full: decimal.NewFromInt(40), NotFull: decimal.NewFromInt(35)},
	}

	var buf bytes.Buffer
	require.NoError(t, printPreview(&buf, p))

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(l, "liquidation range") {
			line = l
		}
	}
	require.NotEmpty(t, line)
	assert.True(t, strings.HasSuffix(line, "2100.00 - 1900.00"), "got %q", line)
}
