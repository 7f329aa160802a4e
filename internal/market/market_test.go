package market

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMarket(id string) Config {
	return Config{
		ID:                 id,
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
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(testMarket("weth"), testMarket("sfrxeth"))
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"sfrxeth", "weth"}, r.IDs())

	m, ok := r.Get("weth")
	require.True(t, ok)
	assert.Equal(t, int64(100), m.A)

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewRegistry_Rejects(t *testing.T) {
	badA := testMarket("a")
	badA.A = 1

	badBands := testMarket("b")
	badBands.DefaultBands = 51

	noController := testMarket("c")
	noController.Controller = common.Address{}

	negativeBase := testMarket("d")
	negativeBase.BasePrice = decimal.NewFromInt(-1)

	tests := []struct {
		name    string
		markets []Config
	}{
		{"A not above one", []Config{badA}},
		{"default bands out of range", []Config{badBands}},
		{"missing controller", []Config{noController}},
		{"negative base price", []Config{negativeBase}},
		{"duplicate id", []Config{testMarket("x"), testMarket("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.markets...)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestRegistry_ByCollateral(t *testing.T) {
	r, err := NewRegistry(testMarket("weth"))
	require.NoError(t, err)

	m, ok := r.ByCollateral(1, NativeAssetSentinel)
	require.True(t, ok)
	assert.Equal(t, "weth", m.ID)

	_, ok = r.ByCollateral(56, NativeAssetSentinel)
	assert.False(t, ok)

	_, ok = r.ByCollateral(1, common.HexToAddress("0x01"))
	assert.False(t, ok)

	m, ok = r.ByCollateral(0, NativeAssetSentinel)
	require.True(t, ok, "zero chain id matches any chain")
	assert.Equal(t, "weth", m.ID)
}

func TestRegistry_Resolve(t *testing.T) {
	r, err := NewRegistry(testMarket("weth"))
	require.NoError(t, err)

	m, err := r.Resolve("weth", 0, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, "weth", m.ID)

	m, err = r.Resolve("", 1, NativeAssetSentinel)
	require.NoError(t, err)
	assert.Equal(t, "weth", m.ID)

	m, err = r.Resolve("", 0, common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"))
	require.NoError(t, err)
	assert.Equal(t, "weth", m.ID)

	_, err = r.Resolve("wbtc", 0, common.Address{})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = r.Resolve("", 0, common.Address{})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = r.Resolve("", 56, NativeAssetSentinel)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIsNativeAsset(t *testing.T) {
	assert.True(t, IsNativeAsset(common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")))
	assert.False(t, IsNativeAsset(common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")))
	assert.False(t, IsNativeAsset(common.Address{}))
}

func TestConfig_BandCounts(t *testing.T) {
	m := testMarket("weth")
	counts := m.BandCounts()
	require.Len(t, counts, 47)
	assert.Equal(t, 4, counts[0])
	assert.Equal(t, 50, counts[46])
}

func TestUpstreamError(t *testing.T) {
	cause := fmt.Errorf("execution reverted")
	err := Upstream("calculate_debt_n1", cause)

	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, "execution reverted", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))

	// wrapping twice keeps the first op
	again := Upstream("other", fmt.Errorf("quote: %w", err))
	var ue *UpstreamError
	require.True(t, errors.As(again, &ue))
	assert.Equal(t, "calculate_debt_n1", ue.Op)

	assert.NoError(t, Upstream("noop", nil))
}
