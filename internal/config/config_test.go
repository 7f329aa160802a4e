package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
)

const sample = `
app:
  logLevel: debug
chain:
  rpcUrl: http://localhost:8545
  chainId: 1
  requestsPerSecond: 20
signer:
  privateKeyEnv: PREVIEW_SIGNER_KEY
  domains:
    - chainId: 1
      verifyingContract: "0xA920De414eA4Ab66b97dA1bFE9e6EcA7d4219635"
markets:
  - id: weth
    controller: "0xA920De414eA4Ab66b97dA1bFE9e6EcA7d4219635"
    amm: "0x1681195C176239ac5E72d9aeBaCf5b2492E0C4ee"
    collateral: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
    collateralSymbol: WETH
    A: 100
    leverageZap: "0x0000000000000000000000000000000000000010"
    routeNames: [curve, 1inch]
  - id: wbtc
    controller: "0x4e59541306910aD6dC1daC0AC9dFB29bD9F15c67"
    amm: "0xE0438Eb3703bF871E31Ce639bd351109c88666ea"
    collateralDecimals: 8
    A: 100
    minBands: 5
    maxBands: 40
    defaultBands: 5
    basePrice: "30000"
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "bandlend-preview", cfg.App.Name)
	assert.True(t, cfg.Chain.BatchingEnabled())
	assert.Equal(t, 100, cfg.Chain.MaxBatchSize)
	assert.Equal(t, 15*time.Second, cfg.Chain.CallTimeout)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, 90*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 20, cfg.Depth.Window)
	assert.Equal(t, "BandLend Preview", cfg.Signer.Domains[0].Name)
	assert.Equal(t, "PREVIEW_SIGNER_KEY", cfg.Signer.PrivateKeyEnv)
	assert.True(t, cfg.Signer.Enabled())

	rpc := cfg.Chain.RPCConfig()
	assert.Equal(t, 20.0, rpc.RequestsPerSecond)
	assert.Equal(t, "latest", rpc.BlockTag)
}

func TestRegistry(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, []string{"wbtc", "weth"}, reg.IDs())

	weth, ok := reg.Get("weth")
	require.True(t, ok)
	assert.Equal(t, uint64(1), weth.ChainID)
	assert.Equal(t, int32(18), weth.CollateralDecimals)
	assert.Equal(t, 4, weth.MinBands)
	assert.Equal(t, 50, weth.MaxBands)
	assert.Equal(t, 10, weth.DefaultBands)
	assert.True(t, weth.HasLeverage())
	assert.False(t, weth.HasDeleverage())
	assert.Equal(t, "1inch", weth.RouteName(1))
	assert.Equal(t, "", weth.RouteName(2))
	assert.True(t, weth.BasePrice.IsZero())
	assert.Equal(t, market.StablecoinTokens[1], weth.Stablecoin, "chain default")

	wbtc, ok := reg.Get("wbtc")
	require.True(t, ok)
	assert.Equal(t, int32(8), wbtc.CollateralDecimals)
	assert.Equal(t, "30000", wbtc.BasePrice.String())
	assert.Equal(t, 5, wbtc.DefaultBands)
}

func TestDomainManager(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	dm := cfg.DomainManager()
	require.True(t, dm.HasDomain(1))
	assert.Equal(t, common.HexToAddress("0xA920De414eA4Ab66b97dA1bFE9e6EcA7d4219635"), dm.Domain(1).VerifyingContract)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Markets, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing rpc", "chain: {chainId: 1}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100}]"},
		{"missing chain id", "chain: {rpcUrl: x}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100}]"},
		{"no markets", "chain: {rpcUrl: x, chainId: 1}"},
		{"bad address", "chain: {rpcUrl: x, chainId: 1}\nmarkets: [{id: a, controller: 'nope', amm: '0x0000000000000000000000000000000000000002', A: 100}]"},
		{"missing amm", "chain: {rpcUrl: x, chainId: 1}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', A: 100}]"},
		{"bad A", "chain: {rpcUrl: x, chainId: 1}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 1}]"},
		{"bad bands", "chain: {rpcUrl: x, chainId: 1}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100, minBands: 10, maxBands: 5}]"},
		{"bad base price", "chain: {rpcUrl: x, chainId: 1}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100, basePrice: abc}]"},
		{"too many routes", "chain: {rpcUrl: x, chainId: 1}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100, routeNames: [a, b, c, d, e, f]}]"},
		{"duplicate market", "chain: {rpcUrl: x, chainId: 1}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100}, {id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100}]"},
		{"key without domain", "chain: {rpcUrl: x, chainId: 1}\nsigner: {privateKey: '0x0000000000000000000000000000000000000001'}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100}]"},
		{"heartbeat too slow", "chain: {rpcUrl: x, chainId: 1}\nserver: {heartbeatInterval: 2m, readTimeout: 1m}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100}]"},
		{"bad stablecoin", "chain: {rpcUrl: x, chainId: 1}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100, stablecoin: '0x12'}]"},
		{"malformed", "chain: [1, 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, market.ErrConfig), "got %v", err)
		})
	}
}

func TestBatchingDisabled(t *testing.T) {
	cfg, err := Parse([]byte("chain: {rpcUrl: x, chainId: 1, batching: false}\nmarkets: [{id: a, controller: '0x0000000000000000000000000000000000000001', amm: '0x0000000000000000000000000000000000000002', A: 100}]"))
	require.NoError(t, err)
	assert.False(t, cfg.Chain.BatchingEnabled())
	assert.Equal(t, 8, cfg.Chain.Concurrency)
}
