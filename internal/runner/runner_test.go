package runner

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

const baseConfig = `
chain:
  rpcUrl: http://127.0.0.1:1
  chainId: 1
server:
  listenAddr: 127.0.0.1:0
depth:
  enabled: true
  pushInterval: 1s
markets:
  - id: weth
    controller: "0xA920De414eA4Ab66b97dA1bFE9e6EcA7d4219635"
    amm: "0x1681195C176239ac5E72d9aeBaCf5b2492E0C4ee"
    A: 100
`

func TestNew(t *testing.T) {
	cfg, err := config.Parse([]byte(baseConfig))
	require.NoError(t, err)

	r, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"weth"}, r.Service().Registry().IDs())
	e, err := r.Service().Engines("weth")
	require.NoError(t, err)
	assert.NotNil(t, e.Oracle)
}

func TestNew_BadSignerKey(t *testing.T) {
	cfg, err := config.Parse([]byte(baseConfig + `
signer:
  privateKey: "0xnot-a-key"
  domains:
    - chainId: 1
      verifyingContract: "0xA920De414eA4Ab66b97dA1bFE9e6EcA7d4219635"
`))
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, testLogger())
	assert.ErrorContains(t, err, "failed to create signer")
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg, err := config.Parse([]byte(baseConfig))
	require.NoError(t, err)

	r, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_PurgesExpiredCacheEntries(t *testing.T) {
	saved := purgeInterval
	purgeInterval = 5 * time.Millisecond
	defer func() { purgeInterval = saved }()

	cfg, err := config.Parse([]byte(baseConfig))
	require.NoError(t, err)
	r, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	r.cache.Set("weth.bandsAndPrices(1,1000)", 1, time.Millisecond)
	r.cache.Set("weth.bandsAndPrices(2,1000)", 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return r.cache.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
