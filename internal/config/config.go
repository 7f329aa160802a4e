package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/signer"
)

// Config application configuration
type Config struct {
	App     AppConfig      `yaml:"app"`
	Chain   ChainConfig    `yaml:"chain"`
	Signer  SignerConfig   `yaml:"signer"`
	Server  ServerConfig   `yaml:"server"`
	Depth   DepthConfig    `yaml:"depth"`
	Markets []MarketConfig `yaml:"markets"`
}

// AppConfig application basic configuration
type AppConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"logLevel"` // debug, info, warn, error
}

// ChainConfig JSON-RPC endpoint configuration
type ChainConfig struct {
	RPCURL            string        `yaml:"rpcUrl"`
	ChainID           uint64        `yaml:"chainId"`
	Batching          *bool         `yaml:"batching"` // default true
	MaxBatchSize      int           `yaml:"maxBatchSize"`
	Concurrency       int           `yaml:"concurrency"` // parallel single reads when batching is off
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	CallTimeout       time.Duration `yaml:"callTimeout"`
}

// BatchingEnabled reports whether reads are grouped into JSON-RPC batches.
func (c *ChainConfig) BatchingEnabled() bool {
	return c.Batching == nil || *c.Batching
}

// RPCConfig converts to the reader's tuning knobs.
func (c *ChainConfig) RPCConfig() chain.RPCConfig {
	cfg := chain.DefaultRPCConfig()
	cfg.MaxBatchSize = c.MaxBatchSize
	cfg.RequestsPerSecond = c.RequestsPerSecond
	cfg.Burst = c.Burst
	cfg.CallTimeout = c.CallTimeout
	return cfg
}

// SignerConfig attestation signer configuration. Attestations are off when no key is set.
type SignerConfig struct {
	signer.Config `yaml:",inline"`
	Domains       []EIP712Domain `yaml:"domains"`
}

// EIP712Domain EIP-712 Domain configuration
type EIP712Domain struct {
	ChainID           uint64 `yaml:"chainId"`
	Name              string `yaml:"name"`
	Version           string `yaml:"version"`
	VerifyingContract string `yaml:"verifyingContract"`
}

// ServerConfig websocket preview server configuration
type ServerConfig struct {
	ListenAddr        string        `yaml:"listenAddr"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	AttestationTTL    time.Duration `yaml:"attestationTTL"`
}

// DepthConfig depth push configuration
type DepthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PushInterval time.Duration `yaml:"pushInterval"`
	Window       int           `yaml:"window"` // bands on each side of the active band
}

// MarketConfig one lending market
type MarketConfig struct {
	ID                 string   `yaml:"id"`
	ChainID            uint64   `yaml:"chainId"` // defaults to chain.chainId
	Controller         string   `yaml:"controller"`
	AMM                string   `yaml:"amm"`
	Collateral         string   `yaml:"collateral"`
	Stablecoin         string   `yaml:"stablecoin"` // defaults to the chain's known stablecoin
	CollateralSymbol   string   `yaml:"collateralSymbol"`
	CollateralDecimals *int32   `yaml:"collateralDecimals"` // default 18
	A                  int64    `yaml:"A"`
	MinBands           int      `yaml:"minBands"`
	MaxBands           int      `yaml:"maxBands"`
	DefaultBands       int      `yaml:"defaultBands"`
	BasePrice          string   `yaml:"basePrice"` // optional; read from the AMM when empty
	LeverageZap        string   `yaml:"leverageZap"`
	DeleverageZap      string   `yaml:"deleverageZap"`
	RouteNames         []string `yaml:"routeNames"`
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, market.Configf("failed to parse config file: %v", err)
	}

	// Set defaults
	cfg.setDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bandlend-preview"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Chain.MaxBatchSize == 0 {
		c.Chain.MaxBatchSize = 100
	}
	if c.Chain.Concurrency == 0 {
		c.Chain.Concurrency = 8
	}
	if c.Chain.Burst == 0 {
		c.Chain.Burst = 10
	}
	if c.Chain.CallTimeout == 0 {
		c.Chain.CallTimeout = 15 * time.Second
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.HeartbeatInterval == 0 {
		c.Server.HeartbeatInterval = 30 * time.Second
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 90 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.AttestationTTL == 0 {
		c.Server.AttestationTTL = 5 * time.Minute
	}
	if c.Depth.PushInterval == 0 {
		c.Depth.PushInterval = 12 * time.Second
	}
	if c.Depth.Window == 0 {
		c.Depth.Window = 20
	}
	for i := range c.Signer.Domains {
		d := &c.Signer.Domains[i]
		if d.Name == "" {
			d.Name = signer.DefaultDomainName
		}
		if d.Version == "" {
			d.Version = signer.DefaultDomainVersion
		}
	}
	for i := range c.Markets {
		m := &c.Markets[i]
		if m.ChainID == 0 {
			m.ChainID = c.Chain.ChainID
		}
		if m.Stablecoin == "" {
			if addr, ok := market.StablecoinTokens[m.ChainID]; ok {
				m.Stablecoin = addr.Hex()
			}
		}
		if m.CollateralDecimals == nil {
			d := int32(18)
			m.CollateralDecimals = &d
		}
		if m.MinBands == 0 {
			m.MinBands = 4
		}
		if m.MaxBands == 0 {
			m.MaxBands = 50
		}
		if m.DefaultBands == 0 {
			m.DefaultBands = 10
		}
	}
}

// Validate validates configuration
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return market.Configf("chain.rpcUrl is required")
	}
	if c.Chain.ChainID == 0 {
		return market.Configf("chain.chainId is required")
	}
	if c.Chain.MaxBatchSize < 1 {
		return market.Configf("chain.maxBatchSize must be positive")
	}
	if c.Chain.RequestsPerSecond < 0 {
		return market.Configf("chain.requestsPerSecond must not be negative")
	}
	if c.Server.HeartbeatInterval >= c.Server.ReadTimeout {
		return market.Configf("server.heartbeatInterval must be shorter than server.readTimeout")
	}
	if c.Depth.Window < 0 {
		return market.Configf("depth.window must not be negative")
	}
	if c.Signer.Enabled() && len(c.Signer.Domains) == 0 {
		return market.Configf("signer: at least one domain is required when a key is configured")
	}
	for i, domain := range c.Signer.Domains {
		if domain.ChainID == 0 {
			return market.Configf("signer.domains[%d].chainId is required", i)
		}
		if !common.IsHexAddress(domain.VerifyingContract) {
			return market.Configf("signer.domains[%d].verifyingContract is not an address: %q", i, domain.VerifyingContract)
		}
	}
	if len(c.Markets) == 0 {
		return market.Configf("at least one market is required")
	}
	// Market invariants are checked when the registry is built
	_, err := c.Registry()
	return err
}

// Registry builds the market registry.
func (c *Config) Registry() (*market.Registry, error) {
	markets := make([]market.Config, 0, len(c.Markets))
	for i := range c.Markets {
		m, err := c.Markets[i].Market()
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return market.NewRegistry(markets...)
}

// DomainManager builds the EIP-712 domains for attestations.
func (c *Config) DomainManager() *signer.DomainManager {
	dm := signer.NewDomainManager()
	for _, d := range c.Signer.Domains {
		dm.AddDomain(d.ChainID, d.Name, d.Version, common.HexToAddress(d.VerifyingContract))
	}
	return dm
}

// Market converts to the engine's market description.
func (m *MarketConfig) Market() (market.Config, error) {
	out := market.Config{
		ID:               m.ID,
		ChainID:          m.ChainID,
		CollateralSymbol: m.CollateralSymbol,
		A:                m.A,
		MinBands:         m.MinBands,
		MaxBands:         m.MaxBands,
		DefaultBands:     m.DefaultBands,
	}
	if m.CollateralDecimals != nil {
		out.CollateralDecimals = *m.CollateralDecimals
	}

	var err error
	if out.Controller, err = parseAddress(m.ID, "controller", m.Controller, true); err != nil {
		return market.Config{}, err
	}
	if out.AMM, err = parseAddress(m.ID, "amm", m.AMM, true); err != nil {
		return market.Config{}, err
	}
	if out.Collateral, err = parseAddress(m.ID, "collateral", m.Collateral, false); err != nil {
		return market.Config{}, err
	}
	if out.Stablecoin, err = parseAddress(m.ID, "stablecoin", m.Stablecoin, false); err != nil {
		return market.Config{}, err
	}
	if out.LeverageZap, err = parseAddress(m.ID, "leverageZap", m.LeverageZap, false); err != nil {
		return market.Config{}, err
	}
	if out.DeleverageZap, err = parseAddress(m.ID, "deleverageZap", m.DeleverageZap, false); err != nil {
		return market.Config{}, err
	}

	if m.BasePrice != "" {
		out.BasePrice, err = decimal.NewFromString(m.BasePrice)
		if err != nil {
			return market.Config{}, market.Configf("market %s: invalid basePrice %q", m.ID, m.BasePrice)
		}
	}
	if len(m.RouteNames) > market.RouteCount {
		return market.Config{}, market.Configf("market %s: at most %d route names, got %d", m.ID, market.RouteCount, len(m.RouteNames))
	}
	copy(out.RouteNames[:], m.RouteNames)
	return out, nil
}

func parseAddress(id, field, value string, required bool) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return common.Address{}, market.Configf("market %s: %s address is required", id, field)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, market.Configf("market %s: %s is not an address: %q", id, field, value)
	}
	return common.HexToAddress(value), nil
}
