// Package preview assembles complete action previews from the per-market engines.
package preview

import (
	"log/slog"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/bands"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/cache"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/chain"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/health"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/impact"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/position"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/quote"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/route"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/scan"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/stats"
)

// Engines bundles every engine of one market over a shared reader and cache.
type Engines struct {
	Config    market.Config
	Oracle    *bands.Oracle
	Positions *position.Reader
	Quotes    *quote.Engine
	Scanner   *scan.Scanner
	Routes    *route.Selector
	Impact    *impact.Estimator
	Health    *health.Projector
	Stats     *stats.Reader
}

// NewEngines wires the engines of m.
func NewEngines(m market.Config, reader chain.Reader, c *cache.Cache, logger *slog.Logger) *Engines {
	oracle := bands.NewOracle(m, reader, c)
	positions := position.NewReader(m, reader)
	hp := health.NewProjector(m, reader, logger)
	return &Engines{
		Config:    m,
		Oracle:    oracle,
		Positions: positions,
		Quotes:    quote.NewEngine(m, reader, oracle, positions, logger),
		Scanner:   scan.NewScanner(m, reader, oracle, c, logger),
		Routes:    route.NewSelector(m, reader, c, oracle, positions, hp, logger),
		Impact:    impact.NewEstimator(m, reader, logger),
		Health:    hp,
		Stats:     stats.NewReader(m, reader, c),
	}
}
