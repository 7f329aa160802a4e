package ws

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/depth"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/health"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/preview"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/quote"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/route"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/stats"
)

func nullable(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func bandsResult(b quote.BandRange) map[string]any {
	return map[string]any{"n1": b.N1, "n2": b.N2, "n": b.N()}
}

// pricesResult carries the edges by name and as an [upper, lower] pair.
func pricesResult(p quote.Prices) map[string]any {
	return map[string]any{
		"up":    p.Up.String(),
		"down":  p.Down.String(),
		"range": []any{p.Up.String(), p.Down.String()},
	}
}

func healthResult(h health.Projection) map[string]any {
	return map[string]any{"full": h.Full.String(), "notFull": h.NotFull.String()}
}

func routeResult(sel *route.Selection) map[string]any {
	outputs := make([]any, len(sel.Outputs))
	for i, o := range sel.Outputs {
		if o.Available {
			outputs[i] = o.Value.String()
		}
	}
	return map[string]any{
		"index":   sel.Choice.Index,
		"name":    sel.Choice.Name,
		"outputs": outputs,
	}
}

func previewResult(p preview.Preview) map[string]any {
	out := map[string]any{
		"id":              p.ID,
		"action":          string(p.Action),
		"user":            p.User.Hex(),
		"collateral":      p.Collateral.String(),
		"debt":            p.Debt.String(),
		"totalCollateral": nullable(p.TotalCollateral),
		"bands":           bandsResult(p.Bands),
		"prices":          pricesResult(p.Prices),
		"rangeWidthPct":   p.RangeWidthPct.String(),
		"health":          healthResult(p.Health),
		"maxBorrowable":   nullable(p.MaxBorrowable),
		"maxRemovable":    nullable(p.MaxRemovable),
		"priceImpact":     nullable(p.PriceImpact),
		"fullRepayment":   p.FullRepayment,
	}
	if p.Route != nil {
		out["route"] = routeResult(p.Route)
	}
	if p.Attestation != nil {
		out["attestation"] = map[string]any{
			"signer":     p.Attestation.Signer.Hex(),
			"signature":  p.Attestation.Signature,
			"validUntil": p.Attestation.ValidUntil,
		}
	}
	return out
}

func swapResult(sp preview.SwapPreview) map[string]any {
	return map[string]any{
		"id":           sp.ID,
		"i":            sp.In,
		"j":            sp.Out,
		"amount":       sp.Amount.String(),
		"expected":     sp.Expected.String(),
		"priceImpact":  sp.PriceImpact.String(),
		"maxSwappable": sp.MaxSwappable.String(),
	}
}

func rangesResult(t preview.RangeTable) map[string]any {
	quotes := make(map[string]any, len(t.Quotes))
	for n, q := range t.Quotes {
		if q == nil {
			quotes[strconv.Itoa(n)] = nil
			continue
		}
		quotes[strconv.Itoa(n)] = map[string]any{
			"bands":         bandsResult(q.Bands),
			"prices":        pricesResult(q.Prices),
			"maxBorrowable": nullable(q.MaxBorrowable),
		}
	}
	return map[string]any{"maxRange": t.MaxRange, "quotes": quotes}
}

func maxBorrowableResult(m map[int]decimal.Decimal) map[string]any {
	out := make(map[string]any, len(m))
	for n, v := range m {
		out[strconv.Itoa(n)] = v.String()
	}
	return map[string]any{"maxBorrowable": out}
}

func userStatsResult(s preview.UserStats) map[string]any {
	pos := s.Position
	return map[string]any{
		"collateral": pos.Collateral.String(),
		"stablecoin": pos.Stablecoin.String(),
		"debt":       pos.Debt.String(),
		"n":          pos.N,
		"n1":         pos.N1,
		"n2":         pos.N2,
		"phase":      pos.Phase.String(),
		"prices":     pricesResult(s.Prices),
		"health":     healthResult(s.Health),

		"tokensToLiquidate": nullable(s.TokensToLiquidate),
	}
}

func marketStatsResult(s stats.Stats) map[string]any {
	return map[string]any{
		"totalDebt":         s.TotalDebt.String(),
		"stablecoinBalance": nullable(s.StablecoinBalance),
		"collateralBalance": nullable(s.CollateralBalance),
	}
}

func depthResult(snap *depth.Snapshot) map[string]any {
	bands := make([]any, len(snap.Bands))
	for i, b := range snap.Bands {
		bands[i] = map[string]any{
			"n":          b.N,
			"down":       b.Down.String(),
			"up":         b.Up.String(),
			"stablecoin": b.Stablecoin.String(),
			"collateral": b.Collateral.String(),
		}
	}
	return map[string]any{
		"activeBand":  snap.ActiveBand,
		"oraclePrice": snap.OraclePrice.String(),
		"ammPrice":    snap.AMMPrice.String(),
		"basePrice":   snap.BasePrice.String(),
		"bands":       bands,
	}
}
