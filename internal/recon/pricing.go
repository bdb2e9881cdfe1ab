package recon

import (
	"math"

	"marketsync/internal/config"
)

// PricingRule computes the final listing price for a marketplace from the
// catalog base price. The real rule set lives outside this service; the
// engine only consumes the function.
type PricingRule func(basePrice float64, marketplaceTag string) float64

// MarkupPricing builds the default rule: a per-marketplace percentage markup
// over the catalog base price, rounded to kuruş.
func MarkupPricing(marketplaces map[string]config.MarketplaceConfig) PricingRule {
	return func(basePrice float64, marketplaceTag string) float64 {
		if basePrice <= 0 {
			return 0
		}

		markup := 0.0
		if mp, ok := marketplaces[marketplaceTag]; ok {
			markup = mp.MarkupPercent
		}

		final := basePrice * (1 + markup/100)
		return math.Round(final*100) / 100
	}
}
