package normalizer

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// labelFixedPayoutEntries detects fixed-payout ("pick'em") boards and
// labels each of their line levels against the market consensus.
//
// A source is treated as fixed-payout for a subject/market when it quotes
// only Over sides. Each level then becomes its own entry with a variant
// label derived from the baseline: the arithmetic mean of the standard
// (two-sided) lines the other sources quote for the same subject/market.
// Levels above the baseline are upward variants, levels at or below it
// downward. With no baseline available the over price's sign decides:
// plus-money marks the harder, upward rung.
func labelFixedPayoutEntries(props map[string]map[string]map[string][]models.PropEntry) {
	baselines := consensusBaselines(props)

	for _, subjects := range props {
		for subject, markets := range subjects {
			for statKey, entries := range markets {
				if !isFixedPayout(entries) {
					continue
				}

				baseline, hasBaseline := baselines[subject+"|"+statKey]
				for i := range entries {
					entries[i].IsFixedPayout = true
					if hasBaseline {
						if entries[i].Line > baseline {
							entries[i].Variant = models.VariantUpward
						} else {
							entries[i].Variant = models.VariantDownward
						}
					} else if strings.HasPrefix(entries[i].Over, "+") {
						entries[i].Variant = models.VariantUpward
					} else {
						entries[i].Variant = models.VariantDownward
					}
				}
			}
		}
	}
}

// isFixedPayout reports whether an entry list is one-sided: at least one
// priced Over and no Under anywhere.
func isFixedPayout(entries []models.PropEntry) bool {
	if len(entries) == 0 {
		return false
	}
	hasOver := false
	for _, e := range entries {
		if e.Under != models.PriceUnavailable {
			return false
		}
		if e.Over != models.PriceUnavailable {
			hasOver = true
		}
	}
	return hasOver
}

// consensusBaselines averages the standard two-sided lines per
// subject/market across all sources.
func consensusBaselines(props map[string]map[string]map[string][]models.PropEntry) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)

	for _, subjects := range props {
		for subject, markets := range subjects {
			for statKey, entries := range markets {
				if isFixedPayout(entries) {
					continue
				}
				for _, e := range entries {
					if e.Over == models.PriceUnavailable || e.Under == models.PriceUnavailable {
						continue
					}
					key := subject + "|" + statKey
					sums[key] += e.Line
					counts[key]++
				}
			}
		}
	}

	baselines := make(map[string]float64, len(counts))
	for key, count := range counts {
		baselines[key] = sums[key] / float64(count)
	}
	return baselines
}

// formatPrice renders an American price with its sign, or the sentinel.
func formatPrice(price *float64) string {
	if price == nil {
		return models.PriceUnavailable
	}
	return fmt.Sprintf("%+d", int(math.Round(*price)))
}

// formatLine renders a line value without trailing zeros, or the sentinel.
func formatLine(point *float64) string {
	if point == nil {
		return models.PriceUnavailable
	}
	return strconv.FormatFloat(*point, 'f', -1, 64)
}
