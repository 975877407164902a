package models

import "strings"

// Tier buckets a model name into a capability/cost class used to select
// which tier of a routing config's account pool can serve a request.
type Tier string

const (
	TierOpus   Tier = "opus"
	TierSonnet Tier = "sonnet"
	TierHaiku  Tier = "haiku"
)

// tierMarkers lists, in check order, the substring that identifies each
// tier within a model name.
var tierMarkers = []struct {
	marker string
	tier   Tier
}{
	{"opus", TierOpus},
	{"sonnet", TierSonnet},
	{"haiku", TierHaiku},
}

// DetectTier infers a model's tier from its name, or "" if none of the
// known markers appear.
func DetectTier(model string) Tier {
	lower := strings.ToLower(model)
	for _, m := range tierMarkers {
		if strings.Contains(lower, m.marker) {
			return m.tier
		}
	}
	return ""
}

// rate is a model's cost in USD per million tokens, [input, output].
type rate [2]float64

// costRates maps known model names to their per-million-token pricing.
var costRates = map[string]rate{
	"claude-opus-4-6-20250219":   {15.0, 75.0},
	"claude-sonnet-4-6-20250219": {3.0, 15.0},
	"claude-haiku-4-5-20251001":  {0.25, 1.25},
	"claude-opus-4-20250514":     {15.0, 75.0},
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-opus-4-6":            {15.0, 75.0},
	"claude-sonnet-4-6":          {3.0, 15.0},
	"gpt-4o":                     {2.5, 10.0},
	"gpt-4o-mini":                {0.15, 0.6},
	"gpt-4.1":                    {2.0, 8.0},
	"o3":                         {10.0, 40.0},
	"o4-mini":                    {1.1, 4.4},
	"deepseek-r1":                {0.55, 2.19},
}

// CostRates exposes the pricing table for callers that want to inspect or
// report on it directly (the admin API's cost-estimate endpoint, tests).
var CostRates = func() map[string][2]float64 {
	m := make(map[string][2]float64, len(costRates))
	for model, r := range costRates {
		m[model] = [2]float64(r)
	}
	return m
}()

// DefaultCostRate is used for models absent from CostRates.
var DefaultCostRate = [2]float64{2.0, 8.0}

// EstimateCost estimates the USD cost of a request given token counts.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	r, ok := costRates[model]
	if !ok {
		r = rate(DefaultCostRate)
	}
	const perMillion = 1_000_000
	return float64(inputTokens)/perMillion*r[0] + float64(outputTokens)/perMillion*r[1]
}
