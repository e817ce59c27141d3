// Package usage implements token accounting and the cost formula (§4.5):
// token counts normalized per provider, an estimator fallback for requests
// where the upstream never reports usage, and the cost computation the
// Finalization Worker applies to every logged request.
package usage

import "github.com/llmgateway/core/internal/registry"

// Totals is the normalized token accounting for one request. PromptTokens
// includes the cached tokens; Cost subtracts CachedTokens from it itself.
type Totals struct {
	PromptTokens     int
	CachedTokens     int
	CompletionTokens int
	ReasoningTokens  int
}

// Cost computes the dollar cost of one request from its token totals and
// the provider mapping's prices, applying the exact formula from §4.5:
//
//	inputCost  = (prompt - cached) * inputPrice + cached * cachedInputPrice
//	outputCost = (completion + reasoning) * outputPrice
//	cost       = (inputCost + outputCost + requestPrice) * discount
//
// cachedInputPrice defaults to inputPrice when the mapping doesn't set one.
func Cost(t Totals, mapping registry.ProviderMapping) float64 {
	cachedPrice := mapping.InputPrice
	if mapping.CachedInputPrice != nil {
		cachedPrice = *mapping.CachedInputPrice
	}

	nonCached := t.PromptTokens - t.CachedTokens
	if nonCached < 0 {
		nonCached = 0
	}

	inputCost := float64(nonCached)*mapping.InputPrice + float64(t.CachedTokens)*cachedPrice
	outputCost := float64(t.CompletionTokens+t.ReasoningTokens) * mapping.OutputPrice

	return (inputCost + outputCost + mapping.RequestPrice) * mapping.EffectiveDiscount()
}
