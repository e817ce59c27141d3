package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmgateway/core/internal/registry"
)

func TestCost_BasicFormula(t *testing.T) {
	mapping := registry.ProviderMapping{InputPrice: 0.000002, OutputPrice: 0.000004}
	got := Cost(Totals{PromptTokens: 100, CompletionTokens: 50}, mapping)
	assert.InDelta(t, 100*0.000002+50*0.000004, got, 1e-12)
}

func TestCost_CachedTokensUseCachedPrice(t *testing.T) {
	cached := 0.0000005
	mapping := registry.ProviderMapping{InputPrice: 0.000002, OutputPrice: 0.000004, CachedInputPrice: &cached}
	got := Cost(Totals{PromptTokens: 100, CachedTokens: 40, CompletionTokens: 0}, mapping)
	want := 60*0.000002 + 40*0.0000005
	assert.InDelta(t, want, got, 1e-12)
}

func TestCost_CachedTokensDefaultToInputPriceWhenUnset(t *testing.T) {
	mapping := registry.ProviderMapping{InputPrice: 0.000002, OutputPrice: 0.000004}
	withoutCache := Cost(Totals{PromptTokens: 100, CompletionTokens: 0}, mapping)
	withCache := Cost(Totals{PromptTokens: 100, CachedTokens: 40, CompletionTokens: 0}, mapping)
	assert.InDelta(t, withoutCache, withCache, 1e-12)
}

func TestCost_ReasoningTokensBilledAsOutput(t *testing.T) {
	mapping := registry.ProviderMapping{InputPrice: 0.000002, OutputPrice: 0.000004}
	got := Cost(Totals{PromptTokens: 10, CompletionTokens: 5, ReasoningTokens: 7}, mapping)
	want := 10*0.000002 + 12*0.000004
	assert.InDelta(t, want, got, 1e-12)
}

func TestCost_RequestPriceAndDiscountApplyToTotal(t *testing.T) {
	mapping := registry.ProviderMapping{
		InputPrice: 0.000002, OutputPrice: 0.000004, RequestPrice: 0.01, Discount: 0.5,
	}
	got := Cost(Totals{PromptTokens: 100, CompletionTokens: 50}, mapping)
	want := (100*0.000002 + 50*0.000004 + 0.01) * 0.5
	assert.InDelta(t, want, got, 1e-12)
}

func TestCost_ClampsNegativeNonCachedToZero(t *testing.T) {
	mapping := registry.ProviderMapping{InputPrice: 0.000002, OutputPrice: 0.000004}
	got := Cost(Totals{PromptTokens: 10, CachedTokens: 999, CompletionTokens: 0}, mapping)
	want := 999 * mapping.InputPrice
	assert.InDelta(t, want, got, 1e-12)
}

func TestCost_IsMonotonicInTokenCounts(t *testing.T) {
	mapping := registry.ProviderMapping{InputPrice: 0.000002, OutputPrice: 0.000004}
	small := Cost(Totals{PromptTokens: 10, CompletionTokens: 5}, mapping)
	big := Cost(Totals{PromptTokens: 20, CompletionTokens: 5}, mapping)
	assert.Less(t, small, big)
}
