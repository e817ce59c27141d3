package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(DefaultProviders(), DefaultModels())
	require.NoError(t, err)
	return r
}

func TestNew_RejectsDuplicateModel(t *testing.T) {
	models := []ModelDescriptor{
		{ID: "dup"}, {ID: "dup"},
	}
	_, err := New(DefaultProviders(), models)
	assert.Error(t, err)
}

func TestNew_RejectsNegativePrice(t *testing.T) {
	models := []ModelDescriptor{
		{ID: "m", Mappings: []ProviderMapping{{ProviderID: "openai", UpstreamModel: "x", InputPrice: -1}}},
	}
	_, err := New(DefaultProviders(), models)
	assert.Error(t, err)
}

func TestGetProviderEndpoint_GoogleEmbedsKeyAndStreamingMethod(t *testing.T) {
	r := testRegistry(t)

	url, err := r.GetProviderEndpoint(EndpointParams{
		ProviderID: "google-ai-studio", Model: "gemini-2.5-flash", APIKey: "k",
	})
	require.NoError(t, err)
	assert.Contains(t, url, ":generateContent?key=k")

	streamURL, err := r.GetProviderEndpoint(EndpointParams{
		ProviderID: "google-ai-studio", Model: "gemini-2.5-flash", APIKey: "k", Stream: true,
	})
	require.NoError(t, err)
	assert.Contains(t, streamURL, ":streamGenerateContent?key=k&alt=sse")
}

func TestGetProviderEndpoint_AnthropicMessages(t *testing.T) {
	r := testRegistry(t)
	url, err := r.GetProviderEndpoint(EndpointParams{ProviderID: "anthropic", Model: "claude-sonnet-4-5"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.anthropic.com/v1/messages", url)
}

func TestGetProviderEndpoint_OpenAISwitchesToResponses(t *testing.T) {
	r := testRegistry(t)

	url, err := r.GetProviderEndpoint(EndpointParams{
		ProviderID: "openai", SupportsReasoning: true, UseResponsesAPI: true,
	})
	require.NoError(t, err)
	assert.Contains(t, url, "/responses")

	url, err = r.GetProviderEndpoint(EndpointParams{
		ProviderID: "openai", SupportsReasoning: true, HasExistingToolCalls: true, UseResponsesAPI: true,
	})
	require.NoError(t, err)
	assert.Contains(t, url, "/chat/completions")

	url, err = r.GetProviderEndpoint(EndpointParams{ProviderID: "deepseek"})
	require.NoError(t, err)
	assert.Contains(t, url, "/chat/completions")
}

func TestGetProviderHeaders(t *testing.T) {
	r := testRegistry(t)

	h, err := r.GetProviderHeaders("anthropic", "tok")
	require.NoError(t, err)
	assert.Equal(t, "tok", h["x-api-key"])
	assert.Equal(t, "2023-06-01", h["anthropic-version"])

	h, err = r.GetProviderHeaders("google-ai-studio", "tok")
	require.NoError(t, err)
	assert.Empty(t, h)

	h, err = r.GetProviderHeaders("openai", "tok")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", h["Authorization"])
}

func TestGetCheapestModelForProvider(t *testing.T) {
	r := testRegistry(t)

	_, mapping, ok := r.GetCheapestModelForProvider("openai", time.Now())
	require.True(t, ok)
	assert.Equal(t, "gpt-x", mapping.UpstreamModel)
}

func TestGetCheapestModelForProvider_SkipsDeactivated(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	models := []ModelDescriptor{
		{
			ID: "dead", DeactivatedAt: &past,
			Mappings: []ProviderMapping{{ProviderID: "openai", UpstreamModel: "dead-model", InputPrice: 0.0000001, OutputPrice: 0.0000001}},
		},
		{
			ID: "alive",
			Mappings: []ProviderMapping{{ProviderID: "openai", UpstreamModel: "alive-model", InputPrice: 1, OutputPrice: 1}},
		},
	}
	r, err := New(DefaultProviders(), models)
	require.NoError(t, err)

	_, mapping, ok := r.GetCheapestModelForProvider("openai", time.Now())
	require.True(t, ok)
	assert.Equal(t, "alive-model", mapping.UpstreamModel)
}

func TestGetCheapestFromAvailableProviders_TieBreaksByEncounterOrder(t *testing.T) {
	a := AvailableMapping{Model: ModelDescriptor{ID: "a"}, Mapping: ProviderMapping{ProviderID: "p1", InputPrice: 1, OutputPrice: 1}}
	b := AvailableMapping{Model: ModelDescriptor{ID: "b"}, Mapping: ProviderMapping{ProviderID: "p2", InputPrice: 1, OutputPrice: 1}}

	best, ok := GetCheapestFromAvailableProviders([]AvailableMapping{a, b})
	require.True(t, ok)
	assert.Equal(t, "p1", best.Mapping.ProviderID)
}

func TestModelDescriptor_DeactivatedAndDeprecated(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	m := ModelDescriptor{DeactivatedAt: &past, DeprecatedAt: &future}
	assert.True(t, m.Deactivated(time.Now()))
	assert.False(t, m.Deprecated(time.Now()))
}
