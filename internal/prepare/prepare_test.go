package prepare

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/registry"
)

func textMessage(role canonical.Role, text string) canonical.ChatMessage {
	raw, _ := json.Marshal(text)
	return canonical.ChatMessage{Role: role, Content: raw}
}

func TestPrepare_OpenAIShape_DropsUnsupportedParams(t *testing.T) {
	temp := 0.9
	req := &canonical.Request{
		Model:       "gpt-x",
		Messages:    []canonical.ChatMessage{textMessage(canonical.RoleUser, "hi")},
		Temperature: &temp,
	}
	mapping := registry.ProviderMapping{
		ProviderID:          "openai",
		UpstreamModel:       "gpt-x",
		SupportedParameters: []registry.Parameter{}, // temperature NOT supported
	}

	p := New(nil)
	prepared, err := p.Prepare(req, mapping)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(prepared.Body, &body))
	assert.NotContains(t, body, "temperature")
	assert.Equal(t, "gpt-x", body["model"])
}

func TestPrepare_OpenAIShape_StreamingForcesIncludeUsage(t *testing.T) {
	req := &canonical.Request{
		Model:    "gpt-x",
		Messages: []canonical.ChatMessage{textMessage(canonical.RoleUser, "hi")},
		Stream:   true,
	}
	mapping := registry.ProviderMapping{ProviderID: "openai", UpstreamModel: "gpt-x"}

	prepared, err := New(nil).Prepare(req, mapping)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(prepared.Body, &body))
	opts, ok := body["stream_options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, opts["include_usage"])
}

func TestPrepare_Anthropic_ExtractsSystemAndDefaultsMaxTokens(t *testing.T) {
	req := &canonical.Request{
		Model: "claude-sonnet",
		Messages: []canonical.ChatMessage{
			textMessage(canonical.RoleSystem, "be terse"),
			textMessage(canonical.RoleUser, "hi"),
		},
	}
	mapping := registry.ProviderMapping{ProviderID: "anthropic", UpstreamModel: "claude-sonnet-4-5"}

	prepared, err := New(nil).Prepare(req, mapping)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", string(prepared.Kind))

	var ar anthropicRequest
	require.NoError(t, json.Unmarshal(prepared.Body, &ar))
	assert.Equal(t, "be terse", ar.System)
	assert.Equal(t, defaultMaxTokens, ar.MaxTokens)
	require.Len(t, ar.Messages, 1)
	assert.Equal(t, "user", ar.Messages[0].Role)
}

func TestPrepare_Anthropic_ReasoningSetsThinkingBudget(t *testing.T) {
	req := &canonical.Request{
		Model:           "claude-sonnet",
		Messages:        []canonical.ChatMessage{textMessage(canonical.RoleUser, "hi")},
		ReasoningEffort: canonical.ReasoningHigh,
	}
	mapping := registry.ProviderMapping{
		ProviderID:          "anthropic",
		UpstreamModel:       "claude-sonnet-4-5",
		SupportedParameters: []registry.Parameter{registry.ParamReasoningEffort},
	}

	prepared, err := New(nil).Prepare(req, mapping)
	require.NoError(t, err)

	var ar anthropicRequest
	require.NoError(t, json.Unmarshal(prepared.Body, &ar))
	require.NotNil(t, ar.Thinking)
	assert.Equal(t, reasoningBudget[canonical.ReasoningHigh], ar.Thinking.BudgetTokens)
	assert.Greater(t, ar.MaxTokens, ar.Thinking.BudgetTokens)
}

func TestPrepare_Google_MapsAssistantRoleAndSystemInstruction(t *testing.T) {
	req := &canonical.Request{
		Model: "gemini-flash",
		Messages: []canonical.ChatMessage{
			textMessage(canonical.RoleSystem, "be terse"),
			textMessage(canonical.RoleUser, "hi"),
			textMessage(canonical.RoleAssistant, "hello"),
		},
	}
	mapping := registry.ProviderMapping{ProviderID: "google-ai-studio", UpstreamModel: "gemini-2.5-flash"}

	prepared, err := New(nil).Prepare(req, mapping)
	require.NoError(t, err)
	assert.Equal(t, "google-ai-studio", string(prepared.Kind))

	var gr geminiRequest
	require.NoError(t, json.Unmarshal(prepared.Body, &gr))
	require.NotNil(t, gr.SystemInstruction)
	assert.Equal(t, "be terse", gr.SystemInstruction.Parts[0].Text)
	require.Len(t, gr.Contents, 2)
	assert.Equal(t, "model", gr.Contents[1].Role)
}

func TestPrepare_InlinesRemoteImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake-png-bytes"))
	}))
	defer srv.Close()

	parts, _ := json.Marshal([]canonical.ContentPart{
		{Type: "text", Text: "describe this"},
		{Type: "image_url", ImageURL: &canonical.ImageURL{URL: srv.URL}},
	})
	req := &canonical.Request{
		Model:    "gpt-x",
		Messages: []canonical.ChatMessage{{Role: canonical.RoleUser, Content: parts}},
	}
	mapping := registry.ProviderMapping{ProviderID: "openai", UpstreamModel: "gpt-x"}

	resolver := NewImageResolver(srv.Client(), false)
	prepared, err := New(resolver).Prepare(req, mapping)
	require.NoError(t, err)

	var body struct {
		Messages []canonical.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(prepared.Body, &body))
	require.Len(t, body.Messages, 1)
	gotParts := body.Messages[0].Parts()
	require.Len(t, gotParts, 2)
	assert.Contains(t, gotParts[1].ImageURL.URL, "data:image/png;base64,")
}
