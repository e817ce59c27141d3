package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/credential"
	"github.com/llmgateway/core/internal/prepare"
	"github.com/llmgateway/core/internal/registry"
	"github.com/llmgateway/core/internal/usage"
)

func testRegistry(t *testing.T, baseURL string) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		[]registry.ProviderDescriptor{
			{ID: "openai", BaseURLTemplate: baseURL, SupportsStreaming: true, SupportsTools: true},
			{ID: "anthropic", BaseURLTemplate: baseURL, AuthShape: registry.AuthAPIKeyHeader, SupportsStreaming: true},
		},
		[]registry.ModelDescriptor{
			{
				ID: "gpt-x",
				Mappings: []registry.ProviderMapping{
					{ProviderID: "openai", UpstreamModel: "gpt-x-upstream", InputPrice: 0.000002, OutputPrice: 0.000004},
				},
			},
			{
				ID: "cheap-and-pricey",
				Mappings: []registry.ProviderMapping{
					{ProviderID: "openai", UpstreamModel: "cheap", InputPrice: 0.000001, OutputPrice: 0.000001},
					{ProviderID: "anthropic", UpstreamModel: "pricey", InputPrice: 0.00002, OutputPrice: 0.00002},
				},
			},
			{
				ID:            "retired",
				DeactivatedAt: timePtr(time.Now().Add(-time.Hour)),
				Mappings: []registry.ProviderMapping{
					{ProviderID: "openai", UpstreamModel: "retired", InputPrice: 1, OutputPrice: 1},
				},
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func timePtr(t time.Time) *time.Time { return &t }

func newDispatcher(t *testing.T, upstream *httptest.Server) (*Dispatcher, *credential.MemoryStore) {
	t.Helper()
	reg := testRegistry(t, upstream.URL)
	creds := credential.NewMemoryStore()
	d := New(reg, creds, prepare.New(nil), usage.NewEstimator(), upstream.Client(), nil, slog.Default())
	return d, creds
}

func TestResolveModel_UnknownModelReturnsNoModel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	d, _ := newDispatcher(t, upstream)

	_, _, gerr := d.resolveModel(&canonical.Request{Model: "does-not-exist"})
	require.NotNil(t, gerr)
	assert.Equal(t, "no_model", string(gerr.Kind))
}

func TestResolveModel_DeactivatedModelReturnsNoModel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	d, _ := newDispatcher(t, upstream)

	_, _, gerr := d.resolveModel(&canonical.Request{Model: "retired"})
	require.NotNil(t, gerr)
	assert.Equal(t, "no_model", string(gerr.Kind))
}

func TestResolveModel_ProviderSlashModelConstrainsProvider(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	d, _ := newDispatcher(t, upstream)

	model, constrain, gerr := d.resolveModel(&canonical.Request{Model: "anthropic/cheap-and-pricey"})
	require.Nil(t, gerr)
	assert.Equal(t, registry.CanonicalModelID("cheap-and-pricey"), model.ID)
	assert.Equal(t, "anthropic", constrain)
}

func TestResolveProvider_PicksCheapestAmongCredentialed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	d, creds := newDispatcher(t, upstream)
	creds.Set(context.Background(), "org1", "openai", "sk-openai")
	creds.Set(context.Background(), "org1", "anthropic", "sk-anthropic")

	model, _ := d.Registry.GetModel("cheap-and-pricey")
	mapping, gerr := d.resolveProvider(context.Background(), model, "", AuthContext{OrgID: "org1"}, &canonical.Request{})
	require.Nil(t, gerr)
	assert.Equal(t, "openai", mapping.ProviderID)
}

func TestResolveProvider_NoCredentialReturnsNoCredential(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	d, _ := newDispatcher(t, upstream)

	model, _ := d.Registry.GetModel("gpt-x")
	_, gerr := d.resolveProvider(context.Background(), model, "", AuthContext{OrgID: "org1"}, &canonical.Request{})
	require.NotNil(t, gerr)
	assert.Equal(t, "no_credential", string(gerr.Kind))
}

func TestResolveProvider_CreditsModeFallsBackToPlatformKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	d, creds := newDispatcher(t, upstream)
	creds.SetPlatformKey("openai", "sk-platform")

	model, _ := d.Registry.GetModel("gpt-x")
	mapping, gerr := d.resolveProvider(context.Background(), model, "", AuthContext{OrgID: "org1", CreditsMode: true}, &canonical.Request{})
	require.Nil(t, gerr)
	assert.Equal(t, "openai", mapping.ProviderID)
}

func TestResolveModel_AutoPicksCheapestAvailableModel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()
	d, _ := newDispatcher(t, upstream)

	model, constrain, gerr := d.resolveModel(&canonical.Request{Model: canonical.AutoModel})
	require.Nil(t, gerr)
	assert.Equal(t, "", constrain)
	assert.Equal(t, registry.CanonicalModelID("cheap-and-pricey"), model.ID, "auto should pick the model with the single cheapest qualifying mapping")
}

func TestDispatch_NonStreamHappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"resp-1","choices":[{"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`))
	}))
	defer upstream.Close()
	d, creds := newDispatcher(t, upstream)
	creds.SetPlatformKey("openai", "sk-platform")

	resp, err := d.Dispatch(context.Background(), &canonical.Request{
		Model:    "gpt-x",
		Messages: []canonical.ChatMessage{{Role: canonical.RoleUser, Content: []byte(`"Hi"`)}},
	}, AuthContext{OrgID: "org1", CreditsMode: true}, "req-1")
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestDispatch_UpstreamServerErrorRetriesThenFails(t *testing.T) {
	attempts := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer upstream.Close()
	d, creds := newDispatcher(t, upstream)
	creds.SetPlatformKey("openai", "sk-platform")
	d.Retry = RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}

	_, err := d.Dispatch(context.Background(), &canonical.Request{
		Model:    "gpt-x",
		Messages: []canonical.ChatMessage{{Role: canonical.RoleUser, Content: []byte(`"Hi"`)}},
	}, AuthContext{OrgID: "org1", CreditsMode: true}, "req-1")
	require.Error(t, err)
	assert.Equal(t, 2, attempts, "upstream_error is retryable and should be attempted MaxAttempts times")
}

func TestDispatch_ClientErrorIsNotRetried(t *testing.T) {
	attempts := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request, not json related"}`))
	}))
	defer upstream.Close()
	d, creds := newDispatcher(t, upstream)
	creds.SetPlatformKey("openai", "sk-platform")
	d.Retry = RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}

	_, err := d.Dispatch(context.Background(), &canonical.Request{
		Model:    "gpt-x",
		Messages: []canonical.ChatMessage{{Role: canonical.RoleUser, Content: []byte(`"Hi"`)}},
	}, AuthContext{OrgID: "org1", CreditsMode: true}, "req-1")
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "a 400 without the JSON-mode error text classifies as gateway_error and is not retried")
}
