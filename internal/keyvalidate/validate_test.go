package keyvalidate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/core/internal/prepare"
	"github.com/llmgateway/core/internal/registry"
)

func testRegistry(t *testing.T, baseURL string) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		[]registry.ProviderDescriptor{{ID: "openai", BaseURLTemplate: baseURL, SupportsStreaming: true}},
		[]registry.ModelDescriptor{{
			ID: "gpt-cheap",
			Mappings: []registry.ProviderMapping{{
				ProviderID:          "openai",
				UpstreamModel:       "gpt-cheap",
				InputPrice:          0.000001,
				OutputPrice:         0.000002,
				SupportedParameters: []registry.Parameter{registry.ParamMaxTokens},
			}},
		}},
	)
	require.NoError(t, err)
	return reg
}

func TestValidate_CustomProviderShortCircuits(t *testing.T) {
	v := New(testRegistry(t, "http://unused"), prepare.New(nil), nil)
	result := v.Validate(context.Background(), "custom", "anything", "", false)
	assert.Equal(t, Result{Valid: true}, result)
}

func TestValidate_SkipFlagShortCircuits(t *testing.T) {
	v := New(testRegistry(t, "http://unused"), prepare.New(nil), nil)
	result := v.Validate(context.Background(), "openai", "sk-whatever", "", true)
	assert.Equal(t, Result{Valid: true}, result)
}

func TestValidate_2xxIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer srv.Close()

	v := New(testRegistry(t, srv.URL), prepare.New(nil), srv.Client())
	result := v.Validate(context.Background(), "openai", "sk-good", "", false)
	assert.True(t, result.Valid)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestValidate_401IsInvalidWithNoErrorString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key: sk-bad"}}`))
	}))
	defer srv.Close()

	v := New(testRegistry(t, srv.URL), prepare.New(nil), srv.Client())
	result := v.Validate(context.Background(), "openai", "sk-bad", "", false)
	assert.False(t, result.Valid)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Empty(t, result.Error, "a 401 must never surface the provider's error text")
}

func TestValidate_OtherNonSuccessParsesProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	v := New(testRegistry(t, srv.URL), prepare.New(nil), srv.Client())
	result := v.Validate(context.Background(), "openai", "sk-good", "", false)
	assert.False(t, result.Valid)
	assert.Equal(t, http.StatusTooManyRequests, result.StatusCode)
	assert.Equal(t, "rate limited", result.Error)
}

func TestValidate_NetworkErrorReturnsMessage(t *testing.T) {
	v := New(testRegistry(t, "http://127.0.0.1:0"), prepare.New(nil), nil)
	result := v.Validate(context.Background(), "openai", "sk-good", "", false)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Error)
}
