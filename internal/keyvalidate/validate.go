// Package keyvalidate implements the Key Validator (§4.7, scenario S6):
// a single best-effort upstream call that classifies a credential as valid
// or not without ever leaking the key itself in an error string.
package keyvalidate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/prepare"
	"github.com/llmgateway/core/internal/registry"
)

// Result is the outcome of Validate.
type Result struct {
	Valid      bool
	StatusCode int    // 0 when the request never got an upstream response
	Error      string // empty on success; never contains the token
}

// Validator posts one minimal chat request to the cheapest model a
// provider offers and classifies the response per §4.7.
type Validator struct {
	Registry   *registry.Registry
	Preparer   *prepare.Preparer
	HTTPClient *http.Client
	GatewayURL string
}

// New builds a Validator with the teacher's constructor-injection idiom.
func New(reg *registry.Registry, prep *prepare.Preparer, httpClient *http.Client) *Validator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Validator{Registry: reg, Preparer: prep, HTTPClient: httpClient}
}

// Validate implements §4.7. providerID "custom" and the skip flag short
// circuit to a valid result without any network call. baseURL overrides
// the provider's default endpoint for this call only, falling back to
// v.GatewayURL and then the registry's default when empty.
func (v *Validator) Validate(ctx context.Context, providerID, token, baseURL string, skip bool) Result {
	if providerID == "custom" || skip {
		return Result{Valid: true}
	}

	_, mapping, found := v.Registry.GetCheapestModelForProvider(providerID, time.Now())
	if !found {
		return Result{Valid: false, Error: fmt.Sprintf("no priced model available for provider %q", providerID)}
	}

	req := probeRequest(mapping)
	prepared, err := v.Preparer.Prepare(req, mapping)
	if err != nil {
		return Result{Valid: false, Error: "failed to prepare validation request"}
	}

	if baseURL == "" {
		baseURL = v.GatewayURL
	}
	endpoint, err := v.Registry.GetProviderEndpoint(registry.EndpointParams{
		ProviderID: providerID,
		BaseURL:    baseURL,
		Model:      mapping.UpstreamModel,
		APIKey:     token,
	})
	if err != nil {
		return Result{Valid: false, Error: "failed to resolve provider endpoint"}
	}
	headers, err := v.Registry.GetProviderHeaders(providerID, token)
	if err != nil {
		return Result{Valid: false, Error: "failed to resolve provider headers"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(prepared.Body))
	if err != nil {
		return Result{Valid: false, Error: "failed to build validation request"}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, val := range headers {
		httpReq.Header.Set(k, val)
	}

	resp, err := v.HTTPClient.Do(httpReq)
	if err != nil {
		return Result{Valid: false, Error: "network error contacting provider"}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Valid: true, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return Result{Valid: false, StatusCode: resp.StatusCode}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := providerErrorMessage(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return Result{Valid: false, StatusCode: resp.StatusCode, Error: msg}
}

// probeRequest builds the minimal two-message request §4.7 specifies,
// including max_tokens=1 only when the mapping advertises support for it.
func probeRequest(mapping registry.ProviderMapping) *canonical.Request {
	req := &canonical.Request{
		Model: mapping.UpstreamModel,
		Messages: []canonical.ChatMessage{
			{Role: canonical.RoleSystem, Content: jsonString("helpful assistant")},
			{Role: canonical.RoleUser, Content: jsonString("Hello")},
		},
	}
	if mapping.Supports(registry.ParamMaxTokens) {
		one := 1
		req.MaxTokens = &one
	}
	return req
}

func jsonString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}

// providerErrorMessage best-effort extracts a human message from a JSON
// error body shaped like {"error":{"message":"..."}} or {"error":"..."}
// without assuming any particular provider's exact schema.
func providerErrorMessage(body []byte) string {
	var withNested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &withNested); err == nil && withNested.Error.Message != "" {
		return withNested.Error.Message
	}
	var withFlat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &withFlat); err == nil && withFlat.Error != "" {
		return withFlat.Error
	}
	return ""
}
