package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/gatewayerr"
	"github.com/llmgateway/core/internal/registry"
)

// buildUpstreamRequest implements §4.3 step 4: resolve the endpoint and
// headers via the registry, prepare the body via the Request Preparer, and
// assemble an *http.Request ready to send.
func (d *Dispatcher) buildUpstreamRequest(ctx context.Context, req *canonical.Request, mapping registry.ProviderMapping, apiKey string) (*http.Request, error) {
	prepared, err := d.Preparer.Prepare(req, mapping)
	if err != nil {
		return nil, gatewayerr.ImageFetchError(err)
	}

	endpoint, err := d.Registry.GetProviderEndpoint(registry.EndpointParams{
		ProviderID:           mapping.ProviderID,
		BaseURL:              d.GatewayURL,
		Model:                mapping.UpstreamModel,
		APIKey:               apiKey,
		Stream:               req.Stream,
		SupportsReasoning:    req.NeedsReasoning(),
		HasExistingToolCalls: len(req.Tools) > 0,
		UseResponsesAPI:      d.UseResponsesAPI,
	})
	if err != nil {
		return nil, gatewayerr.Internal("failed to resolve upstream endpoint", err)
	}

	headers, err := d.Registry.GetProviderHeaders(mapping.ProviderID, apiKey)
	if err != nil {
		return nil, gatewayerr.Internal("failed to resolve upstream headers", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(prepared.Body))
	if err != nil {
		return nil, gatewayerr.Internal("failed to build upstream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// doUpstream sends httpReq and classifies a non-2xx response per §7,
// draining the error body into the GatewayError so it's available to the
// JSON-mode check in gatewayerr.FromUpstream. On success the caller owns
// resp.Body and must close it.
func (d *Dispatcher) doUpstream(httpReq *http.Request) (*http.Response, *gatewayerr.GatewayError) {
	resp, err := d.HTTPClient.Do(httpReq)
	if err != nil {
		if errors.Is(httpReq.Context().Err(), context.DeadlineExceeded) {
			return nil, gatewayerr.Timeout(err)
		}
		if errors.Is(httpReq.Context().Err(), context.Canceled) {
			return nil, gatewayerr.Cancelled(err)
		}
		return nil, gatewayerr.Internal("upstream request failed", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return nil, gatewayerr.FromUpstream(resp.StatusCode, string(body))
}
