package dispatch

import (
	"context"
	"io"
	"time"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/gatewayerr"
	"github.com/llmgateway/core/internal/logrecord"
	"github.com/llmgateway/core/internal/providerkind"
	"github.com/llmgateway/core/internal/registry"
)

// Dispatch runs the non-streaming path (§4.3 steps 1-4, 6): resolve model,
// provider, and credential, prepare and invoke the upstream call once
// (retried per d.Retry on retriable failures), normalize the response, and
// write a LogRecord.
func (d *Dispatcher) Dispatch(ctx context.Context, req *canonical.Request, auth AuthContext, requestID string) (*canonical.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout())
	defer cancel()

	if requestID == "" {
		requestID = newRequestID()
	}

	model, constrainProvider, gerr := d.resolveModel(req)
	if gerr != nil {
		d.writeFailureLog(ctx, requestID, req, "", "", false, gerr)
		return nil, gerr
	}

	mapping, gerr := d.resolveProvider(ctx, model, constrainProvider, auth, req)
	if gerr != nil {
		d.writeFailureLog(ctx, requestID, req, string(model.ID), "", false, gerr)
		return nil, gerr
	}

	key, gerr := d.resolveCredential(ctx, auth, mapping.ProviderID)
	if gerr != nil {
		d.writeFailureLog(ctx, requestID, req, string(model.ID), mapping.UpstreamModel, false, gerr)
		return nil, gerr
	}

	resp, gerr := withRetry(ctx, d.Retry, func() (*canonical.Response, error) {
		return d.invokeOnce(ctx, req, mapping, key)
	})
	if gerr != nil {
		ge, _ := gatewayerr.As(gerr)
		d.writeFailureLog(ctx, requestID, req, string(model.ID), mapping.UpstreamModel, false, ge)
		return nil, gerr
	}

	content, finishReason := "", ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = resp.Choices[0].FinishReason
	}
	d.estimateMissingUsage(&resp.Usage, req, content, mapping.UpstreamModel)
	d.writeSuccessLog(ctx, requestID, req, model, mapping, false, resp.Usage, finishReason)
	return resp, nil
}

func (d *Dispatcher) invokeOnce(ctx context.Context, req *canonical.Request, mapping registry.ProviderMapping, apiKey string) (*canonical.Response, error) {
	httpReq, err := d.buildUpstreamRequest(ctx, req, mapping, apiKey)
	if err != nil {
		return nil, err
	}

	resp, gerr := d.doUpstream(httpReq)
	if gerr != nil {
		return nil, gerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gatewayerr.Internal("failed reading upstream body", err)
	}

	kind := providerkind.KindForProvider(mapping.ProviderID)
	out, err := normalizeResponse(kind, body, mapping.UpstreamModel, time.Now().Unix())
	if err != nil {
		return nil, gatewayerr.Internal("failed to normalize upstream response", err)
	}
	return &out, nil
}

// estimateMissingUsage fills in prompt/completion token counts a provider
// omitted, using the default tokenizer with the §4.5 heuristic fallback.
func (d *Dispatcher) estimateMissingUsage(u *canonical.Usage, req *canonical.Request, content, modelID string) {
	if d.Estimator == nil {
		return
	}
	filled := false
	if u.PromptTokens == 0 && req != nil {
		var text string
		for _, m := range req.Messages {
			text += m.Text()
		}
		u.PromptTokens = d.Estimator.Count(modelID, text)
		filled = true
	}
	if u.CompletionTokens == 0 && content != "" {
		u.CompletionTokens = d.Estimator.Count(modelID, content)
		filled = true
	}
	// A provider-reported total is kept unless a count was estimated here.
	if filled || u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens + u.ReasoningTokens
	}
}

func (d *Dispatcher) writeSuccessLog(ctx context.Context, requestID string, req *canonical.Request, model registry.ModelDescriptor, mapping registry.ProviderMapping, streamed bool, u canonical.Usage, finishReason string) {
	if d.Logs == nil {
		return
	}
	rec := logrecord.LogRecord{
		ID:               newRequestID(),
		RequestID:        requestID,
		CanonicalModel:   string(model.ID),
		UsedProvider:     mapping.ProviderID,
		UsedModel:        mapping.UpstreamModel,
		Streamed:         streamed,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		ReasoningTokens:  u.ReasoningTokens,
		CachedTokens:     u.CachedTokens,
		TotalTokens:      u.TotalTokens,
		FinishReason:     finishReason,
		ErrorKind:        logrecord.ErrorNone,
		CreatedAt:        time.Now().UTC(),
	}
	if err := d.Logs.Write(ctx, rec); err != nil {
		d.Logger.Error("dispatch: failed to write log record", "error", err, "request_id", requestID)
	}
}

// writeFailureLog writes a best-effort partial log on a failed dispatch
// (§7 "errors during LogRecord write are logged but never fail the user
// response"). canonicalModel/usedModel may be empty when the failure
// happened before model/provider resolution.
func (d *Dispatcher) writeFailureLog(ctx context.Context, requestID string, req *canonical.Request, canonicalModel, usedModel string, streamed bool, gerr *gatewayerr.GatewayError) {
	if d.Logs == nil || gerr == nil {
		return
	}
	rec := logrecord.LogRecord{
		ID:             newRequestID(),
		RequestID:      requestID,
		CanonicalModel: canonicalModel,
		UsedModel:      usedModel,
		Streamed:       streamed,
		FinishReason:   string(gerr.Kind),
		ErrorKind:      gerr.Kind,
		CreatedAt:      time.Now().UTC(),
	}
	if canonicalModel == "" && req != nil {
		rec.CanonicalModel = req.Model
	}
	if err := d.Logs.Write(ctx, rec); err != nil {
		d.Logger.Error("dispatch: failed to write failure log record", "error", err, "request_id", requestID)
	}
}
