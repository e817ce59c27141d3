package dispatch

import (
	"context"
	"io"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/gatewayerr"
	"github.com/llmgateway/core/internal/providerkind"
	"github.com/llmgateway/core/internal/registry"
	"github.com/llmgateway/core/internal/streamtransform"
)

// StreamChunk is one item the DispatchStream channel emits: a canonical
// chunk to forward verbatim as an SSE event, or — only as the channel's
// last item — a terminal error the server should log and stop on.
type StreamChunk struct {
	Chunk canonical.Chunk
	Err   error
}

// DispatchStream runs the streaming path (§4.3 step 7). It resolves model,
// provider, and credential, invokes the upstream once, and returns a
// channel of canonical chunks translated in upstream order with no
// reordering or coalescing (§5). The channel closes once a terminating
// chunk (finish_reason set, usage attached) has been sent and the
// LogRecord written.
func (d *Dispatcher) DispatchStream(ctx context.Context, req *canonical.Request, auth AuthContext, requestID string) (<-chan StreamChunk, error) {
	if requestID == "" {
		requestID = newRequestID()
	}

	model, constrainProvider, gerr := d.resolveModel(req)
	if gerr != nil {
		d.writeFailureLog(ctx, requestID, req, "", "", true, gerr)
		return nil, gerr
	}

	mapping, gerr := d.resolveProvider(ctx, model, constrainProvider, auth, req)
	if gerr != nil {
		d.writeFailureLog(ctx, requestID, req, string(model.ID), "", true, gerr)
		return nil, gerr
	}

	key, gerr := d.resolveCredential(ctx, auth, mapping.ProviderID)
	if gerr != nil {
		d.writeFailureLog(ctx, requestID, req, string(model.ID), mapping.UpstreamModel, true, gerr)
		return nil, gerr
	}

	httpReq, err := d.buildUpstreamRequest(ctx, req, mapping, key)
	if err != nil {
		ge, _ := gatewayerr.As(err)
		d.writeFailureLog(ctx, requestID, req, string(model.ID), mapping.UpstreamModel, true, ge)
		return nil, err
	}

	resp, gerr := d.doUpstream(httpReq)
	if gerr != nil {
		d.writeFailureLog(ctx, requestID, req, string(model.ID), mapping.UpstreamModel, true, gerr)
		return nil, gerr
	}

	out := make(chan StreamChunk)
	go d.runStream(ctx, resp.Body, req, mapping, model, requestID, out)
	return out, nil
}

// runStream drains the Stream Transformer's channel, forwarding each
// translated chunk downstream in order while folding it into an
// Accumulator, then emits any synthesized terminal chunk and writes the
// LogRecord once the upstream stream ends (§4.3 step 7, §5 ordering).
func (d *Dispatcher) runStream(ctx context.Context, body io.ReadCloser, req *canonical.Request, mapping registry.ProviderMapping, model registry.ModelDescriptor, requestID string, out chan<- StreamChunk) {
	defer close(out)

	wireKind := providerkind.KindForProvider(mapping.ProviderID)
	chunks := streamtransform.Scan(ctx, wireKind, body, mapping.UpstreamModel)
	acc := streamtransform.NewAccumulator()

	var streamErr error
	sawFinish := false
	for item := range chunks {
		if item.Err != nil {
			streamErr = item.Err
			break
		}
		acc.Apply(item.Chunk)
		for _, choice := range item.Chunk.Choices {
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				sawFinish = true
			}
		}
		select {
		case out <- StreamChunk{Chunk: item.Chunk}:
		case <-ctx.Done():
			d.writeStreamFailureLog(requestID, model, mapping, gatewayerr.Cancelled(ctx.Err()))
			return
		}
	}

	if streamErr != nil {
		classified := classifyStreamErr(ctx, streamErr)
		select {
		case out <- StreamChunk{Err: classified}:
		case <-ctx.Done():
		}
		d.writeStreamFailureLog(requestID, model, mapping, classified)
		return
	}

	if !sawFinish || acc.Usage.TotalTokens == 0 {
		d.estimateMissingUsage(&acc.Usage, req, acc.Message().Content, mapping.UpstreamModel)
		terminal := canonical.Chunk{
			ID:      acc.ID,
			Object:  "chat.completion.chunk",
			Created: acc.Created,
			Model:   mapping.UpstreamModel,
			Choices: []canonical.ChunkChoice{{Index: 0, Delta: canonical.Delta{}, FinishReason: finishReasonPtr(acc.FinishReason)}},
			Usage:   &acc.Usage,
		}
		select {
		case out <- StreamChunk{Chunk: terminal}:
		case <-ctx.Done():
		}
	}

	d.writeSuccessLog(context.Background(), requestID, nil, model, mapping, true, acc.Usage, acc.FinishReason)
}

func finishReasonPtr(s string) *string {
	if s == "" {
		s = "stop"
	}
	return &s
}

func classifyStreamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return gatewayerr.Cancelled(err)
	}
	return gatewayerr.Internal("stream decode failed", err)
}

// writeStreamFailureLog uses a fresh background context for the log write
// since the request context may already be cancelled by the time a
// mid-stream failure is detected (§7: the LogRecord write must not depend
// on the connection that just failed).
func (d *Dispatcher) writeStreamFailureLog(requestID string, model registry.ModelDescriptor, mapping registry.ProviderMapping, gerr error) {
	ge, _ := gatewayerr.As(gerr)
	if ge == nil {
		ge = gatewayerr.Internal("stream failed", gerr)
	}
	d.writeFailureLog(context.Background(), requestID, nil, string(model.ID), mapping.UpstreamModel, true, ge)
}
