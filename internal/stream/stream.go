// Package stream handles SSE writing of canonical streaming chunks.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/llmgateway/core/internal/dispatch"
	"github.com/llmgateway/core/internal/gatewayerr"
)

// Write reads dispatch.StreamChunks from the channel and writes them to the
// http.ResponseWriter as OpenAI-compatible Server-Sent Events (§6.1): each
// canonical.Chunk is forwarded verbatim as a "data: {json}\n\n" event, in
// the order received — no reordering, no coalescing (§5) — followed by a
// terminating "data: [DONE]\n\n" once the channel closes.
func Write(w http.ResponseWriter, chunks <-chan dispatch.StreamChunk) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for item := range chunks {
		if item.Err != nil {
			// A failure ends the stream: a *GatewayError is written as one
			// final data: event carrying its error body, and the [DONE]
			// sentinel is never sent, so the client can detect a truncated
			// stream.
			ge, _ := gatewayerr.As(item.Err)
			if ge != nil {
				fmt.Fprintf(w, "data: %s\n\n", mustMarshal(ge.ToBody()))
				flusher.Flush()
			}
			return item.Err
		}

		jsonBytes, err := json.Marshal(item.Chunk)
		if err != nil {
			return fmt.Errorf("marshaling SSE chunk: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonBytes); err != nil {
			return fmt.Errorf("writing SSE event: %w", err)
		}
		flusher.Flush()
	}

	if _, err := fmt.Fprintf(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()
	return nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}
