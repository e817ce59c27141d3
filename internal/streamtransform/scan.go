package streamtransform

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/providerkind"
)

// ChunkOrError is one element of the channel Scan returns: either a
// translated canonical.Chunk, or a terminal Err after which no further
// chunks follow.
type ChunkOrError struct {
	Chunk canonical.Chunk
	Err   error
}

// Scan reads body as an SSE stream shaped like kind and emits canonical
// chunks on the returned channel, closing it when the stream ends or ctx
// is cancelled. Scan takes ownership of body and the caller must not close
// it separately — Scan closes it once the scanning goroutine exits, the same lifetime the
// teacher's provider adapters use for their streaming HTTP response body.
func Scan(ctx context.Context, kind providerkind.Kind, body io.ReadCloser, requestedModel string) <-chan ChunkOrError {
	out := make(chan ChunkOrError)

	go func() {
		defer close(out)
		defer body.Close()

		var translator lineTranslator
		switch kind {
		case providerkind.Anthropic:
			translator = newAnthropicTranslator(requestedModel)
		case providerkind.Google:
			translator = newGoogleTranslator(requestedModel)
		default:
			translator = newOpenAIShapeTranslator(requestedModel)
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				// Anthropic also sends "event: <name>" lines ahead of "data:";
				// translators that care track the event name themselves.
				if name, ok := strings.CutPrefix(line, "event:"); ok {
					translator.onEventName(strings.TrimSpace(name))
				}
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return
			}

			chunks, done, err := translator.translate([]byte(data))
			if err != nil {
				select {
				case out <- ChunkOrError{Err: fmt.Errorf("streamtransform: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			for _, c := range chunks {
				select {
				case out <- ChunkOrError{Chunk: c}:
				case <-ctx.Done():
					return
				}
			}
			if done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- ChunkOrError{Err: fmt.Errorf("streamtransform: reading upstream stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return out
}

// lineTranslator converts one SSE data payload into zero or more canonical
// chunks, reporting whether the stream is now complete.
type lineTranslator interface {
	onEventName(name string)
	translate(data []byte) (chunks []canonical.Chunk, done bool, err error)
}

// ---------------------------------------------------------------------------
// OpenAI-shaped providers already emit the canonical wire format.
// ---------------------------------------------------------------------------

type openAIShapeTranslator struct {
	model string
}

func newOpenAIShapeTranslator(model string) *openAIShapeTranslator {
	return &openAIShapeTranslator{model: model}
}

func (t *openAIShapeTranslator) onEventName(string) {}

func (t *openAIShapeTranslator) translate(data []byte) ([]canonical.Chunk, bool, error) {
	var chunk canonical.Chunk
	if err := json.Unmarshal(canonical.RenameReasoningKey(data), &chunk); err != nil {
		return nil, false, fmt.Errorf("decoding openai-shaped chunk: %w", err)
	}
	if chunk.Model == "" {
		chunk.Model = t.model
	}
	return []canonical.Chunk{chunk}, false, nil
}
