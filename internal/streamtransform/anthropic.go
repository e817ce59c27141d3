package streamtransform

import (
	"encoding/json"
	"fmt"

	"github.com/llmgateway/core/internal/canonical"
)

// anthropicStreamEvent is a generic wrapper sufficient to read every named
// SSE event Anthropic emits: message_start, content_block_start,
// content_block_delta, content_block_stop, message_delta, message_stop.
type anthropicStreamEvent struct {
	Type         string                    `json:"type"`
	Index        int                       `json:"index"`
	Message      *anthropicEventMessage    `json:"message,omitempty"`
	ContentBlock *anthropicContentBlockRef `json:"content_block,omitempty"`
	Delta        *anthropicEventDelta      `json:"delta,omitempty"`
	Usage        *anthropicEventUsage      `json:"usage,omitempty"`
}

type anthropicEventMessage struct {
	ID    string               `json:"id"`
	Model string               `json:"model"`
	Usage *anthropicEventUsage `json:"usage,omitempty"`
}

type anthropicContentBlockRef struct {
	Type string `json:"type"` // "text" | "tool_use"
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type anthropicEventDelta struct {
	Type        string `json:"type,omitempty"` // "text_delta" | "input_json_delta" | "thinking_delta"
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicEventUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// anthropicStopReasons maps Anthropic's stop_reason vocabulary onto the
// canonical finish_reason vocabulary (§4.4 canonicalization).
var anthropicStopReasons = map[string]string{
	"end_turn":      "stop",
	"stop_sequence": "stop",
	"max_tokens":    "length",
	"tool_use":      "tool_calls",
}

// anthropicTranslator holds the small amount of state needed to map
// Anthropic's block-indexed events onto canonical tool-call indices: which
// content block index is currently a tool_use block, and that block's id
// and name (sent once, on content_block_start, not repeated on every delta).
type anthropicTranslator struct {
	model        string
	id           string
	toolBlockIdx map[int]bool
	startUsage   *anthropicEventUsage
}

func newAnthropicTranslator(model string) *anthropicTranslator {
	return &anthropicTranslator{model: model, toolBlockIdx: make(map[int]bool)}
}

func (t *anthropicTranslator) onEventName(string) {}

func (t *anthropicTranslator) translate(data []byte) ([]canonical.Chunk, bool, error) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, false, fmt.Errorf("decoding anthropic event: %w", err)
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			t.id = ev.Message.ID
			if ev.Message.Model != "" {
				t.model = ev.Message.Model
			}
			t.startUsage = ev.Message.Usage
		}
		return nil, false, nil

	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			t.toolBlockIdx[ev.Index] = true
			return []canonical.Chunk{t.chunk(canonical.Delta{
				ToolCalls: []canonical.ToolCall{{
					Index: intPtr(ev.Index),
					ID:    ev.ContentBlock.ID,
					Type:  "function",
					Function: canonical.ToolCallFunction{
						Name: ev.ContentBlock.Name,
					},
				}},
			})}, false, nil
		}
		return nil, false, nil

	case "content_block_delta":
		if ev.Delta == nil {
			return nil, false, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []canonical.Chunk{t.chunk(canonical.Delta{Content: ev.Delta.Text})}, false, nil
		case "thinking_delta":
			return []canonical.Chunk{t.chunk(canonical.Delta{ReasoningContent: ev.Delta.Thinking})}, false, nil
		case "input_json_delta":
			if t.toolBlockIdx[ev.Index] {
				return []canonical.Chunk{t.chunk(canonical.Delta{
					ToolCalls: []canonical.ToolCall{{
						Index:    intPtr(ev.Index),
						Function: canonical.ToolCallFunction{Arguments: ev.Delta.PartialJSON},
					}},
				})}, false, nil
			}
		}
		return nil, false, nil

	case "message_delta":
		var chunks []canonical.Chunk
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			reason, ok := anthropicStopReasons[ev.Delta.StopReason]
			if !ok {
				reason = "stop"
			}
			c := t.chunk(canonical.Delta{})
			c.Choices[0].FinishReason = &reason
			chunks = append(chunks, c)
		}
		if ev.Usage != nil || t.startUsage != nil {
			u := t.mergedUsage(ev.Usage)
			usageChunk := t.chunk(canonical.Delta{})
			usageChunk.Choices = nil
			usageChunk.Usage = u
			chunks = append(chunks, usageChunk)
		}
		return chunks, false, nil

	case "message_stop":
		return nil, true, nil

	default:
		return nil, false, nil
	}
}

// mergedUsage combines the input/cache token counts Anthropic reports on
// message_start with the output token count reported on message_delta:
// real streams never repeat input_tokens on message_delta, so deltaUsage's
// fields take precedence only when non-zero and t.startUsage fills the
// rest. promptTokens follows normalizeAnthropic's formula (§4.4):
// input_tokens + cache_creation_input_tokens + cache_read_input_tokens.
func (t *anthropicTranslator) mergedUsage(deltaUsage *anthropicEventUsage) *canonical.Usage {
	var inputTokens, outputTokens, cacheCreate, cacheRead int
	if t.startUsage != nil {
		inputTokens = t.startUsage.InputTokens
		cacheCreate = t.startUsage.CacheCreationInputTokens
		cacheRead = t.startUsage.CacheReadInputTokens
		outputTokens = t.startUsage.OutputTokens
	}
	if deltaUsage != nil {
		if deltaUsage.InputTokens != 0 {
			inputTokens = deltaUsage.InputTokens
		}
		if deltaUsage.CacheCreationInputTokens != 0 {
			cacheCreate = deltaUsage.CacheCreationInputTokens
		}
		if deltaUsage.CacheReadInputTokens != 0 {
			cacheRead = deltaUsage.CacheReadInputTokens
		}
		if deltaUsage.OutputTokens != 0 {
			outputTokens = deltaUsage.OutputTokens
		}
	}

	promptTokens := inputTokens + cacheCreate + cacheRead
	return &canonical.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: outputTokens,
		TotalTokens:      promptTokens + outputTokens,
		CachedTokens:     cacheRead,
	}
}

func (t *anthropicTranslator) chunk(delta canonical.Delta) canonical.Chunk {
	return canonical.Chunk{
		ID:     t.id,
		Object: "chat.completion.chunk",
		Model:  t.model,
		Choices: []canonical.ChunkChoice{
			{Index: 0, Delta: delta},
		},
	}
}

func intPtr(v int) *int { return &v }
