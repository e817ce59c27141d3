package streamtransform

import (
	"encoding/json"
	"fmt"

	"github.com/llmgateway/core/internal/canonical"
)

// geminiStreamResponse mirrors the single JSON shape Gemini repeats for
// every SSE event (unlike Anthropic's named events, every Gemini event has
// the same top-level fields).
type geminiStreamResponse struct {
	Candidates    []geminiStreamCandidate `json:"candidates"`
	UsageMetadata *geminiStreamUsage      `json:"usageMetadata,omitempty"`
}

type geminiStreamCandidate struct {
	Content      geminiStreamContent `json:"content"`
	FinishReason string              `json:"finishReason"`
}

type geminiStreamContent struct {
	Parts []geminiStreamPart `json:"parts"`
}

type geminiStreamPart struct {
	Text         string                     `json:"text,omitempty"`
	FunctionCall *geminiStreamFunctionCall  `json:"functionCall,omitempty"`
	Thought      bool                       `json:"thought,omitempty"`
}

type geminiStreamFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiStreamUsage struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

// geminiFinishReasons maps Gemini's finishReason vocabulary onto the
// canonical one (§4.4 canonicalization).
var geminiFinishReasons = map[string]string{
	"STOP":          "stop",
	"MAX_TOKENS":    "length",
	"SAFETY":        "content_filter",
	"RECITATION":    "content_filter",
	"TOOL_CALLS":    "tool_calls",
}

// googleTranslator emits whole function calls as single-shot tool-call
// deltas (index 0, 1, 2...), since Gemini doesn't fragment function-call
// JSON across multiple events the way OpenAI and Anthropic do.
type googleTranslator struct {
	model        string
	nextToolIdx  int
}

func newGoogleTranslator(model string) *googleTranslator {
	return &googleTranslator{model: model}
}

func (t *googleTranslator) onEventName(string) {}

func (t *googleTranslator) translate(data []byte) ([]canonical.Chunk, bool, error) {
	var resp geminiStreamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("decoding gemini event: %w", err)
	}
	if len(resp.Candidates) == 0 {
		if resp.UsageMetadata != nil {
			return []canonical.Chunk{t.usageChunk(resp.UsageMetadata)}, false, nil
		}
		return nil, false, nil
	}

	candidate := resp.Candidates[0]
	var chunks []canonical.Chunk

	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			idx := t.nextToolIdx
			t.nextToolIdx++
			chunks = append(chunks, t.chunk(canonical.Delta{
				ToolCalls: []canonical.ToolCall{{
					Index: intPtr(idx),
					ID:    fmt.Sprintf("call_%d", idx),
					Type:  "function",
					Function: canonical.ToolCallFunction{
						Name:      part.FunctionCall.Name,
						Arguments: string(part.FunctionCall.Args),
					},
				}},
			}))
		case part.Thought:
			chunks = append(chunks, t.chunk(canonical.Delta{ReasoningContent: part.Text}))
		case part.Text != "":
			chunks = append(chunks, t.chunk(canonical.Delta{Content: part.Text}))
		}
	}

	if candidate.FinishReason != "" {
		reason, ok := geminiFinishReasons[candidate.FinishReason]
		if !ok {
			reason = "stop"
		}
		c := t.chunk(canonical.Delta{})
		c.Choices[0].FinishReason = &reason
		chunks = append(chunks, c)
		if resp.UsageMetadata != nil {
			chunks = append(chunks, t.usageChunk(resp.UsageMetadata))
		}
	}

	return chunks, false, nil
}

func (t *googleTranslator) chunk(delta canonical.Delta) canonical.Chunk {
	return canonical.Chunk{
		Object: "chat.completion.chunk",
		Model:  t.model,
		Choices: []canonical.ChunkChoice{
			{Index: 0, Delta: delta},
		},
	}
}

func (t *googleTranslator) usageChunk(u *geminiStreamUsage) canonical.Chunk {
	c := t.chunk(canonical.Delta{})
	c.Choices = nil
	c.Usage = &canonical.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		// Ignore Google's totalTokenCount: it excludes reasoning tokens (§4.4).
		TotalTokens:     u.PromptTokenCount + u.CandidatesTokenCount + u.ThoughtsTokenCount,
		ReasoningTokens: u.ThoughtsTokenCount,
		CachedTokens:    u.CachedContentTokenCount,
	}
	return c
}
