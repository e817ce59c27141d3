package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/providerkind"
)

// normalizeResponse parses a non-streaming upstream body into the canonical
// shape (§4.3 step 6): choices[0].message.{role,content,tool_calls,
// reasoning_content}, finish_reason, usage.
func normalizeResponse(kind providerkind.Kind, body []byte, usedModel string, now int64) (canonical.Response, error) {
	switch kind {
	case providerkind.Anthropic:
		return normalizeAnthropic(body, usedModel, now)
	case providerkind.Google:
		return normalizeGoogle(body, usedModel, now)
	default:
		var resp canonical.Response
		if err := json.Unmarshal(canonical.RenameReasoningKey(body), &resp); err != nil {
			return canonical.Response{}, fmt.Errorf("dispatch: decode openai-shape response: %w", err)
		}
		resp.Model = usedModel
		return resp, nil
	}
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Content    []anthropicContentBlock `json:"content"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		ReasoningOutputTokens    int `json:"reasoning_output_tokens"`
	} `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func normalizeAnthropic(body []byte, usedModel string, now int64) (canonical.Response, error) {
	var ar anthropicResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return canonical.Response{}, fmt.Errorf("dispatch: decode anthropic response: %w", err)
	}

	var content string
	var toolCalls []canonical.ToolCall
	for _, block := range ar.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, canonical.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: canonical.ToolCallFunction{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}

	prompt := ar.Usage.InputTokens + ar.Usage.CacheCreationInputTokens + ar.Usage.CacheReadInputTokens
	usage := canonical.Usage{
		PromptTokens:     prompt,
		CompletionTokens: ar.Usage.OutputTokens,
		ReasoningTokens:  ar.Usage.ReasoningOutputTokens,
		CachedTokens:     ar.Usage.CacheReadInputTokens,
		TotalTokens:      prompt + ar.Usage.OutputTokens,
	}

	return canonical.Response{
		ID:      ar.ID,
		Object:  "chat.completion",
		Created: now,
		Model:   usedModel,
		Choices: []canonical.Choice{{
			Index: 0,
			Message: canonical.Message{
				Role:      canonical.RoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: anthropicStopReason(ar.StopReason),
		}},
		Usage: usage,
	}, nil
}

func anthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text         string          `json:"text"`
				Thought      bool            `json:"thought"`
				FunctionCall *googleFuncCall `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	} `json:"usageMetadata"`
}

type googleFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

func normalizeGoogle(body []byte, usedModel string, now int64) (canonical.Response, error) {
	var gr googleResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return canonical.Response{}, fmt.Errorf("dispatch: decode google response: %w", err)
	}
	if len(gr.Candidates) == 0 {
		return canonical.Response{}, fmt.Errorf("dispatch: google response has no candidates")
	}
	cand := gr.Candidates[0]

	var content string
	var toolCalls []canonical.ToolCall
	for i, part := range cand.Content.Parts {
		if part.FunctionCall != nil {
			toolCalls = append(toolCalls, canonical.ToolCall{
				ID:   fmt.Sprintf("%s_%d_%d", part.FunctionCall.Name, now, i),
				Type: "function",
				Function: canonical.ToolCallFunction{
					Name:      part.FunctionCall.Name,
					Arguments: string(part.FunctionCall.Args),
				},
			})
			continue
		}
		if !part.Thought {
			content += part.Text
		}
	}

	// §4.4: ignore Google's totalTokenCount; recompute prompt+completion+reasoning.
	usage := canonical.Usage{
		PromptTokens:     gr.UsageMetadata.PromptTokenCount,
		CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
		ReasoningTokens:  gr.UsageMetadata.ThoughtsTokenCount,
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens + usage.ReasoningTokens

	return canonical.Response{
		Object:  "chat.completion",
		Created: now,
		Model:   usedModel,
		Choices: []canonical.Choice{{
			Index: 0,
			Message: canonical.Message{
				Role:      canonical.RoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: googleFinishReason(cand.FinishReason),
		}},
		Usage: usage,
	}, nil
}

func googleFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	case "TOOL_CALLS":
		return "tool_calls"
	default:
		return reason
	}
}
