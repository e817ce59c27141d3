package prepare

import (
	"encoding/json"
	"fmt"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/registry"
)

// anthropicRequest is the top-level body for Anthropic's /v1/messages.
// Unlike the OpenAI shape, "system" is a top-level string and max_tokens is
// required (Anthropic rejects requests without it).
type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Stream        bool               `json:"stream,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	ToolChoice    json.RawMessage    `json:"tool_choice,omitempty"`
	Thinking      *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

// anthropicContentBlock covers every block type the gateway needs to send:
// text, image, tool_use (echoing an assistant's prior tool call back), and
// tool_result (the caller's answer to one).
type anthropicContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Source    *anthropicImageSource  `json:"source,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     json.RawMessage        `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// reasoningBudget maps the caller's coarse effort level to Anthropic's
// extended-thinking token budget (§4.2: reasoning effort translation).
var reasoningBudget = map[canonical.ReasoningEffort]int{
	canonical.ReasoningLow:    1024,
	canonical.ReasoningMedium: 4096,
	canonical.ReasoningHigh:   16384,
}

// defaultMaxTokens is sent when the caller didn't specify one, since
// Anthropic requires the field on every request.
const defaultMaxTokens = 1024

func (p *Preparer) prepareAnthropic(req *canonical.Request, mapping registry.ProviderMapping) ([]byte, error) {
	ar := &anthropicRequest{
		Model:  mapping.UpstreamModel,
		Stream: req.Stream,
	}

	for _, msg := range req.Messages {
		if msg.Role == canonical.RoleSystem {
			if ar.System != "" {
				ar.System += "\n\n"
			}
			ar.System += msg.Text()
			continue
		}
		blocks, err := p.anthropicBlocksFor(msg)
		if err != nil {
			return nil, err
		}
		ar.Messages = append(ar.Messages, anthropicMessage{
			Role:    string(msg.Role),
			Content: blocks,
		})
	}

	if mapping.Supports(registry.ParamMaxTokens) && req.MaxTokens != nil {
		ar.MaxTokens = *req.MaxTokens
	} else {
		ar.MaxTokens = defaultMaxTokens
	}
	if mapping.Supports(registry.ParamTemperature) {
		ar.Temperature = req.Temperature
	}
	if mapping.Supports(registry.ParamTopP) {
		ar.TopP = req.TopP
	}
	if mapping.Supports(registry.ParamTools) && len(req.Tools) > 0 {
		for _, t := range req.Tools {
			ar.Tools = append(ar.Tools, anthropicTool{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				InputSchema: t.Function.Parameters,
			})
		}
		if len(req.ToolChoice) > 0 {
			ar.ToolChoice = req.ToolChoice
		}
	}
	if mapping.Supports(registry.ParamReasoningEffort) && req.ReasoningEffort != "" {
		budget, ok := reasoningBudget[req.ReasoningEffort]
		if !ok {
			budget = reasoningBudget[canonical.ReasoningMedium]
		}
		ar.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
		if ar.MaxTokens <= budget {
			ar.MaxTokens = budget + defaultMaxTokens
		}
	}

	return json.Marshal(ar)
}

// anthropicBlocksFor converts one canonical message into Anthropic content
// blocks: a prior assistant tool call becomes a tool_use block, a tool
// result message becomes a tool_result block, everything else becomes
// text/image blocks.
func (p *Preparer) anthropicBlocksFor(msg canonical.ChatMessage) ([]anthropicContentBlock, error) {
	if msg.Role == canonical.RoleTool {
		return []anthropicContentBlock{{
			Type:      "tool_result",
			ToolUseID: msg.ToolCallID,
			Content:   msg.Text(),
		}}, nil
	}

	var blocks []anthropicContentBlock
	for _, part := range msg.Parts() {
		switch part.Type {
		case "text":
			if part.Text != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: part.Text})
			}
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			img, err := p.resolveImage(part.ImageURL.URL)
			if err != nil {
				return nil, fmt.Errorf("prepare: anthropic image: %w", err)
			}
			blocks = append(blocks, anthropicContentBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: img.MimeType,
					Data:      img.Data,
				},
			})
		}
	}
	for _, tc := range msg.ToolCalls {
		blocks = append(blocks, anthropicContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(blocks) == 0 && msg.Text() != "" {
		blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Text()})
	}
	return blocks, nil
}
