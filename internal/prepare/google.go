package prepare

import (
	"encoding/json"
	"fmt"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/registry"
)

// geminiRequest is the top-level body for Google AI Studio's
// generateContent/streamGenerateContent endpoints.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart covers the three shapes the gateway emits: inline text,
// inline image data, and function call/response echoes.
type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	ThinkingConfig   *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// geminiReasoningBudget mirrors reasoningBudget for Gemini's thinkingBudget
// knob (§4.2 reasoning effort translation, provider-specific units).
var geminiReasoningBudget = map[canonical.ReasoningEffort]int{
	canonical.ReasoningLow:    1024,
	canonical.ReasoningMedium: 8192,
	canonical.ReasoningHigh:   24576,
}

func (p *Preparer) prepareGoogle(req *canonical.Request, mapping registry.ProviderMapping) ([]byte, error) {
	gr := &geminiRequest{}

	for _, msg := range req.Messages {
		if msg.Role == canonical.RoleSystem {
			part := geminiPart{Text: msg.Text()}
			if gr.SystemInstruction == nil {
				gr.SystemInstruction = &geminiContent{Parts: []geminiPart{part}}
			} else {
				gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, part)
			}
			continue
		}

		parts, err := p.geminiPartsFor(msg)
		if err != nil {
			return nil, err
		}
		gr.Contents = append(gr.Contents, geminiContent{
			Role:  geminiRole(msg.Role),
			Parts: parts,
		})
	}

	cfg := &geminiGenerationConfig{}
	hasCfg := false
	if mapping.Supports(registry.ParamMaxTokens) && req.MaxTokens != nil {
		cfg.MaxOutputTokens = *req.MaxTokens
		hasCfg = true
	}
	if mapping.Supports(registry.ParamTemperature) && req.Temperature != nil {
		cfg.Temperature = req.Temperature
		hasCfg = true
	}
	if mapping.Supports(registry.ParamTopP) && req.TopP != nil {
		cfg.TopP = req.TopP
		hasCfg = true
	}
	if mapping.Supports(registry.ParamReasoningEffort) && req.ReasoningEffort != "" {
		budget, ok := geminiReasoningBudget[req.ReasoningEffort]
		if !ok {
			budget = geminiReasoningBudget[canonical.ReasoningMedium]
		}
		cfg.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: budget}
		hasCfg = true
	}
	if hasCfg {
		gr.GenerationConfig = cfg
	}

	if mapping.Supports(registry.ParamTools) && len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		gr.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	return json.Marshal(gr)
}

// geminiRole maps the canonical role vocabulary onto Gemini's, which calls
// the assistant turn "model" and has no separate "tool" role.
func geminiRole(r canonical.Role) string {
	switch r {
	case canonical.RoleAssistant:
		return "model"
	case canonical.RoleTool:
		return "function"
	default:
		return "user"
	}
}

func (p *Preparer) geminiPartsFor(msg canonical.ChatMessage) ([]geminiPart, error) {
	if msg.Role == canonical.RoleTool {
		return []geminiPart{{
			FunctionResponse: &geminiFunctionResponse{
				Name:     msg.ToolCallID,
				Response: json.RawMessage(fmt.Sprintf(`{"result":%q}`, msg.Text())),
			},
		}}, nil
	}

	var parts []geminiPart
	for _, part := range msg.Parts() {
		switch part.Type {
		case "text":
			if part.Text != "" {
				parts = append(parts, geminiPart{Text: part.Text})
			}
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			img, err := p.resolveImage(part.ImageURL.URL)
			if err != nil {
				return nil, fmt.Errorf("prepare: gemini image: %w", err)
			}
			parts = append(parts, geminiPart{
				InlineData: &geminiInlineData{MimeType: img.MimeType, Data: img.Data},
			})
		}
	}
	for _, tc := range msg.ToolCalls {
		parts = append(parts, geminiPart{
			FunctionCall: &geminiFunctionCall{
				Name: tc.Function.Name,
				Args: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	if len(parts) == 0 && msg.Text() != "" {
		parts = append(parts, geminiPart{Text: msg.Text()})
	}
	return parts, nil
}
