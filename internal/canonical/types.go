// Package canonical defines the wire format every provider request and
// response is translated to and from: the OpenAI chat-completions shape
// that the gateway uses as its lingua franca in both directions.
package canonical

import "encoding/json"

// Role is the speaker of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ReasoningEffort is the caller's requested depth of model deliberation.
type ReasoningEffort string

const (
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// AutoModel is the sentinel selector that asks the dispatcher to pick the
// cheapest available model satisfying the request's capability needs.
const AutoModel = "auto"

// ContentPart is one typed piece of a message's content. Exactly one of
// Text, ImageURL, or ToolResult is populated, selected by Type.
type ContentPart struct {
	Type       string      `json:"type"` // "text" | "image_url" | "tool_result"
	Text       string      `json:"text,omitempty"`
	ImageURL   *ImageURL   `json:"image_url,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ImageURL holds a reference to image content, either a data: URL or an
// http(s) URL that the Image Processor will fetch.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolResult carries the output of a tool invocation back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// ChatMessage is one turn in the conversation. Content is either a plain
// string or a []ContentPart; it is kept as raw JSON so request preparation
// can branch on whichever the caller sent without losing information.
type ChatMessage struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// Text returns the message content as a single string when Content is a
// JSON string, or the concatenation of any "text" parts when it is an
// array of ContentPart. It never returns an error: malformed content
// yields the empty string, since callers use this only for estimation and
// logging, not wire-format fidelity.
func (m ChatMessage) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []ContentPart
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		out := ""
		for _, p := range parts {
			if p.Type == "text" {
				out += p.Text
			}
		}
		return out
	}
	return ""
}

// Parts returns the message content as []ContentPart, wrapping a plain
// string content in a single text part.
func (m ChatMessage) Parts() []ContentPart {
	var parts []ContentPart
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		return parts
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return []ContentPart{{Type: "text", Text: s}}
	}
	return nil
}

// Tool is a function the model may call, in OpenAI's tool-definition shape.
type Tool struct {
	Type     string       `json:"type"` // always "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function's name, description, and
// JSON-schema parameters.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a single invocation the model requested.
type ToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the called function's name and accumulated
// (possibly still-streaming) JSON arguments string.
type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Request is the canonical, provider-agnostic chat-completion request.
type Request struct {
	Model            string          `json:"model"`
	Messages         []ChatMessage   `json:"messages"`
	Stream           bool            `json:"stream,omitempty"`
	Tools            []Tool          `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ReasoningEffort  ReasoningEffort `json:"reasoning_effort,omitempty"`
	ResponseFormat   json.RawMessage `json:"response_format,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
}

// NeedsTools reports whether the request requires tool-calling support.
func (r *Request) NeedsTools() bool { return len(r.Tools) > 0 }

// NeedsVision reports whether any message carries an image part.
func (r *Request) NeedsVision() bool {
	for _, m := range r.Messages {
		for _, p := range m.Parts() {
			if p.Type == "image_url" {
				return true
			}
		}
	}
	return false
}

// NeedsReasoning reports whether the caller asked for reasoning effort.
func (r *Request) NeedsReasoning() bool { return r.ReasoningEffort != "" }

// Usage is token accounting for one request or one streaming chunk.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens,omitempty"`
	CachedTokens     int `json:"cached_tokens,omitempty"`
}

// Message is the assistant turn returned in a non-streaming Response.
type Message struct {
	Role             Role       `json:"role"`
	Content          string     `json:"content"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
}

// Choice wraps one generated Message with its finish reason.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Response is the canonical non-streaming chat-completion response.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"` // "chat.completion"
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta is the incremental content of one streaming Choice.
type Delta struct {
	Role             Role       `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
}

// ChunkChoice is one streaming choice, delta plus an optional terminating
// finish reason.
type ChunkChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Chunk is one canonical streaming event. Usage is populated only on
// terminal chunks (§3).
type Chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"` // "chat.completion.chunk"
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// RenameReasoningKey rewrites any bare "reasoning" object key to
// "reasoning_content" throughout data. Where "reasoning_content" is already
// present alongside it, that value is kept and the "reasoning" key is
// dropped. Some OpenAI-shaped providers (e.g.
// deepseek) emit the former; Message and Delta only ever decode the
// latter. Returns data unchanged if it isn't a JSON object/array, leaving
// the caller's own Unmarshal to report the decode error.
func RenameReasoningKey(data []byte) []byte {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return data
	}
	renameReasoningKey(v)
	out, err := json.Marshal(v)
	if err != nil {
		return data
	}
	return out
}

func renameReasoningKey(v any) {
	switch t := v.(type) {
	case map[string]any:
		if raw, ok := t["reasoning"]; ok {
			if _, hasContent := t["reasoning_content"]; !hasContent {
				t["reasoning_content"] = raw
			}
			delete(t, "reasoning")
		}
		for _, val := range t {
			renameReasoningKey(val)
		}
	case []any:
		for _, val := range t {
			renameReasoningKey(val)
		}
	}
}
