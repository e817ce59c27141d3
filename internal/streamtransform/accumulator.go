// Package streamtransform turns each upstream provider's streaming wire
// format into canonical.Chunk events (§4.4), and accumulates those events
// into the single assistant turn that gets logged once the stream ends.
//
// The accumulator is a plain struct rather than a closure capturing
// mutable locals: every field it touches is named and exported-enough to
// assert against in a test, and Apply is a pure function of (state, chunk)
// so each provider's translation can be tested chunk by chunk without
// standing up an HTTP server.
package streamtransform

import (
	"strings"

	"github.com/llmgateway/core/internal/canonical"
)

// Accumulator rebuilds the complete assistant message and usage totals from
// a sequence of canonical.Chunk events, the same events the gateway streams
// to its caller.
type Accumulator struct {
	ID               string
	Model            string
	Created          int64
	fullContent      strings.Builder
	reasoningContent strings.Builder
	toolCallsByIndex map[int]*canonical.ToolCall
	toolOrder        []int
	Usage            canonical.Usage
	FinishReason     string
}

// NewAccumulator returns an empty accumulator ready for Apply.
func NewAccumulator() *Accumulator {
	return &Accumulator{toolCallsByIndex: make(map[int]*canonical.ToolCall)}
}

// Apply folds one outgoing chunk's delta into the running state. It is
// called once per chunk, in order, on the same goroutine that sends the
// chunk downstream.
func (a *Accumulator) Apply(chunk canonical.Chunk) {
	if chunk.ID != "" {
		a.ID = chunk.ID
	}
	if chunk.Model != "" {
		a.Model = chunk.Model
	}
	if chunk.Created != 0 {
		a.Created = chunk.Created
	}
	if chunk.Usage != nil {
		a.Usage = *chunk.Usage
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			a.fullContent.WriteString(choice.Delta.Content)
		}
		if choice.Delta.ReasoningContent != "" {
			a.reasoningContent.WriteString(choice.Delta.ReasoningContent)
		}
		for _, tc := range choice.Delta.ToolCalls {
			a.applyToolCallDelta(tc)
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			a.FinishReason = *choice.FinishReason
		}
	}
}

// applyToolCallDelta merges one tool-call fragment into the slot for its
// index, appending to Arguments the way OpenAI-shaped providers stream
// function-call JSON a few characters at a time.
func (a *Accumulator) applyToolCallDelta(tc canonical.ToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	existing, ok := a.toolCallsByIndex[idx]
	if !ok {
		cp := tc
		a.toolCallsByIndex[idx] = &cp
		a.toolOrder = append(a.toolOrder, idx)
		return
	}
	if tc.ID != "" {
		existing.ID = tc.ID
	}
	if tc.Type != "" {
		existing.Type = tc.Type
	}
	if tc.Function.Name != "" {
		existing.Function.Name = tc.Function.Name
	}
	existing.Function.Arguments += tc.Function.Arguments
}

// Message assembles the final assistant turn for logging/non-streaming
// response construction (§3: Message).
func (a *Accumulator) Message() canonical.Message {
	msg := canonical.Message{
		Role:             canonical.RoleAssistant,
		Content:          a.fullContent.String(),
		ReasoningContent: a.reasoningContent.String(),
	}
	for _, idx := range a.toolOrder {
		msg.ToolCalls = append(msg.ToolCalls, *a.toolCallsByIndex[idx])
	}
	return msg
}
