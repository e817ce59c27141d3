// Package prepare implements the Request Preparer (§4.2): turning a
// canonical.Request plus a resolved registry.ProviderMapping into the exact
// JSON body an upstream provider expects, branching on providerkind.Kind
// rather than on the provider id itself.
package prepare

import (
	"encoding/json"
	"fmt"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/providerkind"
	"github.com/llmgateway/core/internal/registry"
)

// Preparer builds provider-specific request bodies, fetching any images a
// message references along the way.
type Preparer struct {
	Images *ImageResolver
}

// New builds a Preparer backed by the given image resolver.
func New(images *ImageResolver) *Preparer {
	return &Preparer{Images: images}
}

// Prepared is the output of Prepare: the JSON body to send upstream and the
// wire Kind it was built for (so the dispatcher knows how to decode the
// response).
type Prepared struct {
	Body json.RawMessage
	Kind providerkind.Kind
}

// Prepare builds the upstream request body for req using mapping, whose
// ProviderID selects the wire Kind via providerkind.KindForProvider.
func (p *Preparer) Prepare(req *canonical.Request, mapping registry.ProviderMapping) (Prepared, error) {
	kind := providerkind.KindForProvider(mapping.ProviderID)

	var (
		body []byte
		err  error
	)
	switch kind {
	case providerkind.Anthropic:
		body, err = p.prepareAnthropic(req, mapping)
	case providerkind.Google:
		body, err = p.prepareGoogle(req, mapping)
	default:
		body, err = p.prepareOpenAIShape(req, mapping)
	}
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{Body: body, Kind: kind}, nil
}

// samplingParams holds the optional request knobs copied from the canonical
// request; prepareOpenAIShape forwards each one only when the mapping
// advertises support for it and drops the rest.
type samplingParams struct {
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxTokens        *int
	ResponseFormat   json.RawMessage
	Tools            []canonical.Tool
	ToolChoice       json.RawMessage
	ReasoningEffort  canonical.ReasoningEffort
}

func fromRequest(req *canonical.Request) samplingParams {
	return samplingParams{
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		MaxTokens:        req.MaxTokens,
		ResponseFormat:   req.ResponseFormat,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
		ReasoningEffort:  req.ReasoningEffort,
	}
}

// prepareOpenAIShape builds the body for any OpenAI-chat-completions-shaped
// provider: the canonical request passed through close to verbatim, with
// unsupported parameters stripped and stream_options.include_usage forced
// on for streaming calls so the terminal chunk carries usage (§4.2, §4.4).
func (p *Preparer) prepareOpenAIShape(req *canonical.Request, mapping registry.ProviderMapping) ([]byte, error) {
	out := map[string]any{
		"model":    mapping.UpstreamModel,
		"messages": req.Messages,
		"stream":   req.Stream,
	}
	sp := fromRequest(req)

	if mapping.Supports(registry.ParamTemperature) && sp.Temperature != nil {
		out["temperature"] = *sp.Temperature
	}
	if mapping.Supports(registry.ParamTopP) && sp.TopP != nil {
		out["top_p"] = *sp.TopP
	}
	if mapping.Supports(registry.ParamFrequencyPenalty) && sp.FrequencyPenalty != nil {
		out["frequency_penalty"] = *sp.FrequencyPenalty
	}
	if mapping.Supports(registry.ParamPresencePenalty) && sp.PresencePenalty != nil {
		out["presence_penalty"] = *sp.PresencePenalty
	}
	if mapping.Supports(registry.ParamMaxTokens) && sp.MaxTokens != nil {
		out["max_tokens"] = *sp.MaxTokens
	}
	if mapping.Supports(registry.ParamResponseFormat) && len(sp.ResponseFormat) > 0 {
		out["response_format"] = sp.ResponseFormat
	}
	if mapping.Supports(registry.ParamTools) && len(sp.Tools) > 0 {
		out["tools"] = sp.Tools
		if len(sp.ToolChoice) > 0 {
			out["tool_choice"] = sp.ToolChoice
		}
	}
	if mapping.Supports(registry.ParamReasoningEffort) && sp.ReasoningEffort != "" {
		out["reasoning_effort"] = sp.ReasoningEffort
	}
	if req.Stream {
		out["stream_options"] = map[string]any{"include_usage": true}
	}

	if err := p.inlineImages(req, out); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// inlineImages rewrites any http(s) image_url parts in the message list to
// base64 data URLs, in place, for the OpenAI-shaped body. Anthropic and
// Google build their own message arrays and call resolveImage directly.
func (p *Preparer) inlineImages(req *canonical.Request, out map[string]any) error {
	if p.Images == nil || !req.NeedsVision() {
		return nil
	}
	messages := make([]canonical.ChatMessage, len(req.Messages))
	copy(messages, req.Messages)

	for i, msg := range messages {
		parts := msg.Parts()
		changed := false
		for j, part := range parts {
			if part.Type != "image_url" || part.ImageURL == nil {
				continue
			}
			resolved, err := p.Images.Resolve(part.ImageURL.URL)
			if err != nil {
				return fmt.Errorf("prepare: message %d image %d: %w", i, j, err)
			}
			parts[j].ImageURL = &canonical.ImageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", resolved.MimeType, resolved.Data),
			}
			changed = true
		}
		if changed {
			raw, err := json.Marshal(parts)
			if err != nil {
				return err
			}
			messages[i].Content = raw
		}
	}
	out["messages"] = messages
	return nil
}

// resolvedImage is a small convenience wrapper holding a fetched image's
// MIME type and base64 data, used by the Anthropic and Google builders when
// assembling their own content-block shapes.
type resolvedImage struct {
	MimeType string
	Data     string
}

func (p *Preparer) resolveImage(url string) (resolvedImage, error) {
	if p.Images == nil {
		return resolvedImage{}, fmt.Errorf("prepare: image resolver not configured")
	}
	r, err := p.Images.Resolve(url)
	if err != nil {
		return resolvedImage{}, err
	}
	return resolvedImage{MimeType: r.MimeType, Data: r.Data}, nil
}
