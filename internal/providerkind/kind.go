// Package providerkind implements the "provider-shaped polymorphism"
// design note from spec §9: the three upstream wire encodings (OpenAI-style,
// Anthropic, Google AI Studio) are modeled as a small tagged variant rather
// than one interface implementation per concrete provider. Adding a new
// OpenAI-compatible provider is a registry entry (internal/registry); adding
// a genuinely new wire shape is a new Kind here.
package providerkind

// Kind tags which wire encoding a provider uses.
type Kind string

const (
	OpenAIShape Kind = "openai-shape"
	Anthropic   Kind = "anthropic"
	Google      Kind = "google-ai-studio"
)

// KindForProvider maps a registry provider id to its wire Kind. Every
// OpenAI-compatible provider in the registry (openai, deepseek, groq, xai,
// together, novita, moonshot, inference-net, kluster-ai, cloudrift,
// perplexity, mistral, alibaba, nebius, zai) falls through to OpenAIShape.
func KindForProvider(providerID string) Kind {
	switch providerID {
	case "anthropic":
		return Anthropic
	case "google-ai-studio":
		return Google
	default:
		return OpenAIShape
	}
}
