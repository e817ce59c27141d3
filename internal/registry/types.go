// Package registry holds the static model/provider catalog: which
// providers exist, what they cost per model, and what each mapping
// supports. It is pure in-memory data — immutable at runtime, so callers
// never need to lock it (§5).
package registry

import "time"

// AuthShape identifies how a provider expects credentials to be presented.
type AuthShape string

const (
	AuthBearer       AuthShape = "bearer"        // Authorization: Bearer <token>
	AuthAPIKeyHeader AuthShape = "api-key-header" // x-api-key + version header
	AuthURLEmbedded  AuthShape = "url-embedded"   // key is a query parameter
	AuthNone         AuthShape = "none"
)

// ProviderDescriptor describes one upstream provider.
type ProviderDescriptor struct {
	ID                string
	DisplayName       string
	BaseURLTemplate   string
	AuthShape         AuthShape
	SupportsStreaming bool
	SupportsVision    bool
	SupportsTools     bool
	SupportsReasoning bool
}

// ReasoningOutputPolicy controls whether a mapping's reasoning content is
// surfaced to the caller or dropped.
type ReasoningOutputPolicy string

const (
	ReasoningOutputInclude ReasoningOutputPolicy = "include"
	ReasoningOutputOmit    ReasoningOutputPolicy = "omit"
)

// Parameter is a sampling/request knob a mapping may or may not accept.
type Parameter string

const (
	ParamMaxTokens        Parameter = "max_tokens"
	ParamTemperature      Parameter = "temperature"
	ParamTopP             Parameter = "top_p"
	ParamFrequencyPenalty Parameter = "frequency_penalty"
	ParamPresencePenalty  Parameter = "presence_penalty"
	ParamResponseFormat   Parameter = "response_format"
	ParamTools            Parameter = "tools"
	ParamToolChoice       Parameter = "tool_choice"
	ParamReasoningEffort  Parameter = "reasoning_effort"
)

// ProviderMapping is one (provider, upstream-model-name) binding attached
// to a ModelDescriptor, carrying its own prices, limits, and capability
// overrides (§3).
type ProviderMapping struct {
	ProviderID     string
	UpstreamModel  string
	InputPrice     float64 // price per token
	OutputPrice    float64
	CachedInputPrice *float64 // nil = falls back to InputPrice
	RequestPrice   float64  // flat per-call price
	Discount       float64  // ∈ (0,1], defaults to 1
	ContextWindow  int
	MaxOutputTokens int

	SupportsStreaming *bool // nil = inherit provider default
	SupportsVision    *bool
	SupportsTools     *bool
	SupportsReasoning *bool

	ReasoningOutput     ReasoningOutputPolicy
	SupportedParameters []Parameter
}

// Supports reports whether this mapping accepts the given parameter.
func (m ProviderMapping) Supports(p Parameter) bool {
	for _, sp := range m.SupportedParameters {
		if sp == p {
			return true
		}
	}
	return false
}

// effectiveBool resolves an override against a provider-level default.
func effectiveBool(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

// EffectiveStreaming resolves this mapping's streaming support against the
// provider's default (§4.1 capability-flag overrides).
func (m ProviderMapping) EffectiveStreaming(p ProviderDescriptor) bool {
	return effectiveBool(m.SupportsStreaming, p.SupportsStreaming)
}

// EffectiveVision resolves this mapping's vision support against the
// provider's default.
func (m ProviderMapping) EffectiveVision(p ProviderDescriptor) bool {
	return effectiveBool(m.SupportsVision, p.SupportsVision)
}

// EffectiveTools resolves this mapping's tool-calling support against the
// provider's default.
func (m ProviderMapping) EffectiveTools(p ProviderDescriptor) bool {
	return effectiveBool(m.SupportsTools, p.SupportsTools)
}

// EffectiveReasoning resolves this mapping's reasoning support against the
// provider's default.
func (m ProviderMapping) EffectiveReasoning(p ProviderDescriptor) bool {
	return effectiveBool(m.SupportsReasoning, p.SupportsReasoning)
}

// ModelDescriptor is a canonical model and its per-provider mappings (§3).
type ModelDescriptor struct {
	ID                CanonicalModelID
	Name              string
	DeprecatedAt      *time.Time
	DeactivatedAt     *time.Time
	SupportsJSONOutput bool
	Mappings          []ProviderMapping
}

// CanonicalModelID is the globally-unique model identifier.
type CanonicalModelID string

// Deactivated reports whether the model is past its deactivation timestamp
// and must be refused (§3 invariants).
func (m ModelDescriptor) Deactivated(now time.Time) bool {
	return m.DeactivatedAt != nil && now.After(*m.DeactivatedAt)
}

// Deprecated reports whether the model is past its deprecation timestamp;
// it must still serve but may be hidden from "auto" selection.
func (m ModelDescriptor) Deprecated(now time.Time) bool {
	return m.DeprecatedAt != nil && now.After(*m.DeprecatedAt)
}

// MappingFor returns the mapping for a given provider id, if present.
func (m ModelDescriptor) MappingFor(providerID string) (ProviderMapping, bool) {
	for _, pm := range m.Mappings {
		if pm.ProviderID == providerID {
			return pm, true
		}
	}
	return ProviderMapping{}, false
}
