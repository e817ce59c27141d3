package registry

import (
	"fmt"
	"strings"
	"time"
)

// Registry is the immutable in-memory model/provider catalog (§4.1).
// Safe for concurrent use without locking since it never mutates after
// construction — the same "immutable at runtime" guarantee the teacher's
// config.Config enjoys once loaded.
type Registry struct {
	providers map[string]ProviderDescriptor
	models    map[CanonicalModelID]ModelDescriptor
}

// New builds a Registry from explicit provider and model lists. Production
// callers typically pass registry.DefaultProviders() and
// registry.DefaultModels(); tests pass small fixtures.
func New(providers []ProviderDescriptor, models []ModelDescriptor) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]ProviderDescriptor, len(providers)),
		models:    make(map[CanonicalModelID]ModelDescriptor, len(models)),
	}
	for _, p := range providers {
		r.providers[p.ID] = p
	}
	for _, m := range models {
		if _, dup := r.models[m.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate model id %q", m.ID)
		}
		seen := make(map[string]struct{}, len(m.Mappings))
		for _, mp := range m.Mappings {
			key := mp.ProviderID + "/" + mp.UpstreamModel
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("registry: duplicate mapping %q on model %q", key, m.ID)
			}
			seen[key] = struct{}{}
			if mp.InputPrice < 0 || mp.OutputPrice < 0 || mp.RequestPrice < 0 {
				return nil, fmt.Errorf("registry: negative price on mapping %q of model %q", key, m.ID)
			}
			if mp.Discount < 0 || mp.Discount > 1 {
				return nil, fmt.Errorf("registry: discount out of (0,1] on mapping %q of model %q", key, m.ID)
			}
		}
		r.models[m.ID] = m
	}
	return r, nil
}

// EffectiveDiscount returns the mapping's discount, defaulting to 1 when
// unset, so zero-value mappings built in tests don't need to remember to
// set Discount explicitly.
func (m ProviderMapping) EffectiveDiscount() float64 {
	if m.Discount == 0 {
		return 1
	}
	return m.Discount
}

// GetModel looks up a model by canonical id.
func (r *Registry) GetModel(id CanonicalModelID) (ModelDescriptor, bool) {
	m, ok := r.models[id]
	return m, ok
}

// GetProvider looks up a provider descriptor by id.
func (r *Registry) GetProvider(id string) (ProviderDescriptor, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Models returns every registered model, for "auto" selection sweeps.
func (r *Registry) Models() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// EndpointParams bundles the inputs getProviderEndpoint needs (§4.1).
type EndpointParams struct {
	ProviderID           string
	BaseURL              string // overrides the provider's default template when non-empty
	Model                string // upstream model name
	APIKey               string
	Stream               bool
	SupportsReasoning    bool
	HasExistingToolCalls bool
	UseResponsesAPI      bool // the USE_RESPONSES_API deployment flag
}

// GetProviderEndpoint builds the upstream URL per the rules in §4.1.
func (r *Registry) GetProviderEndpoint(p EndpointParams) (string, error) {
	desc, ok := r.providers[p.ProviderID]
	if !ok {
		return "", fmt.Errorf("registry: unknown provider %q", p.ProviderID)
	}
	base := p.BaseURL
	if base == "" {
		base = desc.BaseURLTemplate
	}
	base = strings.TrimRight(base, "/")

	switch desc.AuthShape {
	case AuthURLEmbedded:
		// Google AI Studio: key is embedded in the URL; streaming uses a
		// distinct method name and requires alt=sse.
		method := "generateContent"
		suffix := ""
		if p.Stream {
			method = "streamGenerateContent"
			suffix = "&alt=sse"
		}
		return fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s%s", base, p.Model, method, p.APIKey, suffix), nil
	case AuthAPIKeyHeader:
		return base + "/v1/messages", nil
	default:
		if p.SupportsReasoning && !p.HasExistingToolCalls && p.UseResponsesAPI {
			return base + "/responses", nil
		}
		return base + "/chat/completions", nil
	}
}

// GetProviderHeaders builds the auth headers for a provider (§4.1).
// Content-Type is set by the caller, not here.
func (r *Registry) GetProviderHeaders(providerID, token string) (map[string]string, error) {
	desc, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("registry: unknown provider %q", providerID)
	}
	switch desc.AuthShape {
	case AuthAPIKeyHeader:
		return map[string]string{
			"x-api-key":         token,
			"anthropic-version": "2023-06-01",
			"anthropic-beta":    "tools-2024-04-04,prompt-caching-2024-07-31",
		}, nil
	case AuthURLEmbedded:
		return map[string]string{}, nil
	default:
		return map[string]string{
			"Authorization": "Bearer " + token,
		}, nil
	}
}

// priceScore implements the "cheapest" formula shared by
// GetCheapestModelForProvider and GetCheapestFromAvailableProviders:
// ((inputPrice + outputPrice) / 2) * discount.
func priceScore(m ProviderMapping) float64 {
	return (m.InputPrice + m.OutputPrice) / 2 * m.EffectiveDiscount()
}

// GetCheapestModelForProvider returns the cheapest non-deprecated mapping
// for a provider among mappings with both input and output prices defined
// (§4.1, used by the Key Validator).
func (r *Registry) GetCheapestModelForProvider(providerID string, now time.Time) (ModelDescriptor, ProviderMapping, bool) {
	var (
		bestModel   ModelDescriptor
		bestMapping ProviderMapping
		bestScore   float64
		found       bool
	)
	for _, m := range r.models {
		if m.Deprecated(now) || m.Deactivated(now) {
			continue
		}
		mapping, ok := m.MappingFor(providerID)
		if !ok {
			continue
		}
		if mapping.InputPrice == 0 && mapping.OutputPrice == 0 {
			continue
		}
		score := priceScore(mapping)
		if !found || score < bestScore {
			bestModel, bestMapping, bestScore, found = m, mapping, score, true
		}
	}
	return bestModel, bestMapping, found
}

// AvailableMapping pairs a model with one of its mappings, used as the
// caller-filtered input to GetCheapestFromAvailableProviders.
type AvailableMapping struct {
	Model   ModelDescriptor
	Mapping ProviderMapping
}

// GetCheapestFromAvailableProviders applies the same cheapest-score formula
// over a caller-filtered set, breaking ties by encounter order (§4.1).
func GetCheapestFromAvailableProviders(available []AvailableMapping) (AvailableMapping, bool) {
	var (
		best      AvailableMapping
		bestScore float64
		found     bool
	)
	for _, a := range available {
		score := priceScore(a.Mapping)
		if !found || score < bestScore {
			best, bestScore, found = a, score, true
		}
	}
	return best, found
}
