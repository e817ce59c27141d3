// Package dispatch implements the Dispatcher (§4.3): the per-request
// orchestrator that resolves a model and provider, retrieves a credential,
// prepares and invokes the upstream call, and normalizes the result back
// into the canonical format, writing a LogRecord when it finishes.
package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/credential"
	"github.com/llmgateway/core/internal/gatewayerr"
	"github.com/llmgateway/core/internal/logrecord"
	"github.com/llmgateway/core/internal/prepare"
	"github.com/llmgateway/core/internal/registry"
	"github.com/llmgateway/core/internal/usage"
)

// LogWriter is the subset of the log store the dispatcher needs, kept as
// an interface here so this package never imports the concrete Postgres
// store (§6.3 treats persistence as a collaborator, not a dependency).
type LogWriter interface {
	Write(ctx context.Context, r logrecord.LogRecord) error
}

// AuthContext carries the caller identity a dispatch resolves credentials
// and fallback policy against (§4.3 step 3).
type AuthContext struct {
	OrgID       string
	CreditsMode bool // if true, fall back to the platform credential when the org has none
}

// Dispatcher is the request-dispatch pipeline's orchestrator (§2 item 3).
type Dispatcher struct {
	Registry        *registry.Registry
	Credentials     credential.Store
	Preparer        *prepare.Preparer
	Estimator       *usage.Estimator
	HTTPClient      *http.Client
	Logs            LogWriter
	Logger          *slog.Logger
	RequestTimeout  time.Duration // default 300s (§4.3 step 5)
	Retry           RetryConfig
	UseResponsesAPI bool
	GatewayURL      string // override base URL, empty to use each provider's default template
}

// New builds a Dispatcher with the teacher's constructor-injection idiom:
// every collaborator is passed in explicitly rather than looked up from a
// global.
func New(reg *registry.Registry, creds credential.Store, prep *prepare.Preparer, estimator *usage.Estimator, httpClient *http.Client, logs LogWriter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Registry:       reg,
		Credentials:    creds,
		Preparer:       prep,
		Estimator:      estimator,
		HTTPClient:     httpClient,
		Logs:           logs,
		Logger:         logger,
		RequestTimeout: 300 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

func (d *Dispatcher) requestTimeout() time.Duration {
	if d.RequestTimeout <= 0 {
		return 300 * time.Second
	}
	return d.RequestTimeout
}

// resolveModel implements §4.3 step 1.
func (d *Dispatcher) resolveModel(req *canonical.Request) (registry.ModelDescriptor, string, *gatewayerr.GatewayError) {
	now := time.Now()
	selector := req.Model

	if selector == "" || selector == canonical.AutoModel {
		model, ok := d.cheapestAutoModel(req, now)
		if !ok {
			return registry.ModelDescriptor{}, "", gatewayerr.NoModel(selector)
		}
		return model, "", nil
	}

	if providerID, modelID, ok := splitProviderModel(selector); ok {
		if _, known := d.Registry.GetProvider(providerID); known {
			model, found := d.Registry.GetModel(registry.CanonicalModelID(modelID))
			if !found || model.Deactivated(now) {
				return registry.ModelDescriptor{}, "", gatewayerr.NoModel(selector)
			}
			return model, providerID, nil
		}
	}

	model, found := d.Registry.GetModel(registry.CanonicalModelID(selector))
	if !found || model.Deactivated(now) {
		return registry.ModelDescriptor{}, "", gatewayerr.NoModel(selector)
	}
	return model, "", nil
}

// splitProviderModel parses a "provider/model" selector, reporting ok=false
// when selector has no slash.
func splitProviderModel(selector string) (providerID, modelID string, ok bool) {
	i := strings.IndexByte(selector, '/')
	if i <= 0 || i == len(selector)-1 {
		return "", "", false
	}
	return selector[:i], selector[i+1:], true
}

// cheapestAutoModel scans every non-deprecated, non-deactivated model for
// one with at least one mapping satisfying the request's capability needs,
// and returns the model owning the overall cheapest qualifying mapping.
func (d *Dispatcher) cheapestAutoModel(req *canonical.Request, now time.Time) (registry.ModelDescriptor, bool) {
	var available []registry.AvailableMapping
	for _, model := range d.Registry.Models() {
		if model.Deactivated(now) || model.Deprecated(now) {
			continue
		}
		for _, mapping := range model.Mappings {
			provider, ok := d.Registry.GetProvider(mapping.ProviderID)
			if !ok || !mappingSatisfies(req, provider, mapping) {
				continue
			}
			available = append(available, registry.AvailableMapping{Model: model, Mapping: mapping})
		}
	}
	best, found := registry.GetCheapestFromAvailableProviders(available)
	if !found {
		return registry.ModelDescriptor{}, false
	}
	return best.Model, true
}

// mappingSatisfies checks the capability flags a request needs against a
// mapping's effective (override-or-provider-default) capabilities.
func mappingSatisfies(req *canonical.Request, provider registry.ProviderDescriptor, mapping registry.ProviderMapping) bool {
	if req.NeedsTools() && !mapping.EffectiveTools(provider) {
		return false
	}
	if req.NeedsVision() && !mapping.EffectiveVision(provider) {
		return false
	}
	if req.NeedsReasoning() && !mapping.EffectiveReasoning(provider) {
		return false
	}
	if req.Stream && !mapping.EffectiveStreaming(provider) {
		return false
	}
	return true
}

// resolveProvider implements §4.3 step 2: filter the model's mappings to
// ones with an available credential and satisfied capabilities, then take
// the cheapest.
func (d *Dispatcher) resolveProvider(ctx context.Context, model registry.ModelDescriptor, constrainProvider string, auth AuthContext, req *canonical.Request) (registry.ProviderMapping, *gatewayerr.GatewayError) {
	var available []registry.AvailableMapping
	for _, mapping := range model.Mappings {
		if constrainProvider != "" && mapping.ProviderID != constrainProvider {
			continue
		}
		provider, ok := d.Registry.GetProvider(mapping.ProviderID)
		if !ok || !mappingSatisfies(req, provider, mapping) {
			continue
		}
		if !d.hasCredential(ctx, auth, mapping.ProviderID) {
			continue
		}
		available = append(available, registry.AvailableMapping{Model: model, Mapping: mapping})
	}
	best, found := registry.GetCheapestFromAvailableProviders(available)
	if !found {
		return registry.ProviderMapping{}, gatewayerr.NoCredential(string(model.ID))
	}
	return best.Mapping, nil
}

func (d *Dispatcher) hasCredential(ctx context.Context, auth AuthContext, providerID string) bool {
	if _, ok, err := d.Credentials.Get(ctx, auth.OrgID, providerID); err == nil && ok {
		return true
	}
	if auth.CreditsMode {
		if _, ok, err := d.Credentials.PlatformKey(ctx, providerID); err == nil && ok {
			return true
		}
	}
	return false
}

// resolveCredential implements §4.3 step 3.
func (d *Dispatcher) resolveCredential(ctx context.Context, auth AuthContext, providerID string) (string, *gatewayerr.GatewayError) {
	key, ok, err := d.Credentials.Get(ctx, auth.OrgID, providerID)
	if err != nil {
		return "", gatewayerr.Internal("credential lookup failed", err)
	}
	if ok {
		return key, nil
	}
	if auth.CreditsMode {
		key, ok, err := d.Credentials.PlatformKey(ctx, providerID)
		if err != nil {
			return "", gatewayerr.Internal("platform credential lookup failed", err)
		}
		if ok {
			return key, nil
		}
	}
	return "", gatewayerr.NoCredential(providerID)
}

// newRequestID generates a LogRecord id when the caller supplies no
// x-request-id (§6.1).
func newRequestID() string { return uuid.NewString() }
