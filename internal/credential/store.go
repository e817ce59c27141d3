// Package credential implements the Credential Store the Dispatcher treats
// as an external collaborator (§1, §5): per-(organization, provider)
// API key lookup, read-only during dispatch, with writes serialized per
// key so two concurrent credential updates for the same organization and
// provider never interleave.
package credential

import "context"

// Store resolves an organization's provider API key, and separately a
// platform-owned fallback key used when an organization is in "credits
// mode" and has no key of its own for that provider (§4.3 step 3).
type Store interface {
	// Get returns the organization's key for providerID, or ok=false if
	// none is configured.
	Get(ctx context.Context, orgID, providerID string) (key string, ok bool, err error)

	// Set stores orgID's key for providerID, serialized against any
	// concurrent Set for the same (orgID, providerID) pair.
	Set(ctx context.Context, orgID, providerID, key string) error

	// PlatformKey returns the gateway-operator-owned key for providerID
	// used in credits mode, or ok=false if the platform has none.
	PlatformKey(ctx context.Context, providerID string) (key string, ok bool, err error)
}

// ErrKeyNotFound is a sentinel a Store implementation may wrap, though
// callers are expected to branch on the returned ok bool rather than on
// this error — it exists for implementations that want a typed cause.
var ErrKeyNotFound = keyNotFoundError{}

type keyNotFoundError struct{}

func (keyNotFoundError) Error() string { return "credential: key not found" }
