// Package logrecord defines the two persisted row shapes the core touches
// (§3, §6.3): LogRecord, written once by the Dispatcher and mutated once by
// the Finalization Worker, and Lock, the lease primitive the worker uses
// for cooperative exclusivity.
package logrecord

import "time"

// ErrorKind is the §7 error taxonomy, stored on a LogRecord when a request
// failed before producing a usable response.
type ErrorKind string

const (
	ErrorNone             ErrorKind = ""
	ErrorClient           ErrorKind = "client_error"
	ErrorGateway          ErrorKind = "gateway_error"
	ErrorUpstream         ErrorKind = "upstream_error"
	ErrorNoCredential     ErrorKind = "no_credential"
	ErrorNoModel          ErrorKind = "no_model"
	ErrorTimeout          ErrorKind = "timeout"
	ErrorCancelled        ErrorKind = "cancelled"
	ErrorImageFetch       ErrorKind = "image_fetch_error"
)

// LogRecord is one request's accounting row (§3). It is created at response
// end with token counts best-effort and streamed=<bool>, then mutated
// exactly once by the Finalization Worker to set the cost fields and
// FinalizedAt.
type LogRecord struct {
	ID               string
	RequestID        string
	CanonicalModel   string
	UsedProvider     string
	UsedModel        string
	Streamed         bool
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	CachedTokens     int
	TotalTokens      int
	InputCost        *float64
	OutputCost       *float64
	CachedInputCost  *float64
	Cost             *float64
	FinishReason     string
	ErrorKind        ErrorKind
	CreatedAt        time.Time
	FinalizedAt      *time.Time
}

// Pending reports whether the record still awaits the Finalization Worker.
func (r LogRecord) Pending() bool { return r.FinalizedAt == nil }

// Lock is the lease row backing the Finalization Worker's cooperative
// exclusivity (§4.6, §9 "Lease, not advisory lock"): a unique key with a
// time-based expiry rather than an externally coordinated mutex.
type Lock struct {
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the lease is past leaseDuration since its last
// update and may be stolen by another worker.
func (l Lock) Expired(now time.Time, leaseDuration time.Duration) bool {
	return now.Sub(l.UpdatedAt) > leaseDuration
}
