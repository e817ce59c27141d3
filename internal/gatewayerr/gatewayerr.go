// Package gatewayerr defines the structured error the dispatcher and
// validator return on every failure path. It carries the §7 error-kind
// taxonomy plus the HTTP status the server layer renders it as, and wraps
// an underlying cause the way the teacher wraps errors with fmt.Errorf.
package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/llmgateway/core/internal/logrecord"
)

// GatewayError is returned from every dispatcher and key-validator failure
// path and translated to the `{error:{type,message}}` HTTP body by the
// server layer.
type GatewayError struct {
	Kind    logrecord.ErrorKind
	Status  int
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.Cause }

func newErr(kind logrecord.ErrorKind, status int, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Status: status, Message: message, Cause: cause}
}

// ClientError reports a request the downstream caller should not retry
// unmodified: malformed body, invalid x-source, detected JSON-mode
// violation.
func ClientError(message string, cause error) *GatewayError {
	return newErr(logrecord.ErrorClient, http.StatusBadRequest, message, cause)
}

// NoCredential reports that no usable credential was found for the
// resolved provider.
func NoCredential(providerID string) *GatewayError {
	return newErr(logrecord.ErrorNoCredential, http.StatusUnauthorized,
		fmt.Sprintf("no usable credential for provider %q", providerID), nil)
}

// NoModel reports that the requested model is unknown or deactivated.
func NoModel(model string) *GatewayError {
	return newErr(logrecord.ErrorNoModel, http.StatusNotFound,
		fmt.Sprintf("model %q is unknown or deactivated", model), nil)
}

// Timeout reports that the upstream call exceeded its deadline.
func Timeout(cause error) *GatewayError {
	return newErr(logrecord.ErrorTimeout, http.StatusGatewayTimeout, "upstream request timed out", cause)
}

// Cancelled reports that the downstream caller hung up before a response
// was produced.
func Cancelled(cause error) *GatewayError {
	return newErr(logrecord.ErrorCancelled, 499, "downstream cancelled the request", cause)
}

// ImageFetchError reports that image preparation failed. The message never
// includes the source URL (§4.2.1).
func ImageFetchError(cause error) *GatewayError {
	return newErr(logrecord.ErrorImageFetch, http.StatusBadRequest, "failed to prepare an image attachment", cause)
}

// FromUpstream classifies a non-2xx upstream response per §7's
// finish-reason mapping: >=500 is upstream_error, a 400 whose body
// carries the JSON-mode error text "must contain the word 'json'"
// (case-insensitive) is client_error, everything else is gateway_error.
func FromUpstream(status int, body string) *GatewayError {
	switch {
	case status >= 500:
		return newErr(logrecord.ErrorUpstream, http.StatusBadGateway,
			fmt.Sprintf("upstream returned status %d", status), errors.New(body))
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "must contain the word 'json'"):
		return newErr(logrecord.ErrorClient, http.StatusBadRequest,
			"upstream rejected the request for violating JSON-mode constraints", errors.New(body))
	default:
		return newErr(logrecord.ErrorGateway, status,
			fmt.Sprintf("upstream returned status %d", status), errors.New(body))
	}
}

// Internal reports an internal gateway failure not attributable to the
// client or a classified upstream response.
func Internal(message string, cause error) *GatewayError {
	return newErr(logrecord.ErrorGateway, http.StatusInternalServerError, message, cause)
}

// Body is the wire shape rendered by the server layer: {"error":{"type":...,"message":...}}.
type Body struct {
	Error BodyDetail `json:"error"`
}

type BodyDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ToBody converts a GatewayError to its wire representation.
func (e *GatewayError) ToBody() Body {
	return Body{Error: BodyDetail{Type: string(e.Kind), Message: e.Message}}
}

// As reports whether err is, or wraps, a *GatewayError, mirroring the
// standard library's errors.As for this package's common case.
func As(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
