package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/llmgateway/core/internal/canonical"
	"github.com/llmgateway/core/internal/dispatch"
	"github.com/llmgateway/core/internal/gatewayerr"
	"github.com/llmgateway/core/internal/stream"
)

// errInvalidSource is returned by normalizeSource when the header doesn't
// match ^[a-zA-Z0-9./-]+$ after stripping scheme and www. (§8).
var errInvalidSource = errors.New("invalid x-source header")

// sourceRE is the §6.1/§8 validation for a normalized x-source value.
var sourceRE = regexp.MustCompile(`^[a-zA-Z0-9./-]+$`)

// handleHealth responds with a simple JSON status indicating the server is
// alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChatCompletions handles POST /v1/chat/completions (§6.1): decodes
// the canonical request, applies the optional headers, and dispatches to
// either the streaming or non-streaming path.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req canonical.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gatewayerr.ClientError("invalid request body", err))
		return
	}

	if _, err := normalizeSource(r.Header.Get("x-source"), r.Header.Get("HTTP-Referer")); err != nil {
		writeError(w, gatewayerr.ClientError(err.Error(), nil))
		return
	}

	if alt := r.Header.Get("x-llmgateway-model"); alt != "" {
		req.Model = alt
	}

	requestID := r.Header.Get("x-request-id")
	auth := dispatch.AuthContext{OrgID: bearerToken(r), CreditsMode: s.CreditsMode}

	if req.Stream {
		s.handleStream(w, r, &req, auth, requestID)
		return
	}
	s.handleNonStream(w, r, &req, auth, requestID)
}

func (s *Server) handleNonStream(w http.ResponseWriter, r *http.Request, req *canonical.Request, auth dispatch.AuthContext, requestID string) {
	resp, err := s.dispatcher.Dispatch(r.Context(), req, auth, requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, req *canonical.Request, auth dispatch.AuthContext, requestID string) {
	chunks, err := s.dispatcher.DispatchStream(r.Context(), req, auth, requestID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := stream.Write(w, chunks); err != nil {
		s.logger.Error("server: stream write failed", "error", err, "request_id", requestID)
	}
}

// writeError translates a dispatch error into the §7 {error:{type,
// message}} HTTP response, defaulting to a 500 gateway_error for anything
// that isn't already a *GatewayError.
func writeError(w http.ResponseWriter, err error) {
	ge, ok := gatewayerr.As(err)
	if !ok {
		ge = gatewayerr.Internal("unexpected error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.Status)
	json.NewEncoder(w).Encode(ge.ToBody())
}

// bearerToken extracts the raw token from an "Authorization: Bearer <...>"
// header, used directly as the organization id for credential lookups.
// Organization/project resolution and auth middleware proper are out of
// scope (§1 Non-goals); this core only needs a stable key to look up
// provider credentials by.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return h
}

// normalizeSource implements the §6.1/§8 x-source normalization: strip a
// leading http(s):// and www., fall back to HTTP-Referer when x-source is
// unset, and reject anything not matching ^[a-zA-Z0-9./-]+$.
func normalizeSource(xSource, referer string) (string, error) {
	raw := xSource
	if raw == "" {
		raw = referer
	}
	if raw == "" {
		return "", nil
	}

	normalized := raw
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(normalized, prefix) {
			normalized = normalized[len(prefix):]
			break
		}
	}
	normalized = strings.TrimPrefix(normalized, "www.")

	if !sourceRE.MatchString(normalized) {
		return "", errInvalidSource
	}
	return normalized, nil
}
