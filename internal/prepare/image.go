package prepare

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxImageBytes is the decoded-size ceiling for any image the gateway will
// forward to an upstream provider (§4.2.1, §8 boundary behaviors).
const maxImageBytes = 20 * 1024 * 1024

// ErrImageTooLarge is returned (wrapped) when an image exceeds maxImageBytes
// by any of the three measurements the spec names: Content-Length, actual
// bytes read, or the estimated size of a base64 data URL payload.
var ErrImageTooLarge = fmt.Errorf("image exceeds maximum size")

// ResolvedImage is the Image Processor's output: base64-encoded bytes and
// the MIME type to send upstream.
type ResolvedImage struct {
	Data     string
	MimeType string
}

// ImageResolver fetches and normalizes image references into base64 data
// the way §4.2.1 specifies. It is injected into Preparer so tests can swap
// in a fake HTTP client, the same dependency-injection idiom the teacher
// uses for provider.NewGoogleProvider's *http.Client.
type ImageResolver struct {
	Client *http.Client
	IsProd bool
}

// NewImageResolver builds an ImageResolver with the given client and
// production flag (which, when true, refuses non-https remote URLs).
func NewImageResolver(client *http.Client, isProd bool) *ImageResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &ImageResolver{Client: client, IsProd: isProd}
}

// imageFetchError wraps an internal cause while guaranteeing the message
// never includes the caller-supplied URL (§4.2.1: "error messages are
// sanitized: never include the URL").
type imageFetchError struct {
	reason string
	cause  error
}

func (e *imageFetchError) Error() string {
	if e.cause != nil {
		return "image fetch failed: " + e.reason
	}
	return "image fetch failed: " + e.reason
}

func (e *imageFetchError) Unwrap() error { return e.cause }

func newImageFetchError(reason string, cause error) error {
	return &imageFetchError{reason: reason, cause: cause}
}

// Resolve turns an image reference — a data: URL or an http(s) URL — into
// base64 bytes plus MIME type.
func (r *ImageResolver) Resolve(ref string) (ResolvedImage, error) {
	if strings.HasPrefix(ref, "data:") {
		return r.resolveDataURL(ref)
	}
	return r.resolveRemoteURL(ref)
}

// resolveDataURL parses "data:<mime>[;base64],<payload>".
func (r *ImageResolver) resolveDataURL(ref string) (ResolvedImage, error) {
	rest := strings.TrimPrefix(ref, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return ResolvedImage{}, newImageFetchError("malformed data URL", nil)
	}
	header := rest[:comma]
	payload := rest[comma+1:]

	isBase64 := false
	mime := header
	if idx := strings.IndexByte(header, ';'); idx >= 0 {
		mime = header[:idx]
		if header[idx+1:] == "base64" {
			isBase64 = true
		}
	}
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		return ResolvedImage{}, newImageFetchError("unsupported content type", nil)
	}

	var data string
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return ResolvedImage{}, newImageFetchError("invalid base64 payload", err)
		}
		if len(decoded) > maxImageBytes {
			return ResolvedImage{}, newImageFetchError("payload too large", ErrImageTooLarge)
		}
		data = payload
	} else {
		if len(payload) > maxImageBytes {
			return ResolvedImage{}, newImageFetchError("payload too large", ErrImageTooLarge)
		}
		data = base64.StdEncoding.EncodeToString([]byte(payload))
	}

	return ResolvedImage{Data: data, MimeType: mime}, nil
}

// resolveRemoteURL fetches an http(s) URL and base64-encodes its body.
func (r *ImageResolver) resolveRemoteURL(ref string) (ResolvedImage, error) {
	if r.IsProd && !strings.HasPrefix(ref, "https://") {
		return ResolvedImage{}, newImageFetchError("insecure URL refused in production", nil)
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return ResolvedImage{}, newImageFetchError("unsupported URL scheme", nil)
	}

	resp, err := r.Client.Get(ref)
	if err != nil {
		return ResolvedImage{}, newImageFetchError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ResolvedImage{}, newImageFetchError(fmt.Sprintf("upstream status %d", resp.StatusCode), nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return ResolvedImage{}, newImageFetchError("unsupported content type", nil)
	}

	if resp.ContentLength > maxImageBytes {
		return ResolvedImage{}, newImageFetchError("payload too large", ErrImageTooLarge)
	}

	// Read at most maxImageBytes+1 so an unbounded/lying upstream can't force
	// us to buffer an arbitrarily large body before rejecting it.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return ResolvedImage{}, newImageFetchError("read failed", err)
	}
	if len(body) > maxImageBytes {
		return ResolvedImage{}, newImageFetchError("payload too large", ErrImageTooLarge)
	}

	return ResolvedImage{
		Data:     base64.StdEncoding.EncodeToString(body),
		MimeType: contentType,
	}, nil
}
