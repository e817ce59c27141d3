package gatewayerr

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmgateway/core/internal/logrecord"
)

func TestFromUpstream_ServerErrorIsUpstreamKind(t *testing.T) {
	err := FromUpstream(503, "service unavailable")
	assert.Equal(t, logrecord.ErrorUpstream, err.Kind)
	assert.Equal(t, http.StatusBadGateway, err.Status)
}

func TestFromUpstream_BadRequestMentioningJSONIsClientKind(t *testing.T) {
	err := FromUpstream(400, `{"error":"messages must contain the word 'json'"}`)
	assert.Equal(t, logrecord.ErrorClient, err.Kind)
}

func TestFromUpstream_OtherBadRequestIsGatewayKind(t *testing.T) {
	err := FromUpstream(404, "model not found")
	assert.Equal(t, logrecord.ErrorGateway, err.Kind)
	assert.Equal(t, 404, err.Status)
}

func TestToBody_RendersErrorEnvelope(t *testing.T) {
	err := NoCredential("anthropic")
	body := err.ToBody()
	assert.Equal(t, "no_credential", body.Error.Type)
	assert.Contains(t, body.Error.Message, "anthropic")
}

func TestAs_UnwrapsWrappedGatewayError(t *testing.T) {
	inner := NoModel("gpt-9")
	wrapped := ClientError("bad request", inner)

	ge, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, logrecord.ErrorClient, ge.Kind)
}

func TestImageFetchError_MessageNeverEmbedsCause(t *testing.T) {
	err := ImageFetchError(assertErr("https://evil.example/secret"))
	assert.NotContains(t, err.Message, "evil.example")
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func assertErr(s string) error { return stringErr(s) }
