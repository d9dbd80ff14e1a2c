package headers

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/importd/dkrimport/dkrerr"
)

func TestApplyToken(t *testing.T) {
	var token string
	var endpoints []string
	assert.NilError(t, Apply("x-dkr-token", "abc123", &token, &endpoints))
	assert.Equal(t, token, "abc123")

	// A later header replaces an earlier one.
	assert.NilError(t, Apply("X-Dkr-Token", "def456", &token, &endpoints))
	assert.Equal(t, token, "def456")
}

func TestApplyEndpoints(t *testing.T) {
	var token string
	var endpoints []string
	assert.NilError(t, Apply("X-Dkr-Endpoints", "r1.example.com, r2.example.com", &token, &endpoints))
	assert.DeepEqual(t, endpoints, []string{"r1.example.com", "r2.example.com"})
}

func TestApplyEndpointsInvalidHostname(t *testing.T) {
	var token string
	var endpoints []string
	err := Apply("X-Dkr-Endpoints", "-bad-host,ok.example.com", &token, &endpoints)
	assert.Assert(t, err != nil)
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ProtocolError)
}

func TestApplyEndpointsEmpty(t *testing.T) {
	var token string
	var endpoints []string
	err := Apply("X-Dkr-Endpoints", "  , ", &token, &endpoints)
	assert.Assert(t, err != nil)
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ProtocolError)
}

func TestApplyIgnoresOtherHeaders(t *testing.T) {
	var token string
	var endpoints []string
	assert.NilError(t, Apply("Content-Type", "application/json", &token, &endpoints))
	assert.Equal(t, token, "")
	assert.Assert(t, endpoints == nil)
}
