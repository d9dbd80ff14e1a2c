// Package headers parses the two registry response headers this
// protocol recognizes: the auth token and the registry endpoint list.
// See spec section 4.1.
package headers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/importd/dkrimport/dkrerr"
	"github.com/importd/dkrimport/ident"
)

// Header names as sent by the index/registry. Case is irrelevant: Apply
// compares via http.CanonicalHeaderKey.
const (
	TokenHeader     = "X-Dkr-Token"
	EndpointsHeader = "X-Dkr-Endpoints"
)

// Apply inspects a single response header name/value pair and updates
// token/endpoints accordingly. Called once per header, matching the
// on_header(name, value) callback shape of spec section 4.6.
//
// token is replaced unconditionally when the token header is seen.
// endpoints is replaced with a freshly validated, non-empty list when
// the endpoints header is seen; an invalid hostname anywhere in the
// comma-separated list fails the whole header with ProtocolError.
func Apply(name, value string, token *string, endpoints *[]string) error {
	switch http.CanonicalHeaderKey(name) {
	case http.CanonicalHeaderKey(TokenHeader):
		*token = value
	case http.CanonicalHeaderKey(EndpointsHeader):
		parsed, err := parseEndpoints(value)
		if err != nil {
			return err
		}
		*endpoints = parsed
	}
	return nil
}

func parseEndpoints(value string) ([]string, error) {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !ident.IsHostname(p) {
			return nil, dkrerr.New(dkrerr.ProtocolError, "headers.Apply", fmt.Errorf("invalid hostname %q", p))
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, dkrerr.New(dkrerr.ProtocolError, "headers.Apply", errors.New("empty endpoints header"))
	}
	return out, nil
}
