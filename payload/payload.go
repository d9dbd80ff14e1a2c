// Package payload decodes the two JSON payload shapes this protocol
// exchanges: a bare layer-id string and a layer-id array. See spec
// section 4.2.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/importd/dkrimport/dkrerr"
	"github.com/importd/dkrimport/ident"
)

// MaxAncestryLength is the largest accepted ancestry array.
const MaxAncestryLength = 2048

// ParseID decodes a JSON document consisting of exactly one quoted
// string matching the layer-id predicate. Embedded NULs, an empty
// payload, malformed JSON, or trailing tokens all fail with
// ProtocolError.
func ParseID(b []byte) (string, error) {
	if len(b) == 0 {
		return "", protoErr("parse_id", errors.New("empty payload"))
	}
	if bytes.IndexByte(b, 0) >= 0 {
		return "", protoErr("parse_id", errors.New("embedded NUL"))
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	var id string
	if err := dec.Decode(&id); err != nil {
		return "", protoErr("parse_id", fmt.Errorf("decode: %w", err))
	}
	if err := expectNoTrailing(dec); err != nil {
		return "", err
	}
	if !ident.IsLayerID(id) {
		return "", protoErr("parse_id", fmt.Errorf("invalid layer id %q", id))
	}
	return id, nil
}

// ParseAncestry decodes a JSON array of layer-id strings. The array
// must be non-empty, duplicate-free, and no larger than
// MaxAncestryLength (TooManyLayers beyond that). The returned slice is
// reversed relative to the wire order, so index 0 is the deepest
// ancestor and the last element is the queried image id.
func ParseAncestry(b []byte) ([]string, error) {
	if bytes.IndexByte(b, 0) >= 0 {
		return nil, protoErr("parse_ancestry", errors.New("embedded NUL"))
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	var ids []string
	if err := dec.Decode(&ids); err != nil {
		return nil, protoErr("parse_ancestry", fmt.Errorf("decode: %w", err))
	}
	if err := expectNoTrailing(dec); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, protoErr("parse_ancestry", errors.New("empty ancestry"))
	}
	if len(ids) > MaxAncestryLength {
		return nil, dkrerr.New(dkrerr.TooManyLayers, "parse_ancestry",
			fmt.Errorf("ancestry has %d entries, max %d", len(ids), MaxAncestryLength))
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if !ident.IsLayerID(id) {
			return nil, protoErr("parse_ancestry", fmt.Errorf("invalid layer id %q", id))
		}
		if _, dup := seen[id]; dup {
			return nil, protoErr("parse_ancestry", fmt.Errorf("duplicate layer id %q", id))
		}
		seen[id] = struct{}{}
	}

	reversed := make([]string, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}
	return reversed, nil
}

// expectNoTrailing reports ProtocolError if dec has any remaining
// top-level token after the value already decoded.
func expectNoTrailing(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return protoErr("payload", errors.New("trailing data after JSON value"))
		}
		return protoErr("payload", fmt.Errorf("trailing data: %w", err))
	}
	return nil
}

func protoErr(op string, err error) error {
	return dkrerr.New(dkrerr.ProtocolError, op, err)
}
