package payload

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/importd/dkrimport/dkrerr"
)

func id(b byte) string {
	return strings.Repeat(string(rune(b)), 64)
}

func TestParseID(t *testing.T) {
	valid := id('a')
	got, err := ParseID([]byte(`"` + valid + `"`))
	assert.NilError(t, err)
	assert.Equal(t, got, valid)
}

func TestParseIDEmpty(t *testing.T) {
	_, err := ParseID(nil)
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ProtocolError)
}

func TestParseIDEmbeddedNUL(t *testing.T) {
	_, err := ParseID([]byte("\"" + id('a') + "\x00\""))
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ProtocolError)
}

func TestParseIDTrailingJunk(t *testing.T) {
	_, err := ParseID([]byte(`"` + id('a') + `" garbage`))
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ProtocolError)
}

func TestParseIDInvalidShape(t *testing.T) {
	_, err := ParseID([]byte(`{"not":"a string"}`))
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ProtocolError)
}

func TestParseAncestryReversesAndValidates(t *testing.T) {
	a, b := id('a'), id('b')
	got, err := ParseAncestry([]byte(`["` + b + `","` + a + `"]`))
	assert.NilError(t, err)
	assert.DeepEqual(t, got, []string{a, b})
}

func TestParseAncestryEmpty(t *testing.T) {
	_, err := ParseAncestry([]byte(`[]`))
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ProtocolError)
}

func TestParseAncestryDuplicate(t *testing.T) {
	a := id('a')
	_, err := ParseAncestry([]byte(`["` + a + `","` + a + `"]`))
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ProtocolError)
}

func TestParseAncestryTooMany(t *testing.T) {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < MaxAncestryLength+1; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('"')
		sb.WriteString(strings.Repeat("0123456789abcdef"[i%16:i%16+1], 64))
		sb.WriteByte('"')
	}
	sb.WriteByte(']')
	_, err := ParseAncestry([]byte(sb.String()))
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.TooManyLayers)
}

func TestParseAncestryInvalidLayerID(t *testing.T) {
	_, err := ParseAncestry([]byte(`["not-hex"]`))
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ProtocolError)
}

func TestParseAncestryTrailingJunk(t *testing.T) {
	a := id('a')
	_, err := ParseAncestry([]byte(`["` + a + `"] junk`))
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ProtocolError)
}
