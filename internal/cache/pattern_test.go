package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		prefix  string
		pattern string
		key     string
		match   bool
	}{
		{"", "*", "anything", true},
		{"", "*", "", true},
		{"audit:", "org:*", "audit:org:1", true},
		{"audit:", "org:*", "org:1", false},
		{"audit:", "org:*:logs", "audit:org:7:logs", true},
		{"audit:", "org:*:logs", "audit:org:7:logs:old", false},
		{"", "a.b", "axb", false},
		{"", "a.b", "a.b", true},
		{"(x)", "*", "(x)key", true},
		{"", "line*", "line1\nline2", true},
	}
	for _, tt := range tests {
		t.Run(tt.prefix+tt.pattern, func(t *testing.T) {
			re, err := compilePattern(tt.prefix, tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.match, re.MatchString(tt.key), "key %q", tt.key)
		})
	}
}

func TestValidatePattern(t *testing.T) {
	for _, ok := range []string{"*", "org:*", "a*b*c", "plain"} {
		assert.NoError(t, validatePattern(ok), ok)
	}
	for _, bad := range []string{"", "a?", "[ab]", "a]", `a\*`, "a\tb", "a\x00"} {
		assert.Error(t, validatePattern(bad), "%q", bad)
	}
}

func TestScanMatch(t *testing.T) {
	assert.Equal(t, "audit:org:*", scanMatch("audit:", "org:*"))
	assert.Equal(t, `a\*b\?\[c\]\\:*`, scanMatch(`a*b?[c]\:`, "*"))
	assert.Equal(t, "k*", scanMatch("", "k*"))
}

func TestCodecs(t *testing.T) {
	type record struct {
		ID   string
		Tags []string
	}
	in := record{ID: "evt-9", Tags: []string{"pii", "export"}}

	for _, codec := range []Codec{CodecJSON, CodecGob} {
		data, err := encodeValue(codec, in)
		require.NoError(t, err, codec)
		out, err := decodeValue[record](codec, data)
		require.NoError(t, err, codec)
		assert.Equal(t, in, out, codec)
	}

	_, err := encodeValue(Codec("yaml"), in)
	assert.Error(t, err)
	_, err = decodeValue[record](Codec("yaml"), nil)
	assert.Error(t, err)
}

func TestCompressor(t *testing.T) {
	payload := []byte("SELECT * FROM audit_logs WHERE org_id = $1 SELECT * FROM audit_logs WHERE org_id = $1")

	for _, kind := range []Compression{CompressionNone, CompressionZstd, CompressionS2} {
		c, err := newCompressor(kind)
		require.NoError(t, err, kind)

		frame := c.compress(payload)
		out, err := c.decompress(frame)
		require.NoError(t, err, kind)
		assert.Equal(t, payload, out, kind)
		c.close()
	}

	_, err := newCompressor("brotli")
	assert.Error(t, err)

	c, err := newCompressor(CompressionNone)
	require.NoError(t, err)
	_, err = c.decompress(nil)
	assert.Error(t, err)
	_, err = c.decompress([]byte{frameZstd, 0xde, 0xad})
	assert.Error(t, err)
}
