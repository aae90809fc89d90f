package h3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianosrt/riphttp/header"
)

func TestQpackEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewQpackCodec()
	dec := NewQpackCodec()

	in := header.List{
		header.New(":status", "200"),
		header.New("content-type", "text/plain"),
	}
	wire, err := enc.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, wire[:2])

	out, err := dec.Decode(wire)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, ":status", out[0].Name)
	assert.Equal(t, "200", out[0].ValueString())
	assert.Equal(t, "content-type", out[1].Name)
	assert.Equal(t, "text/plain", out[1].ValueString())
}

func TestQpackDecodeRejectsTruncatedFieldSection(t *testing.T) {
	dec := NewQpackCodec()
	_, err := dec.Decode([]byte{0x00})
	assert.Error(t, err)
}

func TestQpackEncodeEmptyHeadersStillWritesPrefix(t *testing.T) {
	enc := NewQpackCodec()
	wire, err := enc.Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, wire)
}
