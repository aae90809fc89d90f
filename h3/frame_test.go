package h3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintRoundTripBoundaries(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 1<<14 - 1, 1 << 14, 1<<30 - 1, 1 << 30, 1<<62 - 1}
	for _, v := range cases {
		buf := EncodeVarint(nil, v)
		got, consumed, ok := DecodeVarint(buf)
		require.True(t, ok, v)
		assert.Equal(t, len(buf), consumed, v)
		assert.Equal(t, v, got, v)
	}
}

func TestVarintLenMatchesEncodedLength(t *testing.T) {
	for _, v := range []uint64{0, 1 << 6, 1 << 14, 1 << 30} {
		assert.Equal(t, len(EncodeVarint(nil, v)), VarintLen(v), v)
	}
}

func TestDecodeVarintIncompleteReturnsNotOK(t *testing.T) {
	buf := EncodeVarint(nil, 1<<20)
	_, _, ok := DecodeVarint(buf[:1])
	assert.False(t, ok)
}

func TestFrameSerializeParseRoundTrip(t *testing.T) {
	f := NewDataFrame([]byte("payload"))
	wire := f.Serialize()

	parsed, consumed, ok, err := ParseFrame(wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(wire), consumed)
	assert.Equal(t, FrameData, parsed.Type)
	assert.Equal(t, []byte("payload"), parsed.Payload)
}

func TestParseFrameIncompleteReturnsNotOK(t *testing.T) {
	f := NewHeadersFrame([]byte("abcdefgh"))
	wire := f.Serialize()

	_, _, ok, err := ParseFrame(wire[:len(wire)-2])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGoAwayFrameCarriesStreamID(t *testing.T) {
	f := NewGoAwayFrame(12)
	wire := f.Serialize()
	parsed, _, ok, err := ParseFrame(wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FrameGoAway, parsed.Type)
	id, _, ok := DecodeVarint(parsed.Payload)
	require.True(t, ok)
	assert.Equal(t, uint64(12), id)
}

func TestMaxPushIDFrameRoundTrip(t *testing.T) {
	f := NewMaxPushIDFrame(5)
	wire := f.Serialize()
	parsed, _, ok, err := ParseFrame(wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FrameMaxPushID, parsed.Type)
}

func TestSettingsFrameRoundTrip(t *testing.T) {
	in := []Setting{
		{ID: SettingQPACKMaxTableCapacity, Value: 0},
		{ID: SettingMaxFieldSectionSize, Value: 65536},
	}
	f := NewSettingsFrame(in)
	wire := f.Serialize()

	parsed, _, ok, err := ParseFrame(wire)
	require.NoError(t, err)
	require.True(t, ok)
	out, err := ParseSettingsPayload(parsed.Payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseSettingsPayloadRejectsTruncatedValue(t *testing.T) {
	// A setting ID with no following value varint.
	buf := EncodeVarint(nil, SettingMaxFieldSectionSize)
	_, err := ParseSettingsPayload(buf)
	assert.Error(t, err)
}
