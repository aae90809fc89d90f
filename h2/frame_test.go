package h2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	f := NewData(3, []byte("payload"), true)
	wire, err := f.Serialize()
	require.NoError(t, err)

	parsed, consumed, ok, err := ParseFrame(wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(wire), consumed)
	assert.Equal(t, f.Type, parsed.Type)
	assert.Equal(t, f.StreamID, parsed.StreamID)
	assert.Equal(t, f.Payload, parsed.Payload)
	assert.True(t, parsed.IsEndStream())
}

func TestSerializeClearsReservedStreamIDBit(t *testing.T) {
	f := NewWindowUpdate(1<<31|5, 100)
	wire, err := f.Serialize()
	require.NoError(t, err)
	parsed, _, ok, err := ParseFrame(wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(5), parsed.StreamID)
}

func TestParseFrameIncompleteReturnsNotOK(t *testing.T) {
	f := NewPing([8]byte{1, 2, 3, 4, 5, 6, 7, 8}, false)
	wire, err := f.Serialize()
	require.NoError(t, err)

	_, _, ok, err := ParseFrame(wire[:FrameHeaderSize+2])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseFrameHeaderOnlyIncomplete(t *testing.T) {
	_, _, ok, err := ParseFrame([]byte{0, 0, 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSerializeRejectsOversizedPayload(t *testing.T) {
	f := &Frame{Type: FrameData, Payload: make([]byte, MaxFrameSizeUpperBound+1)}
	_, err := f.Serialize()
	assert.Error(t, err)
}

func TestNewSettingsAckIsEmptyWithAckFlag(t *testing.T) {
	f := NewSettingsAck()
	assert.True(t, f.IsAck())
	assert.Empty(t, f.Payload)
}

func TestNewRSTStreamCarriesErrorCode(t *testing.T) {
	f := NewRSTStream(7, 0x1)
	wire, err := f.Serialize()
	require.NoError(t, err)
	parsed, _, ok, err := ParseFrame(wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FrameRSTStream, parsed.Type)
	assert.Equal(t, uint32(7), parsed.StreamID)
	assert.Equal(t, uint32(0x1), be32(parsed.Payload))
}

func TestNewGoAwayEncodesLastStreamIDAndDebug(t *testing.T) {
	f := NewGoAway(9, 0x2, []byte("bye"))
	wire, err := f.Serialize()
	require.NoError(t, err)
	parsed, _, ok, err := ParseFrame(wire)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(9), be32(parsed.Payload[0:4]))
	assert.Equal(t, byte('b'), parsed.Payload[8])
	assert.Equal(t, []byte("bye"), parsed.Payload[8:])
}

func TestParseSettingsPayloadRoundTrip(t *testing.T) {
	in := []Setting{
		{ID: SettingHeaderTableSize, Value: 4096},
		{ID: SettingInitialWindowSize, Value: 65535},
	}
	f := NewSettings(in)
	out, err := ParseSettingsPayload(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseSettingsPayloadRejectsBadLength(t *testing.T) {
	_, err := ParseSettingsPayload([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFlagHelpers(t *testing.T) {
	f := &Frame{Flags: FlagEndHeaders | FlagPadded | FlagPriority}
	assert.True(t, f.IsEndHeaders())
	assert.True(t, f.IsPadded())
	assert.True(t, f.HasPriority())
	assert.False(t, f.IsEndStream())
}
