// Package h2 implements HTTP/2 binary framing (spec §4.3, C6) and the
// connection engine (spec §4.4, C7): preface/SETTINGS handshake, stream
// table, dual-direction flow control, HEADERS/CONTINUATION reassembly, and
// inbound frame dispatch. Grounded on original_source/src/h2/framing.rs and
// src/h2/connection.rs, with HPACK supplied by golang.org/x/net/http2/hpack
// per the teacher's dependency on that module.
package h2

import (
	"encoding/binary"

	"github.com/sebastianosrt/riphttp/rerr"
)

// Frame types (RFC 7540 §6).
const (
	FrameData         byte = 0x0
	FrameHeaders      byte = 0x1
	FramePriority     byte = 0x2
	FrameRSTStream    byte = 0x3
	FrameSettings     byte = 0x4
	FramePushPromise  byte = 0x5
	FramePing         byte = 0x6
	FrameGoAway       byte = 0x7
	FrameWindowUpdate byte = 0x8
	FrameContinuation byte = 0x9
)

// Frame flags (RFC 7540 §6).
const (
	FlagEndStream  byte = 0x1
	FlagAck        byte = 0x1
	FlagEndHeaders byte = 0x4
	FlagPadded     byte = 0x8
	FlagPriority   byte = 0x20
)

const (
	FrameHeaderSize        = 9
	DefaultMaxFrameSize    = 16384
	MaxFrameSizeUpperBound = 16777215
)

// Frame is a parsed HTTP/2 frame (RFC 7540 §4.1).
type Frame struct {
	Type     byte
	Flags    byte
	StreamID uint32
	Payload  []byte
}

func (f *Frame) IsEndStream() bool  { return f.Flags&FlagEndStream != 0 }
func (f *Frame) IsEndHeaders() bool { return f.Flags&FlagEndHeaders != 0 }
func (f *Frame) IsAck() bool        { return f.Flags&FlagAck != 0 }
func (f *Frame) IsPadded() bool     { return f.Flags&FlagPadded != 0 }
func (f *Frame) HasPriority() bool  { return f.Flags&FlagPriority != 0 }

// Serialize renders f as wire bytes: 24-bit length, 8-bit type, 8-bit
// flags, 31-bit stream id (reserved bit cleared), payload.
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.Payload) > MaxFrameSizeUpperBound {
		return nil, &rerr.H2FrameSizeError{Msg: "frame payload exceeds maximum frame size"}
	}
	out := make([]byte, FrameHeaderSize+len(f.Payload))
	length := uint32(len(f.Payload))
	out[0] = byte(length >> 16)
	out[1] = byte(length >> 8)
	out[2] = byte(length)
	out[3] = f.Type
	out[4] = f.Flags
	binary.BigEndian.PutUint32(out[5:9], f.StreamID&0x7FFFFFFF)
	copy(out[9:], f.Payload)
	return out, nil
}

// ParseFrame parses one frame from the head of data. It returns the frame
// and the number of bytes consumed, or ok=false if data doesn't yet hold a
// complete frame (the caller should read more and retry).
func ParseFrame(data []byte) (frame *Frame, consumed int, ok bool, err error) {
	if len(data) < FrameHeaderSize {
		return nil, 0, false, nil
	}
	length := uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
	total := FrameHeaderSize + int(length)
	if len(data) < total {
		return nil, 0, false, nil
	}
	streamID := binary.BigEndian.Uint32(data[5:9]) & 0x7FFFFFFF
	payload := make([]byte, length)
	copy(payload, data[FrameHeaderSize:total])
	return &Frame{
		Type:     data[3],
		Flags:    data[4],
		StreamID: streamID,
		Payload:  payload,
	}, total, true, nil
}

// NewData builds a DATA frame.
func NewData(streamID uint32, data []byte, endStream bool) *Frame {
	var flags byte
	if endStream {
		flags |= FlagEndStream
	}
	return &Frame{Type: FrameData, Flags: flags, StreamID: streamID, Payload: data}
}

// NewSettings builds a SETTINGS frame carrying id/value pairs in order.
func NewSettings(settings []Setting) *Frame {
	payload := make([]byte, 0, len(settings)*6)
	for _, s := range settings {
		buf := make([]byte, 6)
		binary.BigEndian.PutUint16(buf[0:2], uint16(s.ID))
		binary.BigEndian.PutUint32(buf[2:6], s.Value)
		payload = append(payload, buf...)
	}
	return &Frame{Type: FrameSettings, StreamID: 0, Payload: payload}
}

// NewSettingsAck builds an empty, ACK-flagged SETTINGS frame.
func NewSettingsAck() *Frame {
	return &Frame{Type: FrameSettings, Flags: FlagAck, StreamID: 0}
}

// NewWindowUpdate builds a WINDOW_UPDATE frame; the top reserved bit of
// increment is cleared.
func NewWindowUpdate(streamID uint32, increment uint32) *Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, increment&0x7FFFFFFF)
	return &Frame{Type: FrameWindowUpdate, StreamID: streamID, Payload: payload}
}

// NewRSTStream builds an RST_STREAM frame with the given error code.
func NewRSTStream(streamID uint32, code uint32) *Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, code)
	return &Frame{Type: FrameRSTStream, StreamID: streamID, Payload: payload}
}

// NewPing builds a PING frame (or ACK if ack is true) carrying an 8-byte
// opaque payload.
func NewPing(data [8]byte, ack bool) *Frame {
	var flags byte
	if ack {
		flags = FlagAck
	}
	return &Frame{Type: FramePing, Flags: flags, StreamID: 0, Payload: data[:]}
}

// NewGoAway builds a GOAWAY frame.
func NewGoAway(lastStreamID uint32, code uint32, debug []byte) *Frame {
	payload := make([]byte, 8+len(debug))
	binary.BigEndian.PutUint32(payload[0:4], lastStreamID&0x7FFFFFFF)
	binary.BigEndian.PutUint32(payload[4:8], code)
	copy(payload[8:], debug)
	return &Frame{Type: FrameGoAway, StreamID: 0, Payload: payload}
}

// Setting is a single SETTINGS id/value pair (RFC 7540 §6.5.2).
type Setting struct {
	ID    SettingID
	Value uint32
}

// SettingID identifies a SETTINGS parameter.
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

// ParseSettingsPayload decodes a SETTINGS frame payload into Setting pairs,
// ignoring unknown ids per spec §4.4 ("Unknown settings are ignored") --
// here "ignored" means passed through for the caller to skip, since the
// parser cannot know the application's tolerance policy.
func ParseSettingsPayload(payload []byte) ([]Setting, error) {
	if len(payload)%6 != 0 {
		return nil, &rerr.H2FrameSizeError{Msg: "SETTINGS payload not a multiple of 6"}
	}
	out := make([]Setting, 0, len(payload)/6)
	for i := 0; i < len(payload); i += 6 {
		id := binary.BigEndian.Uint16(payload[i : i+2])
		value := binary.BigEndian.Uint32(payload[i+2 : i+6])
		out = append(out, Setting{ID: SettingID(id), Value: value})
	}
	return out, nil
}
