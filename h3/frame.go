// Package h3 implements HTTP/3 (RFC 9114) over a QUIC transport: varint
// framing, QPACK header compression via the quic-go/qpack library, and the
// connection engine driving the control stream handshake and per-request
// bidirectional streams. Grounded on original_source/src/h3/framing.rs and
// src/h3/connection.rs, restructured around the Go QUIC stream model instead
// of that file's incomplete send_request_frame placeholder.
package h3

import "github.com/sebastianosrt/riphttp/rerr"

// Frame types (RFC 9114 §7.2).
const (
	FrameData        uint64 = 0x0
	FrameHeaders     uint64 = 0x1
	FrameCancelPush  uint64 = 0x3
	FrameSettings    uint64 = 0x4
	FramePushPromise uint64 = 0x5
	FrameGoAway      uint64 = 0x7
	FrameMaxPushID   uint64 = 0x0d
)

// Stream types for HTTP/3 unidirectional streams (RFC 9114 §6.2).
const (
	StreamTypeControl      uint64 = 0x00
	StreamTypePush         uint64 = 0x01
	StreamTypeQPACKEncoder uint64 = 0x02
	StreamTypeQPACKDecoder uint64 = 0x03
)

// SETTINGS parameters (RFC 9204 §4.5, RFC 9114 §7.2.4.1).
const (
	SettingQPACKMaxTableCapacity uint64 = 0x1
	SettingMaxFieldSectionSize   uint64 = 0x6
	SettingQPACKBlockedStreams   uint64 = 0x7
)

// Default settings values this engine advertises.
const (
	DefaultQPACKMaxTableCapacity uint64 = 0
	DefaultMaxFieldSectionSize   uint64 = 8192
	DefaultQPACKBlockedStreams   uint64 = 0
)

// Frame is a parsed HTTP/3 frame: a varint type, a varint length, and a
// payload (RFC 9114 §7.1). Unlike HTTP/2, frames carry no stream id of their
// own -- the id comes from the QUIC stream they were read from.
type Frame struct {
	Type    uint64
	Payload []byte
}

// Serialize renders f as wire bytes: varint type, varint length, payload.
func (f *Frame) Serialize() []byte {
	out := make([]byte, 0, VarintLen(f.Type)+VarintLen(uint64(len(f.Payload)))+len(f.Payload))
	out = EncodeVarint(out, f.Type)
	out = EncodeVarint(out, uint64(len(f.Payload)))
	out = append(out, f.Payload...)
	return out
}

// ParseFrame parses one frame from the head of data, returning ok=false if
// data doesn't yet hold a complete frame.
func ParseFrame(data []byte) (frame *Frame, consumed int, ok bool, err error) {
	frameType, n1, ok1 := DecodeVarint(data)
	if !ok1 {
		return nil, 0, false, nil
	}
	length, n2, ok2 := DecodeVarint(data[n1:])
	if !ok2 {
		return nil, 0, false, nil
	}
	header := n1 + n2
	total := header + int(length)
	if len(data) < total {
		return nil, 0, false, nil
	}
	payload := make([]byte, length)
	copy(payload, data[header:total])
	return &Frame{Type: frameType, Payload: payload}, total, true, nil
}

// NewDataFrame wraps data in a DATA frame.
func NewDataFrame(data []byte) *Frame { return &Frame{Type: FrameData, Payload: data} }

// NewHeadersFrame wraps an already-QPACK-encoded field section in a HEADERS frame.
func NewHeadersFrame(fieldSection []byte) *Frame { return &Frame{Type: FrameHeaders, Payload: fieldSection} }

// NewSettingsFrame builds a SETTINGS frame carrying id/value pairs in order.
func NewSettingsFrame(settings []Setting) *Frame {
	var payload []byte
	for _, s := range settings {
		payload = EncodeVarint(payload, s.ID)
		payload = EncodeVarint(payload, s.Value)
	}
	return &Frame{Type: FrameSettings, Payload: payload}
}

// NewGoAwayFrame builds a GOAWAY frame naming the first stream id not processed.
func NewGoAwayFrame(streamID uint64) *Frame {
	return &Frame{Type: FrameGoAway, Payload: EncodeVarint(nil, streamID)}
}

// NewMaxPushIDFrame builds a MAX_PUSH_ID frame. Handshake sends one with
// pushID 0 since this client never enables server push (spec §9(c)).
func NewMaxPushIDFrame(pushID uint64) *Frame {
	return &Frame{Type: FrameMaxPushID, Payload: EncodeVarint(nil, pushID)}
}

// Setting is a single SETTINGS id/value pair.
type Setting struct {
	ID    uint64
	Value uint64
}

// ParseSettingsPayload decodes a SETTINGS frame payload into Setting pairs.
func ParseSettingsPayload(payload []byte) ([]Setting, error) {
	var out []Setting
	for offset := 0; offset < len(payload); {
		id, n1, ok := DecodeVarint(payload[offset:])
		if !ok {
			return nil, &rerr.H3MessageError{Msg: "truncated SETTINGS id"}
		}
		offset += n1
		value, n2, ok := DecodeVarint(payload[offset:])
		if !ok {
			return nil, &rerr.H3MessageError{Msg: "truncated SETTINGS value"}
		}
		offset += n2
		out = append(out, Setting{ID: id, Value: value})
	}
	return out, nil
}
