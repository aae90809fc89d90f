package h2

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/net/http2/hpack"

	"github.com/sebastianosrt/riphttp/header"
	"github.com/sebastianosrt/riphttp/rerr"
)

// HpackCodec wraps golang.org/x/net/http2/hpack's encoder/decoder pair,
// bound to one connection's dynamic table, matching original_source's
// framing.rs Encoder/Decoder pairing but against the Go ecosystem's HPACK
// implementation per spec §1 ("assumed available as libraries").
type HpackCodec struct {
	encBuf *bytes.Buffer
	enc    *hpack.Encoder
	dec    *hpack.Decoder
}

// NewHpackCodec builds a codec with the given initial decoder table size.
func NewHpackCodec(decoderTableSize uint32) *HpackCodec {
	buf := &bytes.Buffer{}
	c := &HpackCodec{encBuf: buf, enc: hpack.NewEncoder(buf)}
	c.dec = hpack.NewDecoder(decoderTableSize, nil)
	return c
}

// SetEncoderTableSize bounds our HPACK encoder table to the peer's
// HEADER_TABLE_SIZE setting (spec §4.4).
func (c *HpackCodec) SetEncoderTableSize(size uint32) {
	c.enc.SetMaxDynamicTableSize(size)
}

// Encode renders headers as an HPACK block.
func (c *HpackCodec) Encode(headers header.List) ([]byte, error) {
	c.encBuf.Reset()
	for _, h := range headers {
		if err := c.enc.WriteField(hpack.HeaderField{Name: h.Name, Value: h.ValueString()}); err != nil {
			return nil, &rerr.H2CompressionErrorT{Msg: err.Error()}
		}
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

// Decode parses an HPACK block into an ordered header list. Per spec §4.3,
// a decoded name or value that isn't valid UTF-8 is a HeaderEncodingError,
// distinct from a malformed HPACK block itself.
func (c *HpackCodec) Decode(payload []byte) (header.List, error) {
	fields, err := c.dec.DecodeFull(payload)
	if err != nil {
		return nil, &rerr.H2CompressionErrorT{Msg: err.Error()}
	}
	out := make(header.List, len(fields))
	for i, f := range fields {
		if !utf8.ValidString(f.Name) {
			return nil, &rerr.HeaderEncodingError{Msg: fmt.Sprintf("header name %q is not valid UTF-8", f.Name)}
		}
		if !utf8.ValidString(f.Value) {
			return nil, &rerr.HeaderEncodingError{Msg: fmt.Sprintf("header value for %q is not valid UTF-8", f.Name)}
		}
		value := f.Value
		out[i] = header.Header{Name: f.Name, Value: &value}
	}
	return out, nil
}
