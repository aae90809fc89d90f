package h3

import (
	"bytes"

	"github.com/quic-go/qpack"

	"github.com/sebastianosrt/riphttp/header"
	"github.com/sebastianosrt/riphttp/rerr"
)

// QpackCodec wraps github.com/quic-go/qpack's encoder/decoder pair the same
// way h2.HpackCodec wraps golang.org/x/net/http2/hpack, minus dynamic-table
// bookkeeping since this engine never grows the table past zero capacity.
//
// Unlike hpack.Encoder/hpack.Decoder, quic-go/qpack's pair operates on whole
// "encoded field sections" (RFC 9204 §4.5.1) rather than bare field-line
// sequences: the encoder writes the Required-Insert-Count/Base prefix ahead
// of the first field line it encodes, and DecodeFull -- named for decoding a
// full field section, not a partial block -- expects that prefix to still be
// present at the start of its input. Both values are always zero here since
// QPACK_MAX_TABLE_CAPACITY is permanently advertised as 0 (spec §4.5, "no
// dynamic table"); Encode writes the two zero bytes itself only for an empty
// header list, where the encoder emits nothing.
type QpackCodec struct {
	encBuf *bytes.Buffer
	enc    *qpack.Encoder
	dec    *qpack.Decoder
}

// NewQpackCodec builds a codec with a static (zero-capacity) dynamic table.
func NewQpackCodec() *QpackCodec {
	buf := &bytes.Buffer{}
	c := &QpackCodec{encBuf: buf, enc: qpack.NewEncoder(buf)}
	c.dec = qpack.NewDecoder(nil)
	return c
}

// Encode renders headers as a QPACK field section, including its leading
// Required-Insert-Count/Base prefix.
func (c *QpackCodec) Encode(headers header.List) ([]byte, error) {
	c.encBuf.Reset()
	c.enc = qpack.NewEncoder(c.encBuf)
	for _, h := range headers {
		if err := c.enc.WriteField(qpack.HeaderField{Name: h.Name, Value: h.ValueString()}); err != nil {
			return nil, &rerr.H3QpackError{Msg: err.Error()}
		}
	}
	if c.encBuf.Len() == 0 {
		// No field line was written, so the encoder emitted no prefix either.
		c.encBuf.Write([]byte{0x00, 0x00})
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

// Decode parses a QPACK field section, prefix included.
func (c *QpackCodec) Decode(fieldSection []byte) (header.List, error) {
	fields, err := c.dec.DecodeFull(fieldSection)
	if err != nil {
		return nil, &rerr.H3QpackError{Msg: err.Error()}
	}
	out := make(header.List, len(fields))
	for i, f := range fields {
		value := f.Value
		out[i] = header.Header{Name: f.Name, Value: &value}
	}
	return out, nil
}
