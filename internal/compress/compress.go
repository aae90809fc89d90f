// Package compress decodes the Content-Encoding values the response
// assembly stage (spec §6, "Response surface … body bytes") is willing to
// transparently unwrap: gzip, deflate, and br.
package compress

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecodeReader wraps reader with one decoder per comma-separated encoding
// named in the Content-Encoding header value, applied in the order the
// encodings were applied on the wire (i.e. the order listed).
func DecodeReader(encoding string, reader io.Reader) (io.Reader, error) {
	out := reader
	for _, enc := range strings.Split(encoding, ",") {
		switch strings.TrimSpace(strings.ToLower(enc)) {
		case "gzip":
			r, err := gzip.NewReader(out)
			if err != nil {
				return nil, err
			}
			out = r
		case "deflate":
			r, err := zlib.NewReader(out)
			if err != nil {
				return nil, err
			}
			out = r
		case "br":
			out = brotli.NewReader(out)
		case "identity", "":
			// no-op
		default:
			return nil, fmt.Errorf("unsupported content-encoding %q", enc)
		}
	}
	return out, nil
}

// DecodeBytes is the non-streaming convenience form used once a full body
// has already been read off the wire (the common case for H1/H2/H3 engines,
// which hand response assembly a complete byte slice per spec §3).
func DecodeBytes(encoding string, body []byte) ([]byte, error) {
	if encoding == "" {
		return body, nil
	}
	r, err := DecodeReader(encoding, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
