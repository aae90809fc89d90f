// Package response implements the protocol-agnostic response model (spec
// §3, C4): status, protocol label, headers, body, trailers, cookies
// extracted from Set-Cookie, and optional captured-frame instrumentation.
package response

import (
	"strings"

	"github.com/sebastianosrt/riphttp/header"
	"github.com/sebastianosrt/riphttp/internal/compress"
)

// Cookie is a response-side cookie: name and value only, attributes
// discarded, grounded on original_source's extract_cookies/parse_set_cookie.
type Cookie struct {
	Name  string
	Value string
}

// CapturedFrame records one HEADERS or DATA frame sent or received on an
// HTTP/2 or HTTP/3 request stream when instrumentation is enabled (spec §6,
// "optional captured frames"). The client records it around the engine
// calls, after header blocks are decoded, so for HEADERS Length is the
// number of header fields rather than a wire byte count; for DATA it is the
// payload length. HTTP/1.1 exchanges record nothing.
type CapturedFrame struct {
	Direction string // "send" or "recv"
	Protocol  string // "h2" or "h3"
	Kind      string // "HEADERS" or "DATA"
	StreamID  int64
	Length    int
}

// Response is the final, complete HTTP response surfaced to a caller (spec
// §7, "a caller never sees a partial Response").
type Response struct {
	Status         int
	ProtocolLabel  string // "HTTP/1.1", "HTTP/2", "HTTP/3"
	Headers        header.List
	Body           []byte
	Trailers       header.List
	CapturedFrames []CapturedFrame
	Cookies        []Cookie
}

// New builds a Response, extracting cookies from any Set-Cookie headers.
func New(status int, protocolLabel string, headers header.List, body []byte, trailers header.List) *Response {
	return &Response{
		Status:        status,
		ProtocolLabel: protocolLabel,
		Headers:       headers,
		Body:          body,
		Trailers:      trailers,
		Cookies:       extractCookies(headers),
	}
}

// DecodeBody transparently decodes the body per the response's
// Content-Encoding header, replacing Body with the decoded bytes.
func (r *Response) DecodeBody() error {
	enc, ok := r.Headers.Get("Content-Encoding")
	if !ok || enc == "" {
		return nil
	}
	decoded, err := compress.DecodeBytes(enc, r.Body)
	if err != nil {
		return err
	}
	r.Body = decoded
	return nil
}

func extractCookies(headers header.List) []Cookie {
	var out []Cookie
	for _, v := range headers.GetAll("Set-Cookie") {
		if c, ok := parseSetCookie(v); ok {
			out = append(out, c)
		}
	}
	return out
}

func parseSetCookie(value string) (Cookie, bool) {
	pair, _, _ := strings.Cut(value, ";")
	pair = strings.TrimSpace(pair)
	if pair == "" {
		return Cookie{}, false
	}
	name, val, _ := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return Cookie{}, false
	}
	return Cookie{Name: name, Value: strings.TrimSpace(val)}, true
}

// IsInformational reports whether status is a 1xx code, which never
// terminates a request-wait (spec §8, invariant 6).
func IsInformational(status int) bool { return status >= 100 && status < 200 }

// HasNoBody reports whether a response of this status, for the given
// request method, carries no body per spec §4.2.
func HasNoBody(method string, status int) bool {
	if method == "HEAD" {
		return true
	}
	switch status {
	case 204, 205, 304:
		return true
	}
	return IsInformational(status)
}
