// Package request implements the protocol-agnostic request builder and its
// derivation into a PreparedRequest: pseudo-header synthesis, path/query
// composition, and default header injection (spec §3, §4.1), grounded on
// the teacher's (*ClientConn).encodeHeaders pseudo-header ordering and
// header-filtering logic.
package request

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sebastianosrt/riphttp/header"
	"github.com/sebastianosrt/riphttp/rerr"
	"github.com/sebastianosrt/riphttp/target"
)

// BodyShape identifies which body representation is active; setting one
// clears the others (spec §3, "exactly one body encoding is active").
type BodyShape int

const (
	BodyNone BodyShape = iota
	BodyRaw
	BodyJSON
	BodyForm
)

// TimeoutProfile bounds connect/read/write I/O. A zero-valued profile with
// Disabled set turns every timeout off.
type TimeoutProfile struct {
	Connect  time.Duration
	Read     time.Duration
	Write    time.Duration
	Disabled bool
}

// KV is an ordered key/value pair, used for both query parameters and
// form-field bodies so insertion order survives encoding (spec §8, "stable
// pair order").
type KV struct {
	Key   string
	Value string
}

// Cookie is a request-side cookie (name/value only; attributes live on the
// wire, not the model).
type Cookie struct {
	Name  string
	Value string
}

// DefaultUserAgent is injected when the caller hasn't set one explicitly.
const DefaultUserAgent = "riphttp/1.0"

// Request is the builder-style, mutable request model (spec §3, C3).
type Request struct {
	Target *target.Target
	Method string

	Query    []KV
	Headers  header.List
	Trailers header.List
	Cookies  []Cookie

	body      []byte
	bodyShape BodyShape

	Timeouts        TimeoutProfile
	FollowRedirects bool
	MaxRedirects    int

	ProxyURL string

	// Instrument enables captured-frame instrumentation on the resulting
	// Response (wire-level HEADERS/DATA trace); additive only, never changes
	// wire behavior.
	Instrument bool
}

// New builds a Request for method against rawURL. method is validated
// non-empty; the target is parsed via target.Parse.
func New(method, rawURL string) (*Request, error) {
	if strings.TrimSpace(method) == "" {
		return nil, fmt.Errorf("%w: empty method", rerr.ErrInvalidMethod)
	}
	t, err := target.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{
		Target:          t,
		Method:          strings.ToUpper(method),
		FollowRedirects: true,
		MaxRedirects:    30,
	}, nil
}

// AddHeader appends a header, preserving duplicates.
func (r *Request) AddHeader(name, value string) *Request {
	r.Headers = r.Headers.Add(name, value)
	return r
}

// SetHeader replaces any existing header(s) named name with a single value.
func (r *Request) SetHeader(name, value string) *Request {
	r.Headers = r.Headers.Set(name, value)
	return r
}

// AddTrailer appends a trailer field, sent after the body completes.
func (r *Request) AddTrailer(name, value string) *Request {
	r.Trailers = r.Trailers.Add(name, value)
	return r
}

// AddQuery appends a query parameter, merged with the target's URL query at
// prepare time.
func (r *Request) AddQuery(key, value string) *Request {
	r.Query = append(r.Query, KV{key, value})
	return r
}

// SetInstrument toggles captured-frame instrumentation for this request.
func (r *Request) SetInstrument(v bool) *Request {
	r.Instrument = v
	return r
}

// AddCookie appends a cookie; Cookie header default injection serializes
// all cookies in insertion order if the caller hasn't set Cookie explicitly.
func (r *Request) AddCookie(name, value string) *Request {
	r.Cookies = append(r.Cookies, Cookie{name, value})
	return r
}

// SetBodyRaw sets the body to raw bytes, clearing any JSON/form-fields shape.
func (r *Request) SetBodyRaw(body []byte) *Request {
	r.body = body
	r.bodyShape = BodyRaw
	return r
}

// SetBodyJSON serializes v to JSON and sets it as the body, clearing
// form-fields.
func (r *Request) SetBodyJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.body = b
	r.bodyShape = BodyJSON
	return nil
}

// SetBodyForm URL-form-encodes fields and sets it as the body, clearing JSON.
func (r *Request) SetBodyForm(fields []KV) *Request {
	r.body = []byte(encodeOrdered(fields))
	r.bodyShape = BodyForm
	return r
}

// encodeOrdered URL-form-encodes pairs preserving insertion order, unlike
// url.Values.Encode which sorts by key.
func encodeOrdered(pairs []KV) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// Body returns the currently active body bytes and its shape.
func (r *Request) Body() ([]byte, BodyShape) { return r.body, r.bodyShape }

// PreparedRequest is the immutable, per-attempt derivation of a Request
// (spec §3, C3->derivation). Its pseudo-headers are only meaningful for
// HTTP/2 and HTTP/3 sends; the HTTP/1.1 engine uses EffectivePath and
// RegularHeaders directly.
type PreparedRequest struct {
	Method         string
	EffectivePath  string
	Authority      string
	Scheme         string
	PseudoHeaders  header.List
	RegularHeaders header.List
	Body           []byte
	Trailers       header.List
}

// Prepare derives a PreparedRequest: composes the effective path, injects
// default headers, and synthesizes pseudo-headers per spec §4.1.
func Prepare(r *Request) (*PreparedRequest, error) {
	if r.Target == nil {
		return nil, fmt.Errorf("%w: no target", rerr.ErrInvalidTarget)
	}

	path := effectivePath(r)

	callerPseudo, regular := r.Headers.Pseudo()
	if !regular.Has("Cookie") && len(r.Cookies) > 0 {
		regular = regular.Add("Cookie", serializeCookies(r.Cookies))
	}
	if !regular.Has("Content-Type") {
		switch r.bodyShape {
		case BodyJSON:
			regular = regular.Add("Content-Type", "application/json")
		case BodyForm:
			regular = regular.Add("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if !regular.Has("User-Agent") {
		regular = regular.Add("User-Agent", DefaultUserAgent)
	}

	for _, h := range regular {
		if !header.ValidName(h.Name) {
			return nil, &rerr.MalformedHeaders{Msg: fmt.Sprintf("invalid header name %q", h.Name)}
		}
		if h.Value != nil && !header.ValidValue(*h.Value) {
			return nil, &rerr.MalformedHeaders{Msg: fmt.Sprintf("invalid header value for %q", h.Name)}
		}
	}
	for _, h := range callerPseudo {
		if !header.ValidName(strings.TrimPrefix(h.Name, ":")) {
			return nil, &rerr.MalformedHeaders{Msg: fmt.Sprintf("invalid pseudo-header name %q", h.Name)}
		}
		if h.Value != nil && !header.ValidValue(*h.Value) {
			return nil, &rerr.MalformedHeaders{Msg: fmt.Sprintf("invalid header value for %q", h.Name)}
		}
	}

	pseudo := synthesizePseudoHeaders(r, path, callerPseudo)

	return &PreparedRequest{
		Method:         r.Method,
		EffectivePath:  path,
		Authority:      r.Target.Authority(),
		Scheme:         r.Target.Scheme,
		PseudoHeaders:  pseudo,
		RegularHeaders: regular.Lowered(),
		Body:           r.body,
		Trailers:       r.Trailers.Lowered(),
	}, nil
}

// effectivePath merges the target URL's existing query with the request's
// query pairs (spec §4.1, "Path composition").
func effectivePath(r *Request) string {
	path := r.Target.Path
	if path == "" {
		path = "/"
	}

	existing := r.Target.Query
	added := encodeOrdered(r.Query)

	var merged string
	switch {
	case existing == "" && added == "":
		return path
	case existing == "":
		merged = added
	case added == "":
		merged = existing
	default:
		merged = existing + "&" + added
	}
	return path + "?" + merged
}

// synthesizePseudoHeaders emits :method first, then per spec §4.1's
// per-method rules, unless the caller already supplied a pseudo-header of
// that name (caller's value wins), grounded on the teacher's enumerateHeaders
// closure's CONNECT/non-CONNECT branching.
func synthesizePseudoHeaders(r *Request, path string, callerPseudo header.List) header.List {
	has := func(name string) (string, bool) { return callerPseudo.Get(name) }

	out := header.List{}
	if v, ok := has(":method"); ok {
		out = out.Add(":method", v)
	} else {
		out = out.Add(":method", r.Method)
	}

	switch r.Method {
	case "CONNECT":
		if v, ok := has(":authority"); ok {
			out = out.Add(":authority", v)
		} else {
			out = out.Add(":authority", r.Target.Authority())
		}
	case "OPTIONS":
		p := path
		if r.Target.Path == "*" {
			p = "*"
		}
		addPathSchemeAuthority(&out, r, has, p)
	default:
		addPathSchemeAuthority(&out, r, has, path)
	}
	return out
}

func addPathSchemeAuthority(out *header.List, r *Request, has func(string) (string, bool), path string) {
	if v, ok := has(":path"); ok {
		*out = out.Add(":path", v)
	} else {
		*out = out.Add(":path", path)
	}
	if v, ok := has(":scheme"); ok {
		*out = out.Add(":scheme", v)
	} else {
		*out = out.Add(":scheme", r.Target.Scheme)
	}
	if v, ok := has(":authority"); ok {
		*out = out.Add(":authority", v)
	} else {
		*out = out.Add(":authority", r.Target.Authority())
	}
}

func serializeCookies(cookies []Cookie) string {
	var b strings.Builder
	for i, c := range cookies {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}
	return b.String()
}
