// Package header implements the protocol-agnostic header model: ordered
// name/value pairs, pseudo-header tagging, case-folding, and wire
// serialization for HTTP/1.1 vs HTTP/2/3.
package header

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Header is a single header or trailer field. A nil Value means "valueless":
// emitted bare on HTTP/1.1, empty-valued on HTTP/2/3.
type Header struct {
	Name  string
	Value *string
}

// New returns a Header with a value, normalizing escape sequences in both
// name and value.
func New(name, value string) Header {
	return Header{Name: unescape(name), Value: strPtr(unescape(value))}
}

// NewValueless returns a Header with no value (e.g. a bare HPACK flag header
// used in raw-mode experiments).
func NewValueless(name string) Header {
	return Header{Name: unescape(name)}
}

func strPtr(s string) *string { return &s }

// unescape resolves the backslash escape sequences \r \n \t \\ in textual
// parse input (spec §3, "Creation normalizes embedded escape sequences").
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'r':
				b.WriteByte('\r')
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 't':
				b.WriteByte('\t')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ValueString returns the header's value, or "" if valueless.
func (h Header) ValueString() string {
	if h.Value == nil {
		return ""
	}
	return *h.Value
}

// IsPseudo reports whether this is an HTTP/2 or HTTP/3 pseudo-header,
// i.e. its name begins with ':'.
func (h Header) IsPseudo() bool {
	return strings.HasPrefix(h.Name, ":")
}

// EqualFold reports whether h's name matches name case-insensitively.
func (h Header) EqualFold(name string) bool {
	return strings.EqualFold(h.Name, name)
}

// List is an ordered sequence of header fields, preserving insertion order
// and allowing duplicate names (as HTTP permits).
type List []Header

// Get returns the value of the first header matching name case-insensitively,
// and whether it was found.
func (l List) Get(name string) (string, bool) {
	for _, h := range l {
		if h.EqualFold(name) {
			return h.ValueString(), true
		}
	}
	return "", false
}

// Has reports whether a header named name is present, regardless of value.
func (l List) Has(name string) bool {
	for _, h := range l {
		if h.EqualFold(name) {
			return true
		}
	}
	return false
}

// GetAll returns every value for headers matching name case-insensitively,
// in insertion order (used for e.g. multiple Set-Cookie lines).
func (l List) GetAll(name string) []string {
	var out []string
	for _, h := range l {
		if h.EqualFold(name) {
			out = append(out, h.ValueString())
		}
	}
	return out
}

// Set replaces all existing headers named name with a single new entry,
// appended at the position of the first match (or the end, if absent).
func (l List) Set(name, value string) List {
	out := make(List, 0, len(l)+1)
	set := false
	for _, h := range l {
		if h.EqualFold(name) {
			if !set {
				out = append(out, New(name, value))
				set = true
			}
			continue
		}
		out = append(out, h)
	}
	if !set {
		out = append(out, New(name, value))
	}
	return out
}

// Add appends a header, preserving any existing entries of the same name.
func (l List) Add(name, value string) List {
	return append(l, New(name, value))
}

// Del removes every header matching name case-insensitively.
func (l List) Del(name string) List {
	out := make(List, 0, len(l))
	for _, h := range l {
		if !h.EqualFold(name) {
			out = append(out, h)
		}
	}
	return out
}

// Clone returns a shallow copy safe to mutate independently.
func (l List) Clone() List {
	out := make(List, len(l))
	copy(out, l)
	return out
}

// Pseudo splits l into pseudo-headers and regular headers, preserving
// relative order within each group.
func (l List) Pseudo() (pseudo, regular List) {
	for _, h := range l {
		if h.IsPseudo() {
			pseudo = append(pseudo, h)
		} else {
			regular = append(regular, h)
		}
	}
	return pseudo, regular
}

// Lowered returns a copy with every non-pseudo and pseudo name lowercased,
// as required when emitting on HTTP/2 or HTTP/3 (spec §3, §4.1).
func (l List) Lowered() List {
	out := make(List, len(l))
	for i, h := range l {
		out[i] = Header{Name: strings.ToLower(h.Name), Value: h.Value}
	}
	return out
}

// WriteLine renders the header the way it appears on an HTTP/1.1 wire: a
// bare token for a valueless header, or "name: value" otherwise.
func (h Header) WriteLine() string {
	if h.Value == nil {
		return h.Name
	}
	return h.Name + ": " + *h.Value
}

// ValidName reports whether name is a syntactically valid HTTP field name.
func ValidName(name string) bool {
	return httpguts.ValidHeaderFieldName(name)
}

// ValidValue reports whether value is a syntactically valid HTTP field value
// (no embedded CR/LF that could enable header/response splitting).
func ValidValue(value string) bool {
	return httpguts.ValidHeaderFieldValue(value)
}
