package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUppercasesMethodAndDefaults(t *testing.T) {
	r, err := New("get", "https://example.com/path")
	require.NoError(t, err)
	assert.Equal(t, "GET", r.Method)
	assert.True(t, r.FollowRedirects)
	assert.Equal(t, 30, r.MaxRedirects)
}

func TestNewRejectsEmptyMethod(t *testing.T) {
	_, err := New("  ", "https://example.com/")
	assert.Error(t, err)
}

func TestNewRejectsBadTarget(t *testing.T) {
	_, err := New("GET", "ftp://example.com/")
	assert.Error(t, err)
}

func TestPrepareInjectsDefaultHeaders(t *testing.T) {
	r, err := New("GET", "https://example.com/")
	require.NoError(t, err)

	p, err := Prepare(r)
	require.NoError(t, err)

	v, ok := p.RegularHeaders.Get("user-agent")
	assert.True(t, ok)
	assert.Equal(t, DefaultUserAgent, v)
}

func TestPrepareDoesNotOverrideExplicitUserAgent(t *testing.T) {
	r, err := New("GET", "https://example.com/")
	require.NoError(t, err)
	r.SetHeader("User-Agent", "custom/1.0")

	p, err := Prepare(r)
	require.NoError(t, err)
	v, _ := p.RegularHeaders.Get("user-agent")
	assert.Equal(t, "custom/1.0", v)
}

func TestPrepareSerializesCookiesWhenNoExplicitCookieHeader(t *testing.T) {
	r, err := New("GET", "https://example.com/")
	require.NoError(t, err)
	r.AddCookie("a", "1")
	r.AddCookie("b", "2")

	p, err := Prepare(r)
	require.NoError(t, err)
	v, ok := p.RegularHeaders.Get("cookie")
	assert.True(t, ok)
	assert.Equal(t, "a=1; b=2", v)
}

func TestPrepareSetsContentTypeForJSONBody(t *testing.T) {
	r, err := New("POST", "https://example.com/")
	require.NoError(t, err)
	require.NoError(t, r.SetBodyJSON(map[string]string{"k": "v"}))

	p, err := Prepare(r)
	require.NoError(t, err)
	v, ok := p.RegularHeaders.Get("content-type")
	assert.True(t, ok)
	assert.Equal(t, "application/json", v)
	assert.JSONEq(t, `{"k":"v"}`, string(p.Body))
}

func TestPrepareSetsContentTypeForFormBody(t *testing.T) {
	r, err := New("POST", "https://example.com/")
	require.NoError(t, err)
	r.SetBodyForm([]KV{{Key: "a", Value: "1 2"}})

	p, err := Prepare(r)
	require.NoError(t, err)
	v, _ := p.RegularHeaders.Get("content-type")
	assert.Equal(t, "application/x-www-form-urlencoded", v)
	assert.Equal(t, "a=1+2", string(p.Body))
}

func TestPrepareRejectsInvalidHeaderValue(t *testing.T) {
	r, err := New("GET", "https://example.com/")
	require.NoError(t, err)
	r.AddHeader("X-Bad", "line1\r\nline2")

	_, err = Prepare(r)
	assert.Error(t, err)
}

func TestEffectivePathMergesQuery(t *testing.T) {
	r, err := New("GET", "https://example.com/search?q=go")
	require.NoError(t, err)
	r.AddQuery("page", "2")

	p, err := Prepare(r)
	require.NoError(t, err)
	assert.Equal(t, "/search?q=go&page=2", p.EffectivePath)
}

func TestSynthesizePseudoHeadersDefault(t *testing.T) {
	r, err := New("GET", "https://example.com/path")
	require.NoError(t, err)

	p, err := Prepare(r)
	require.NoError(t, err)

	assertPseudo := func(name, want string) {
		v, ok := p.PseudoHeaders.Get(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, v)
	}
	assertPseudo(":method", "GET")
	assertPseudo(":path", "/path")
	assertPseudo(":scheme", "https")
	assertPseudo(":authority", "example.com:443")
}

func TestSynthesizePseudoHeadersConnect(t *testing.T) {
	r, err := New("CONNECT", "https://example.com/")
	require.NoError(t, err)

	p, err := Prepare(r)
	require.NoError(t, err)

	_, hasPath := p.PseudoHeaders.Get(":path")
	assert.False(t, hasPath)
	v, ok := p.PseudoHeaders.Get(":authority")
	assert.True(t, ok)
	assert.Equal(t, "example.com:443", v)
}

func TestSynthesizePseudoHeadersCallerOverride(t *testing.T) {
	r, err := New("GET", "https://example.com/path")
	require.NoError(t, err)
	r.AddHeader(":authority", "override.example")

	p, err := Prepare(r)
	require.NoError(t, err)
	v, _ := p.PseudoHeaders.Get(":authority")
	assert.Equal(t, "override.example", v)
}
