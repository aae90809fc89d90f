package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUnescapesValue(t *testing.T) {
	h := New("X-Tab", `a\tb\r\nc\\d`)
	assert.Equal(t, "a\tb\r\nc\\d", h.ValueString())
}

func TestNewValuelessHasNilValue(t *testing.T) {
	h := NewValueless("x-flag")
	assert.Nil(t, h.Value)
	assert.Equal(t, "", h.ValueString())
	assert.Equal(t, "x-flag", h.WriteLine())
}

func TestIsPseudo(t *testing.T) {
	assert.True(t, New(":method", "GET").IsPseudo())
	assert.False(t, New("content-type", "text/plain").IsPseudo())
}

func TestListGetCaseInsensitive(t *testing.T) {
	l := List{New("Content-Type", "text/plain")}
	v, ok := l.Get("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v)

	_, ok = l.Get("missing")
	assert.False(t, ok)
}

func TestListSetReplacesInPlace(t *testing.T) {
	l := List{New("A", "1"), New("B", "2"), New("A", "3")}
	out := l.Set("A", "new")
	assert.Equal(t, List{New("A", "new"), New("B", "2")}, out)
}

func TestListSetAppendsWhenAbsent(t *testing.T) {
	l := List{New("A", "1")}
	out := l.Set("B", "2")
	assert.Equal(t, List{New("A", "1"), New("B", "2")}, out)
}

func TestListAddPreservesDuplicates(t *testing.T) {
	l := List{}
	l = l.Add("Set-Cookie", "a=1")
	l = l.Add("Set-Cookie", "b=2")
	assert.Equal(t, []string{"a=1", "b=2"}, l.GetAll("Set-Cookie"))
}

func TestListDel(t *testing.T) {
	l := List{New("A", "1"), New("B", "2")}
	out := l.Del("a")
	assert.Equal(t, List{New("B", "2")}, out)
}

func TestListCloneIndependent(t *testing.T) {
	l := List{New("A", "1")}
	clone := l.Clone()
	clone[0] = New("A", "2")
	assert.Equal(t, "1", l[0].ValueString())
}

func TestListPseudoSplitsPreservingOrder(t *testing.T) {
	l := List{New(":method", "GET"), New("accept", "*/*"), New(":path", "/")}
	pseudo, regular := l.Pseudo()
	assert.Equal(t, List{New(":method", "GET"), New(":path", "/")}, pseudo)
	assert.Equal(t, List{New("accept", "*/*")}, regular)
}

func TestListLowered(t *testing.T) {
	l := List{New("Content-Type", "text/plain"), New(":Method", "GET")}
	out := l.Lowered()
	assert.Equal(t, "content-type", out[0].Name)
	assert.Equal(t, ":method", out[1].Name)
}

func TestValidNameRejectsInvalidToken(t *testing.T) {
	assert.True(t, ValidName("Content-Type"))
	assert.False(t, ValidName("bad header"))
}

func TestValidValueRejectsCRLF(t *testing.T) {
	assert.True(t, ValidValue("value"))
	assert.False(t, ValidValue("value\r\ninjected"))
}
