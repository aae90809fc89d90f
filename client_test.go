package riphttp

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianosrt/riphttp/request"
	"github.com/sebastianosrt/riphttp/transport"
)

// fakeH1Server accepts one connection, reads until the request's header
// terminator, and replies with the given raw HTTP/1.1 response bytes.
func fakeH1Server(t *testing.T, reply string) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte(reply))
	}()
	return ln
}

func reqTo(t *testing.T, method string, ln net.Listener, path string) *request.Request {
	r, err := request.New(method, fmt.Sprintf("http://%s%s", ln.Addr().String(), path))
	require.NoError(t, err)
	return r
}

func TestClientDoPlainHTTPGet(t *testing.T) {
	ln := fakeH1Server(t, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi")
	defer ln.Close()

	c := New(Options{})
	resp, err := c.Do(reqTo(t, "GET", ln, "/"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("hi"), resp.Body)
}

func TestClientDoFollowsRedirectAcrossConnections(t *testing.T) {
	final := fakeH1Server(t, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	defer final.Close()
	first := fakeH1Server(t, fmt.Sprintf("HTTP/1.1 302 Found\r\nLocation: http://%s/\r\nContent-Length: 0\r\n\r\n", final.Addr().String()))
	defer first.Close()

	c := New(Options{})
	resp, err := c.Do(reqTo(t, "GET", first, "/start"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("ok"), resp.Body)
}

func TestClientSendRawRejectsH2Scheme(t *testing.T) {
	c := New(Options{})
	r, err := request.New("GET", "h2://example.com/")
	require.NoError(t, err)

	_, err = c.SendRaw(r, []byte("GET / HTTP/1.1\r\n\r\n"))
	assert.Error(t, err)
}

func TestClientSendRawWritesVerbatimBytes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		received <- string(buf[:n])
		_, _ = conn.Write([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
	}()

	c := New(Options{})
	r, err := request.New("GET", fmt.Sprintf("http://%s/", ln.Addr().String()))
	require.NoError(t, err)

	raw := "GET /custom HTTP/1.0\r\n\r\n"
	resp, err := c.SendRaw(r, []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 204, resp.Status)
	assert.Equal(t, raw, <-received)
}

func TestClientProxyingRejectedWithCustomDialer(t *testing.T) {
	proxy, err := transport.ParseProxyConfig("http://127.0.0.1:1")
	require.NoError(t, err)

	c := New(Options{Dialer: &transport.StdDialer{}, Proxy: transport.NewRoundRobinSelector(proxy)})
	r, err := request.New("GET", "http://example.com/")
	require.NoError(t, err)

	_, err = c.Do(r)
	assert.Error(t, err)
}
