package transport

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectTCPDialsListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		accepted <- conn
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	d := &StdDialer{ConnectTimeout: 2 * time.Second}
	stream, err := d.ConnectTCP(context.Background(), host, port)
	require.NoError(t, err)
	defer stream.Close()

	server := <-accepted
	defer server.Close()
	assert.Equal(t, "", stream.NegotiatedProtocol())

	writeDone := make(chan struct{})
	go func() {
		_, _ = stream.Write([]byte("hello"))
		close(writeDone)
	}()
	buf := make([]byte, 5)
	_, err = server.Read(buf)
	require.NoError(t, err)
	<-writeDone
	assert.Equal(t, "hello", string(buf))
}

func TestWrapPlainConnHasNoNegotiatedProtocol(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	stream := WrapPlainConn(client)
	assert.Equal(t, "", stream.NegotiatedProtocol())
}

func TestInsecureSkipVerifySetsFlag(t *testing.T) {
	cfg := &tls.Config{}
	InsecureSkipVerify(cfg)
	assert.True(t, cfg.InsecureSkipVerify)
}
