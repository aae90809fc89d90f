// Package transport defines the external collaborators this library treats
// as opaque per spec §6: a byte-stream connector for HTTP/1.1 and HTTP/2,
// and a QUIC connection contract for HTTP/3. TLS/QUIC establishment, DNS
// resolution, and proxy tunneling are implemented here at the interface
// boundary; the protocol engines only ever see a ByteStream or a
// QuicConnection.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	utls "github.com/refraction-networking/utls"
)

// ByteStream is a bidirectional, closable byte stream: the product of a
// plain TCP dial (ALPN "http/1.1") or a TLS dial (ALPN "http/1.1" or "h2").
type ByteStream interface {
	io.Reader
	io.Writer
	io.Closer
	// SetDeadline applies to both future Read and Write calls, matching
	// net.Conn semantics, so per-I/O timeouts (spec §5, "Timeouts") can be
	// implemented without separate read/write deadlines.
	SetDeadline(t time.Time) error
	// NegotiatedProtocol returns the ALPN protocol selected during the TLS
	// handshake ("http/1.1", "h2" or ""), or "" for a plaintext connection.
	NegotiatedProtocol() string
}

// Dialer establishes the transport-level connections the protocol engines
// consume. It is the seam a caller replaces for protocol-edge-case testing
// (e.g. an "accept all certificates" verifier, per spec §6).
type Dialer interface {
	ConnectTCP(ctx context.Context, host, port string) (ByteStream, error)
	ConnectTLS(ctx context.Context, host, port, serverName string, alpn []string) (ByteStream, error)
	ConnectQUIC(ctx context.Context, host, port, serverName string, alpn []string) (QuicConnection, error)
}

// netByteStream adapts a net.Conn (plaintext or *tls.Conn/*utls.UConn) to
// ByteStream.
type netByteStream struct {
	net.Conn
	alpn string
}

func (s *netByteStream) NegotiatedProtocol() string { return s.alpn }

// WrapPlainConn adapts an already-established net.Conn (e.g. the tunnel
// ConnectViaProxy returns) to ByteStream without a TLS handshake, for the
// "http"/"h2c" schemes.
func WrapPlainConn(conn net.Conn) ByteStream { return &netByteStream{Conn: conn} }

// TLSVerifier lets a caller install a non-default certificate verification
// policy, including the "accept all" variant spec §6 calls out as used in
// test/protocol-edge-case examples.
type TLSVerifier func(cfg *tls.Config)

// InsecureSkipVerify is the "accept all" TLSVerifier from spec §6.
func InsecureSkipVerify(cfg *tls.Config) { cfg.InsecureSkipVerify = true }

// StdDialer is the default Dialer: net.Dialer for TCP, uTLS for TLS (so the
// ClientHello fingerprint can be customized the way the teacher's Transport
// does via GetTlsClientHelloSpec), and quic-go for QUIC.
type StdDialer struct {
	// ConnectTimeout bounds the TCP/TLS/QUIC handshake as a whole.
	ConnectTimeout time.Duration
	// Verify optionally overrides the TLS certificate verification policy.
	Verify TLSVerifier
	// HelloSpec optionally supplies a custom uTLS ClientHello fingerprint.
	// A nil value uses utls.HelloGolang, matching Go's native fingerprint.
	HelloSpec func() *utls.ClientHelloSpec
}

func (d *StdDialer) dialer() *net.Dialer {
	return &net.Dialer{Timeout: d.ConnectTimeout, KeepAlive: 30 * time.Second}
}

// ConnectTCP opens a plain TCP connection, used for the "http"/"h2c" schemes.
func (d *StdDialer) ConnectTCP(ctx context.Context, host, port string) (ByteStream, error) {
	conn, err := d.dialer().DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	return &netByteStream{Conn: conn}, nil
}

// ConnectTLS opens a TLS connection over uTLS and negotiates ALPN from
// alpnList; the selected protocol is reported by the returned stream's
// NegotiatedProtocol.
func (d *StdDialer) ConnectTLS(ctx context.Context, host, port, serverName string, alpnList []string) (ByteStream, error) {
	conn, err := d.dialer().DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	return d.ConnectTLSOverConn(ctx, conn, serverName, alpnList)
}

// ConnectTLSOverConn runs the same uTLS handshake as ConnectTLS, but atop an
// already-established conn (the tunnel ConnectViaProxy returns) instead of
// dialing a fresh one.
func (d *StdDialer) ConnectTLSOverConn(ctx context.Context, conn net.Conn, serverName string, alpnList []string) (ByteStream, error) {
	cfg := &tls.Config{ServerName: serverName, NextProtos: alpnList}
	if d.Verify != nil {
		d.Verify(cfg)
	}

	var uconn *utls.UConn
	if d.HelloSpec != nil {
		uconn = utls.UClient(conn, toUTLSConfig(cfg), utls.HelloCustom)
		if err := uconn.ApplyPreset(d.HelloSpec()); err != nil {
			conn.Close()
			return nil, err
		}
	} else {
		uconn = utls.UClient(conn, toUTLSConfig(cfg), utls.HelloGolang)
	}
	if err := uconn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &netByteStream{Conn: uconn, alpn: uconn.ConnectionState().NegotiatedProtocol}, nil
}

func toUTLSConfig(cfg *tls.Config) *utls.Config {
	return &utls.Config{
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		NextProtos:         cfg.NextProtos,
	}
}
