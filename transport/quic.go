package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// QuicStream is a single QUIC stream: bidirectional for per-request H3
// streams, send-only/receive-only for the control, QPACK encoder and QPACK
// decoder unidirectional streams (spec §6, RFC 9114 §6.2). Unlike a net.Conn
// it carries no local/remote address, since only the parent connection has
// one; a unidirectional stream implements just the Read or Write half: Read
// on a send-only stream returns io.EOF and Write on a receive-only stream
// returns io.ErrClosedPipe.
type QuicStream interface {
	io.Reader
	io.Writer
	io.Closer
	SetDeadline(t time.Time) error
	StreamID() int64
	// CancelRead aborts the receive side with the given QUIC application
	// error code (used on a malformed/oversized response per spec §7).
	CancelRead(code uint64)
	// CancelWrite aborts the send side with the given QUIC application
	// error code.
	CancelWrite(code uint64)
}

// QuicConnection is the subset of a QUIC connection's surface the HTTP/3
// engine depends on: opening bidirectional request streams and
// unidirectional control/QPACK streams, accepting the peer's unidirectional
// streams, and closing the connection with an application error code.
type QuicConnection interface {
	OpenStream(ctx context.Context) (QuicStream, error)
	OpenUniStream(ctx context.Context) (QuicStream, error)
	AcceptUniStream(ctx context.Context) (QuicStream, error)
	CloseWithError(code uint64, reason string) error
}

type quicStream struct {
	quic.Stream
}

func (s quicStream) StreamID() int64 { return int64(s.Stream.StreamID()) }

func (s quicStream) CancelRead(code uint64)  { s.Stream.CancelRead(quic.StreamErrorCode(code)) }
func (s quicStream) CancelWrite(code uint64) { s.Stream.CancelWrite(quic.StreamErrorCode(code)) }

// quicUniStream wraps either a receive-only or a send-only quic stream, not
// both: Read without a receive half returns io.EOF, Write without a send
// half returns io.ErrClosedPipe, and Close, SetDeadline and the Cancel
// methods act only on the half that exists, so the type satisfies
// QuicStream regardless of which half it was opened for.
type quicUniStream struct {
	recv quic.ReceiveStream
	send quic.SendStream
	id   int64
}

func (s *quicUniStream) StreamID() int64 { return s.id }

func (s *quicUniStream) Read(p []byte) (int, error) {
	if s.recv == nil {
		return 0, io.EOF
	}
	return s.recv.Read(p)
}

func (s *quicUniStream) Write(p []byte) (int, error) {
	if s.send == nil {
		return 0, io.ErrClosedPipe
	}
	return s.send.Write(p)
}

func (s *quicUniStream) Close() error {
	if s.send != nil {
		return s.send.Close()
	}
	return nil
}

func (s *quicUniStream) SetDeadline(t time.Time) error {
	if s.recv != nil {
		if err := s.recv.SetReadDeadline(t); err != nil {
			return err
		}
	}
	if s.send != nil {
		return s.send.SetWriteDeadline(t)
	}
	return nil
}

func (s *quicUniStream) CancelRead(code uint64) {
	if s.recv != nil {
		s.recv.CancelRead(quic.StreamErrorCode(code))
	}
}
func (s *quicUniStream) CancelWrite(code uint64) {
	if s.send != nil {
		s.send.CancelWrite(quic.StreamErrorCode(code))
	}
}

type quicConn struct {
	conn quic.Connection
}

func (c *quicConn) OpenStream(ctx context.Context) (QuicStream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{s}, nil
}

func (c *quicConn) OpenUniStream(ctx context.Context) (QuicStream, error) {
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &quicUniStream{send: s, id: int64(s.StreamID())}, nil
}

func (c *quicConn) AcceptUniStream(ctx context.Context) (QuicStream, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &quicUniStream{recv: s, id: int64(s.StreamID())}, nil
}

func (c *quicConn) CloseWithError(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

// ConnectQUIC dials host:port over QUIC with ALPN negotiation from alpnList
// (normally just "h3"), fulfilling the Dialer interface.
func (d *StdDialer) ConnectQUIC(ctx context.Context, host, port, serverName string, alpnList []string) (QuicConnection, error) {
	tlsCfg := &tls.Config{ServerName: serverName, NextProtos: alpnList}
	if d.Verify != nil {
		d.Verify(tlsCfg)
	}
	conn, err := quic.DialAddr(ctx, net.JoinHostPort(host, port), tlsCfg, &quic.Config{
		HandshakeIdleTimeout: d.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &quicConn{conn: conn}, nil
}
