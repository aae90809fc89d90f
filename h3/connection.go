package h3

import (
	"context"
	"time"

	"github.com/sebastianosrt/riphttp/header"
	"github.com/sebastianosrt/riphttp/rerr"
	"github.com/sebastianosrt/riphttp/transport"
)

// ConnState is the connection-level state machine (simpler than HTTP/2's:
// QUIC itself owns most of the half-close bookkeeping).
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnOpen
	ConnClosed
)

// Connection is one HTTP/3 connection over a QUIC transport: the control
// stream handshake (SETTINGS exchange, QPACK encoder/decoder stream
// announcement) and per-request bidirectional stream management. Grounded
// on original_source/src/h3/connection.rs's H3Connection, reworked so
// request streams carry their own send half instead of that file's
// unimplemented send_request_frame.
type Connection struct {
	quicConn transport.QuicConnection

	State ConnState

	settings       map[uint64]uint64
	remoteSettings map[uint64]uint64

	qpack *QpackCodec

	controlSend transport.QuicStream
	controlRecv transport.QuicStream

	qpackEncoderSend transport.QuicStream
	qpackDecoderSend transport.QuicStream
	qpackEncoderRecv transport.QuicStream
	qpackDecoderRecv transport.QuicStream

	controlBuf []byte

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New constructs a Connection over an already-established QUIC connection.
// Call Handshake before opening request streams.
func New(quicConn transport.QuicConnection, readTimeout, writeTimeout time.Duration) *Connection {
	return &Connection{
		quicConn: quicConn,
		State:    ConnIdle,
		settings: map[uint64]uint64{
			SettingQPACKMaxTableCapacity: DefaultQPACKMaxTableCapacity,
			SettingMaxFieldSectionSize:   DefaultMaxFieldSectionSize,
			SettingQPACKBlockedStreams:   DefaultQPACKBlockedStreams,
		},
		remoteSettings: map[uint64]uint64{},
		qpack:          NewQpackCodec(),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
	}
}

// Handshake opens the control and QPACK unidirectional streams, announces
// their types, sends our initial SETTINGS, then blocks until the peer's
// control stream has been identified among its incoming uni streams (spec
// §4.5, step-by-step).
func (c *Connection) Handshake(ctx context.Context) error {
	send, err := c.quicConn.OpenUniStream(ctx)
	if err != nil {
		return &rerr.ConnectionFailed{Msg: "failed to open control stream: " + err.Error()}
	}
	c.controlSend = send
	if err := c.writeStreamType(send, StreamTypeControl); err != nil {
		return err
	}

	if encSend, err := c.quicConn.OpenUniStream(ctx); err == nil {
		c.qpackEncoderSend = encSend
		_ = c.writeStreamType(encSend, StreamTypeQPACKEncoder)
	}
	if decSend, err := c.quicConn.OpenUniStream(ctx); err == nil {
		c.qpackDecoderSend = decSend
		_ = c.writeStreamType(decSend, StreamTypeQPACKDecoder)
	}

	initial := NewSettingsFrame([]Setting{
		{ID: SettingQPACKMaxTableCapacity, Value: c.settings[SettingQPACKMaxTableCapacity]},
		{ID: SettingMaxFieldSectionSize, Value: c.settings[SettingMaxFieldSectionSize]},
		{ID: SettingQPACKBlockedStreams, Value: c.settings[SettingQPACKBlockedStreams]},
	})
	if err := c.writeToStream(c.controlSend, initial.Serialize()); err != nil {
		return err
	}

	// Announce MAX_PUSH_ID=0 so a peer that supports push knows none of its
	// push IDs are usable; this client never accepts pushed responses.
	if err := c.writeToStream(c.controlSend, NewMaxPushIDFrame(0).Serialize()); err != nil {
		return err
	}

	if err := c.awaitPeerControlStream(ctx); err != nil {
		return err
	}

	c.State = ConnOpen
	return nil
}

func (c *Connection) awaitPeerControlStream(ctx context.Context) error {
	for c.controlRecv == nil {
		recv, err := c.quicConn.AcceptUniStream(ctx)
		if err != nil {
			return &rerr.ConnectionFailed{Msg: "failed to accept unidirectional stream: " + err.Error()}
		}
		streamType, err := c.readStreamType(recv)
		if err != nil {
			return err
		}
		switch streamType {
		case StreamTypeControl:
			c.controlRecv = recv
		case StreamTypeQPACKEncoder:
			c.qpackEncoderRecv = recv
		case StreamTypeQPACKDecoder:
			c.qpackDecoderRecv = recv
		default:
			// Push streams and unknown extension streams are ignored; this
			// client never enables server push.
		}
	}
	return nil
}

func (c *Connection) writeStreamType(s transport.QuicStream, streamType uint64) error {
	return c.writeToStream(s, EncodeVarint(nil, streamType))
}

func (c *Connection) readStreamType(s transport.QuicStream) (uint64, error) {
	var first [1]byte
	if err := c.readFromStream(s, first[:]); err != nil {
		return 0, err
	}
	length := 1 << (first[0] >> 6)
	buf := make([]byte, length)
	buf[0] = first[0]
	if length > 1 {
		if err := c.readFromStream(s, buf[1:]); err != nil {
			return 0, err
		}
	}
	value, _, ok := DecodeVarint(buf)
	if !ok {
		return 0, &rerr.InvalidResponse{Msg: "invalid stream type varint"}
	}
	return value, nil
}

// PumpControl reads and applies exactly one frame from the peer's control
// stream: SETTINGS is applied and GOAWAY closes the connection; HEADERS,
// DATA and PUSH_PROMISE are rejected as not permitted on the control stream;
// any other frame type is ignored.
func (c *Connection) PumpControl() error {
	frame, err := c.readFrame(c.controlRecv, &c.controlBuf)
	if err != nil {
		return err
	}
	switch frame.Type {
	case FrameSettings:
		return c.applySettingsFrame(frame)
	case FrameGoAway:
		c.State = ConnClosed
		return &rerr.H3ConnectionError{Msg: "GOAWAY received"}
	case FrameHeaders, FrameData, FramePushPromise:
		return &rerr.H3MessageError{Msg: "frame type not permitted on the control stream"}
	default:
		// Unknown frame types are ignored per RFC 9114 §9.
		return nil
	}
}

func (c *Connection) applySettingsFrame(frame *Frame) error {
	settings, err := ParseSettingsPayload(frame.Payload)
	if err != nil {
		return err
	}
	for _, s := range settings {
		switch s.ID {
		case SettingQPACKMaxTableCapacity, SettingMaxFieldSectionSize, SettingQPACKBlockedStreams:
			c.remoteSettings[s.ID] = s.Value
		default:
			// Unknown settings are ignored per RFC 9114 §7.2.4.1.
		}
	}
	return nil
}

// RequestStream is one client-initiated bidirectional request stream: the
// unit HEADERS/DATA frames are sent and received on (RFC 9114 §6.1).
type RequestStream struct {
	conn   *Connection
	stream transport.QuicStream
	buf    []byte
}

// OpenRequestStream opens a new bidirectional stream for one request/response.
func (c *Connection) OpenRequestStream(ctx context.Context) (*RequestStream, error) {
	s, err := c.quicConn.OpenStream(ctx)
	if err != nil {
		return nil, &rerr.H3StreamCreationError{Msg: err.Error()}
	}
	return &RequestStream{conn: c, stream: s}, nil
}

// StreamID returns the QUIC-assigned stream id.
func (rs *RequestStream) StreamID() int64 { return rs.stream.StreamID() }

// SendHeaders QPACK-encodes headers and writes them as a HEADERS frame.
func (rs *RequestStream) SendHeaders(headers header.List) error {
	encoded, err := rs.conn.qpack.Encode(headers)
	if err != nil {
		return err
	}
	return rs.conn.writeToStream(rs.stream, NewHeadersFrame(encoded).Serialize())
}

// SendData writes data as a DATA frame.
func (rs *RequestStream) SendData(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return rs.conn.writeToStream(rs.stream, NewDataFrame(data).Serialize())
}

// CloseSend signals no more request frames will be sent (QUIC FIN), the
// HTTP/3 analogue of HTTP/2's END_STREAM.
func (rs *RequestStream) CloseSend() error { return rs.stream.Close() }

// ReadFrame blocks until one complete frame has been read off the stream,
// buffering partial reads the way original_source's try_parse_h3_frame
// loop does (a frame boundary rarely aligns with a single QUIC Read).
func (rs *RequestStream) ReadFrame() (*Frame, error) {
	return rs.conn.readFrame(rs.stream, &rs.buf)
}

// ReadHeaders reads the next frame, which must be HEADERS, and QPACK-decodes it.
func (rs *RequestStream) ReadHeaders() (header.List, error) {
	frame, err := rs.ReadFrame()
	if err != nil {
		return nil, err
	}
	return rs.DecodeHeaders(frame)
}

// DecodeHeaders QPACK-decodes an already-read HEADERS frame, for callers
// (e.g. a trailer read) driving ReadFrame themselves.
func (rs *RequestStream) DecodeHeaders(frame *Frame) (header.List, error) {
	if frame.Type != FrameHeaders {
		return nil, &rerr.H3MessageError{Msg: "expected HEADERS frame"}
	}
	return rs.conn.qpack.Decode(frame.Payload)
}

// Close aborts the receive side of the request stream and closes its send
// side (QUIC FIN).
func (rs *RequestStream) Close() error {
	rs.stream.CancelRead(uint64(rerr.H2NoError))
	return rs.stream.Close()
}

func (c *Connection) readFrame(s transport.QuicStream, buf *[]byte) (*Frame, error) {
	chunk := make([]byte, 8192)
	for {
		if frame, consumed, ok, err := ParseFrame(*buf); err != nil {
			return nil, err
		} else if ok {
			*buf = (*buf)[consumed:]
			return frame, nil
		}

		if c.ReadTimeout > 0 {
			if err := s.SetDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
				return nil, err
			}
		}
		n, err := s.Read(chunk)
		if n > 0 {
			*buf = append(*buf, chunk[:n]...)
		}
		if err != nil {
			return nil, mapTimeout(err)
		}
	}
}

func (c *Connection) writeToStream(s transport.QuicStream, data []byte) error {
	if c.WriteTimeout > 0 {
		if err := s.SetDeadline(time.Now().Add(c.WriteTimeout)); err != nil {
			return err
		}
	}
	_, err := s.Write(data)
	return mapTimeout(err)
}

func (c *Connection) readFromStream(s transport.QuicStream, buf []byte) error {
	if c.ReadTimeout > 0 {
		if err := s.SetDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
			return err
		}
	}
	total := 0
	for total < len(buf) {
		n, err := s.Read(buf[total:])
		total += n
		if err != nil {
			return mapTimeout(err)
		}
	}
	return nil
}

func mapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return &rerr.Timeout{Cause: err}
	}
	return err
}

// IsOpen reports whether the connection can still carry new request streams.
func (c *Connection) IsOpen() bool { return c.State == ConnOpen }

// GoAway sends a GOAWAY on the control stream naming the first stream id
// not processed, then marks the connection closed.
func (c *Connection) GoAway(streamID uint64) error {
	if err := c.writeToStream(c.controlSend, NewGoAwayFrame(streamID).Serialize()); err != nil {
		return err
	}
	c.State = ConnClosed
	return nil
}

// Close tears down the QUIC connection with a no-error application code.
func (c *Connection) Close() error {
	return c.quicConn.CloseWithError(uint64(rerr.H2NoError), "")
}
