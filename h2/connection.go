package h2

import (
	"io"
	"strconv"
	"time"

	"github.com/sebastianosrt/riphttp/header"
	"github.com/sebastianosrt/riphttp/rerr"
)

// connectionPreface is the fixed 24-byte client preface (RFC 7540 §3.5),
// sent before any frame to confirm HTTP/2 support to the peer.
var connectionPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// Default connection-level settings this engine advertises at handshake,
// matching original_source's DEFAULT_* constants.
const (
	DefaultHeaderTableSize      uint32 = 0
	DefaultMaxConcurrentStreams uint32 = 100
	DefaultInitialWindowSize    uint32 = 65535
	DefaultMaxHeaderListSize    uint32 = 8192
)

const maxWindowSize int32 = 0x7FFFFFFF

// ConnState is the connection-level state machine (RFC 7540 §5, client side).
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnOpen
	ConnHalfClosedLocal
	ConnHalfClosedRemote
	ConnClosed
)

// StreamState is the per-stream state machine (RFC 7540 §5.1).
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

// StreamEventKind distinguishes the payload carried by a StreamEvent.
type StreamEventKind int

const (
	EventHeaders StreamEventKind = iota
	EventData
	EventRSTStream
)

// StreamEvent is one inbound occurrence on a stream, queued by the dispatch
// loop and drained by RecvStreamEvent -- the Go stand-in for
// original_source's StreamEvent enum.
type StreamEvent struct {
	Kind      StreamEventKind
	Headers   header.List // EventHeaders
	IsTrailer bool        // EventHeaders
	Payload   []byte      // EventData
	ErrorCode rerr.H2ErrorCode
	EndStream bool
}

type pendingHeaderBlock struct {
	block     []byte
	endStream bool
}

// StreamInfo tracks one stream's state, flow-control windows, and queued
// inbound events (spec §4.4).
type StreamInfo struct {
	State                StreamState
	SendWindow           int32
	RecvWindow           int32
	HeadersSent          bool
	FinalHeadersReceived bool
	EndStreamReceived    bool
	EndStreamSent        bool

	inboundEvents  []StreamEvent
	pendingHeaders *pendingHeaderBlock
}

func newStreamInfo(sendWindow, recvWindow int32) *StreamInfo {
	return &StreamInfo{State: StreamIdle, SendWindow: sendWindow, RecvWindow: recvWindow}
}

// Conn is the byte-stream surface the connection engine drives; it matches
// transport.ByteStream minus Close/NegotiatedProtocol, so this package
// doesn't need to import transport directly (mirrors h1.Conn).
type Conn interface {
	io.Reader
	io.Writer
	SetDeadline(t time.Time) error
}

// Connection is one HTTP/2 connection: preface/SETTINGS handshake, stream
// table, dual-direction flow control, HEADERS/CONTINUATION reassembly, and
// the inbound frame dispatch loop. Grounded on
// original_source/src/h2/connection.rs's H2Connection.
type Connection struct {
	conn         Conn
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	State ConnState

	settings       map[SettingID]uint32
	remoteSettings map[SettingID]uint32

	streams map[uint32]*StreamInfo

	sendConnectionWindow int32
	recvConnectionWindow int32

	nextStreamID uint32
	lastStreamID uint32

	hpack *HpackCodec

	initialSettingsReceived bool
	peerAllowsPush          bool

	goawayReason       *rerr.H2ConnectionError
	goawayLastStreamID *uint32
	goawayReceived     bool

	pendingWrites     [][]byte
	pendingWriteBytes int
	autoFlushBytes    *int

	// headerBlockStream is the stream whose HEADERS block is still missing
	// END_HEADERS, or 0 if none is open. While set, RFC 7540 §6.2 requires
	// every frame to be a CONTINUATION on that same stream.
	headerBlockStream uint32
}

// New constructs a Connection over an already-established transport
// connection. Call Handshake before sending or receiving frames.
func New(conn Conn, readTimeout, writeTimeout time.Duration) *Connection {
	settings := map[SettingID]uint32{
		SettingHeaderTableSize:      DefaultHeaderTableSize,
		SettingEnablePush:           0,
		SettingMaxConcurrentStreams: DefaultMaxConcurrentStreams,
		SettingInitialWindowSize:    DefaultInitialWindowSize,
		SettingMaxFrameSize:         DefaultMaxFrameSize,
		SettingMaxHeaderListSize:    DefaultMaxHeaderListSize,
	}
	return &Connection{
		conn:                  conn,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		State:                 ConnIdle,
		settings:              settings,
		remoteSettings:        map[SettingID]uint32{},
		streams:               map[uint32]*StreamInfo{},
		sendConnectionWindow:  int32(DefaultInitialWindowSize),
		recvConnectionWindow:  int32(DefaultInitialWindowSize),
		nextStreamID:          1,
		peerAllowsPush:        true,
		hpack:                 NewHpackCodec(DefaultHeaderTableSize),
	}
}

// Handshake performs the connection preface and initial SETTINGS exchange
// (spec §4.4, step-by-step): write the 24-byte preface, write our initial
// SETTINGS, flush, then block until the peer's first non-ACK SETTINGS frame
// arrives and has been applied.
func (c *Connection) Handshake() error {
	if err := c.writeToStream(connectionPreface); err != nil {
		return err
	}

	initial := NewSettings([]Setting{
		{ID: SettingHeaderTableSize, Value: c.settings[SettingHeaderTableSize]},
		{ID: SettingEnablePush, Value: c.settings[SettingEnablePush]},
		{ID: SettingMaxConcurrentStreams, Value: c.settings[SettingMaxConcurrentStreams]},
		{ID: SettingInitialWindowSize, Value: c.settings[SettingInitialWindowSize]},
		{ID: SettingMaxFrameSize, Value: c.settings[SettingMaxFrameSize]},
		{ID: SettingMaxHeaderListSize, Value: c.settings[SettingMaxHeaderListSize]},
	})
	if err := c.sendFrame(initial); err != nil {
		return err
	}
	if err := c.Flush(); err != nil {
		return err
	}
	if err := c.awaitInitialSettings(); err != nil {
		return err
	}

	c.State = ConnOpen
	return nil
}

func (c *Connection) awaitInitialSettings() error {
	for !c.initialSettingsReceived {
		frame, err := c.readFrameFromWire()
		if err != nil {
			return err
		}
		if err := c.processIncomingFrame(frame); err != nil {
			return err
		}
		if frame.Type == FrameSettings && !frame.IsAck() {
			c.initialSettingsReceived = true
		}
	}
	return nil
}

func (c *Connection) handleSettingsFrame(frame *Frame) error {
	if frame.IsAck() {
		return nil
	}
	settings, err := ParseSettingsPayload(frame.Payload)
	if err != nil {
		return err
	}
	for _, s := range settings {
		if err := c.applySetting(s.ID, s.Value); err != nil {
			return err
		}
	}
	return c.sendFrame(NewSettingsAck())
}

func (c *Connection) applySetting(id SettingID, value uint32) error {
	switch id {
	case SettingHeaderTableSize:
		c.remoteSettings[id] = value
		c.hpack.SetEncoderTableSize(value)
	case SettingEnablePush:
		c.remoteSettings[id] = value
		c.peerAllowsPush = value != 0
	case SettingMaxConcurrentStreams:
		c.remoteSettings[id] = value
	case SettingInitialWindowSize:
		if value > uint32(maxWindowSize) {
			return &rerr.InvalidResponse{Msg: "invalid INITIAL_WINDOW_SIZE value"}
		}
		old, ok := c.remoteSettings[id]
		if !ok {
			old = DefaultInitialWindowSize
		}
		delta := int64(value) - int64(old)
		for _, s := range c.streams {
			s.SendWindow = clampWindowDelta(s.SendWindow, delta)
		}
		c.remoteSettings[id] = value
	case SettingMaxFrameSize:
		if value < DefaultMaxFrameSize || value > MaxFrameSizeUpperBound {
			return &rerr.InvalidResponse{Msg: "invalid MAX_FRAME_SIZE value"}
		}
		c.remoteSettings[id] = value
	case SettingMaxHeaderListSize:
		c.remoteSettings[id] = value
	default:
		// Unknown settings are ignored per RFC 7540 §6.5.2.
	}
	return nil
}

// OpenStream allocates the next client-initiated stream id (odd, increasing
// by 2) and registers its StreamInfo.
func (c *Connection) OpenStream() (uint32, error) {
	if !c.initialSettingsReceived {
		return 0, &rerr.RequestFailed{Msg: "HTTP/2 handshake not complete"}
	}
	if !c.IsOpen() {
		return 0, rerr.ErrConnectionFailed
	}
	if c.goawayLastStreamID != nil && c.nextStreamID > *c.goawayLastStreamID {
		return 0, &rerr.RequestFailed{Msg: "GOAWAY received: new streams are not allowed"}
	}

	id := c.nextStreamID
	c.nextStreamID += 2
	c.streams[id] = newStreamInfo(c.peerInitialStreamWindow(), c.localInitialStreamWindow())
	return id, nil
}

// StreamState returns the current state of streamID, if known.
func (c *Connection) StreamState(streamID uint32) (StreamState, bool) {
	s, ok := c.streams[streamID]
	if !ok {
		return 0, false
	}
	return s.State, true
}

// SendHeaders encodes and emits headers as HEADERS (+ CONTINUATION, if the
// HPACK block exceeds the peer's MAX_FRAME_SIZE) on streamID.
func (c *Connection) SendHeaders(streamID uint32, headers header.List, endStream bool) error {
	frames, err := c.encodeHeadersFrames(streamID, headers, endStream)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := c.sendFrame(f); err != nil {
			return err
		}
	}

	if s, ok := c.streams[streamID]; ok {
		s.HeadersSent = true
		if endStream {
			s.EndStreamSent = true
			s.State = StreamHalfClosedLocal
		} else {
			s.State = StreamOpen
		}
	}
	return nil
}

func (c *Connection) encodeHeadersFrames(streamID uint32, headers header.List, endStream bool) ([]*Frame, error) {
	encoded, err := c.hpack.Encode(headers)
	if err != nil {
		return nil, err
	}
	maxFrame := c.maxFrameSize()

	var frames []*Frame
	first := true
	for {
		chunkLen := len(encoded)
		if chunkLen > maxFrame {
			chunkLen = maxFrame
		}
		chunk := encoded[:chunkLen]
		encoded = encoded[chunkLen:]
		isLast := len(encoded) == 0

		var flags byte
		if first && endStream {
			flags |= FlagEndStream
		}
		if isLast {
			flags |= FlagEndHeaders
		}

		frameType := FrameHeaders
		if !first {
			frameType = FrameContinuation
		}
		frames = append(frames, &Frame{Type: frameType, Flags: flags, StreamID: streamID, Payload: chunk})

		if isLast {
			break
		}
		first = false
	}
	return frames, nil
}

// SendData emits payload as one DATA frame, enforcing MAX_FRAME_SIZE and
// both flow-control windows.
func (c *Connection) SendData(streamID uint32, payload []byte, endStream bool) error {
	dataLen := len(payload)
	if dataLen == 0 && !endStream {
		return nil
	}
	if dataLen > c.maxFrameSize() {
		return &rerr.RequestFailed{Msg: "DATA frame exceeds peer advertised MAX_FRAME_SIZE"}
	}

	s, ok := c.streams[streamID]
	if !ok {
		return &rerr.H2StreamError{StreamID: streamID, Kind: rerr.H2StreamInvalidState}
	}
	if s.SendWindow < int32(dataLen) {
		return &rerr.H2FlowControlError{Msg: "stream flow control window exceeded"}
	}
	s.SendWindow -= int32(dataLen)

	if c.sendConnectionWindow < int32(dataLen) {
		return &rerr.H2FlowControlError{Msg: "connection flow control window exceeded"}
	}
	c.sendConnectionWindow -= int32(dataLen)

	if err := c.sendFrame(NewData(streamID, payload, endStream)); err != nil {
		return err
	}

	if endStream {
		s.EndStreamSent = true
		switch s.State {
		case StreamOpen:
			s.State = StreamHalfClosedLocal
		case StreamHalfClosedRemote:
			s.State = StreamClosed
		}
	}
	return nil
}

// SendWindowUpdate emits a WINDOW_UPDATE and applies the corresponding
// increment to our own recv-side accounting (streamID 0 means connection-level).
func (c *Connection) SendWindowUpdate(streamID uint32, increment uint32) error {
	if increment == 0 {
		return &rerr.H2ProtocolError{Msg: "WINDOW_UPDATE increment must be greater than zero"}
	}
	if err := c.sendFrame(NewWindowUpdate(streamID, increment)); err != nil {
		return err
	}

	if streamID == 0 {
		c.recvConnectionWindow = addClampedWindow(c.recvConnectionWindow, increment)
	} else if s, ok := c.streams[streamID]; ok {
		s.RecvWindow = addClampedWindow(s.RecvWindow, increment)
	}
	return nil
}

// SendRST emits RST_STREAM and transitions the stream to closed.
func (c *Connection) SendRST(streamID uint32, errorCode uint32) error {
	if err := c.sendFrame(NewRSTStream(streamID, errorCode)); err != nil {
		return err
	}
	if s, ok := c.streams[streamID]; ok {
		s.State = StreamClosed
	}
	return nil
}

// SendPing emits a PING frame.
func (c *Connection) SendPing(data [8]byte) error { return c.sendFrame(NewPing(data, false)) }

// SendPingAck emits a PING ACK echoing data.
func (c *Connection) SendPingAck(data [8]byte) error { return c.sendFrame(NewPing(data, true)) }

// SendGoAway emits GOAWAY and marks the connection closed.
func (c *Connection) SendGoAway(lastStreamID uint32, errorCode uint32, debug []byte) error {
	if err := c.sendFrame(NewGoAway(lastStreamID, errorCode, debug)); err != nil {
		return err
	}
	c.State = ConnClosed
	return nil
}

func (c *Connection) handleHeadersFrame(frame *Frame) error {
	if frame.StreamID == 0 {
		return &rerr.H2ProtocolError{Msg: "HEADERS frame received on stream 0"}
	}
	streamID := frame.StreamID
	c.ensureStream(streamID)
	s := c.streams[streamID]

	if frame.IsEndStream() {
		s.EndStreamReceived = true
		switch s.State {
		case StreamIdle, StreamOpen:
			s.State = StreamHalfClosedRemote
		case StreamHalfClosedLocal:
			s.State = StreamClosed
		}
	} else if s.State == StreamIdle {
		s.State = StreamOpen
	}
	return nil
}

func (c *Connection) handleDataFrame(frame *Frame) error {
	streamID := frame.StreamID
	if streamID == 0 {
		return &rerr.H2ProtocolError{Msg: "DATA frame received on stream 0"}
	}
	c.ensureStream(streamID)

	dataSize := uint32(len(frame.Payload))
	if dataSize == 0 {
		return nil
	}
	dataWindow := clampWindow(dataSize)

	s := c.streams[streamID]
	if s.RecvWindow < dataWindow {
		return &rerr.H2FlowControlError{Msg: "peer violated stream flow control"}
	}
	s.RecvWindow -= dataWindow

	if c.recvConnectionWindow < dataWindow {
		return &rerr.H2FlowControlError{Msg: "peer violated connection flow control"}
	}
	c.recvConnectionWindow -= dataWindow

	// Naive credit-return strategy (spec §4.4): return the credit as soon as
	// the payload is received, both stream- and connection-level.
	if err := c.SendWindowUpdate(streamID, dataSize); err != nil {
		return err
	}
	if err := c.SendWindowUpdate(0, dataSize); err != nil {
		return err
	}

	if frame.IsEndStream() {
		s.EndStreamReceived = true
		switch s.State {
		case StreamOpen:
			s.State = StreamHalfClosedRemote
		case StreamHalfClosedLocal:
			s.State = StreamClosed
		}
	}
	return nil
}

func (c *Connection) handleWindowUpdateFrame(frame *Frame) error {
	if len(frame.Payload) != 4 {
		return &rerr.InvalidResponse{Msg: "invalid WINDOW_UPDATE frame size"}
	}
	increment := be32(frame.Payload) & 0x7FFFFFFF
	if increment == 0 {
		return &rerr.H2ProtocolError{Msg: "WINDOW_UPDATE increment must be greater than zero"}
	}

	if frame.StreamID == 0 {
		c.sendConnectionWindow = addClampedWindow(c.sendConnectionWindow, increment)
	} else if s, ok := c.streams[frame.StreamID]; ok {
		s.SendWindow = addClampedWindow(s.SendWindow, increment)
	}
	return nil
}

func (c *Connection) handleRSTStreamFrame(frame *Frame) (*rerr.H2ErrorCode, error) {
	if len(frame.Payload) != 4 {
		return nil, &rerr.H2ProtocolError{Msg: "RST_STREAM frame must have 4-byte payload"}
	}
	code := rerr.H2ErrorCode(be32(frame.Payload))
	if s, ok := c.streams[frame.StreamID]; ok {
		s.State = StreamClosed
	}
	return &code, nil
}

func (c *Connection) handlePingFrame(frame *Frame) error {
	if frame.IsAck() {
		return nil
	}
	if len(frame.Payload) == 8 {
		var data [8]byte
		copy(data[:], frame.Payload)
		return c.SendPingAck(data)
	}
	return nil
}

func (c *Connection) handleGoAwayFrame(frame *Frame) error {
	if len(frame.Payload) < 8 {
		return &rerr.InvalidResponse{Msg: "invalid GOAWAY frame size"}
	}
	lastStreamID := be32(frame.Payload[0:4]) & 0x7FFFFFFF
	code := rerr.H2ErrorCode(be32(frame.Payload[4:8]))
	debug := ""
	if len(frame.Payload) > 8 {
		debug = string(frame.Payload[8:])
	}

	c.lastStreamID = lastStreamID
	c.goawayLastStreamID = &lastStreamID
	c.goawayReason = &rerr.H2ConnectionError{Kind: rerr.H2ConnGoAway, Code: code, Debug: debug}
	c.goawayReceived = true
	if c.State != ConnClosed && c.State != ConnHalfClosedRemote {
		c.State = ConnHalfClosedRemote
	}

	for id, s := range c.streams {
		if id > lastStreamID {
			s.State = StreamClosed
		}
	}

	return c.goawayReason
}

// RecvStreamEvent blocks until streamID has a queued inbound event, pumping
// frames off the wire as needed.
func (c *Connection) RecvStreamEvent(streamID uint32) (*StreamEvent, error) {
	if streamID == 0 {
		return nil, &rerr.H2ProtocolError{Msg: "cannot receive events for stream 0"}
	}
	c.ensureStream(streamID)

	for {
		if s, ok := c.streams[streamID]; ok && len(s.inboundEvents) > 0 {
			ev := s.inboundEvents[0]
			s.inboundEvents = s.inboundEvents[1:]
			return &ev, nil
		}
		if c.State == ConnClosed {
			return nil, c.goawayErr()
		}
		if err := c.pumpIncoming(); err != nil {
			return nil, err
		}
	}
}

func (c *Connection) pumpIncoming() error {
	frame, err := c.readFrameFromWire()
	if err != nil {
		return err
	}
	return c.processIncomingFrame(frame)
}

func (c *Connection) processIncomingFrame(frame *Frame) error {
	if c.headerBlockStream != 0 {
		if frame.Type != FrameContinuation || frame.StreamID != c.headerBlockStream {
			return &rerr.H2ProtocolError{Msg: "expected CONTINUATION frame on the stream with an open header block"}
		}
	}

	switch frame.Type {
	case FrameHeaders:
		if err := c.handleHeadersFrame(frame); err != nil {
			return err
		}
		ev, err := c.handleHeaderBlockFragment(frame)
		if err != nil {
			return err
		}
		if ev != nil {
			c.enqueueStreamEvent(frame.StreamID, *ev)
		}
	case FrameContinuation:
		ev, err := c.handleHeaderBlockFragment(frame)
		if err != nil {
			return err
		}
		if ev != nil {
			c.enqueueStreamEvent(frame.StreamID, *ev)
		}
	case FrameData:
		if err := c.handleDataFrame(frame); err != nil {
			return err
		}
		payload, err := dataPayload(frame)
		if err != nil {
			return err
		}
		c.enqueueStreamEvent(frame.StreamID, StreamEvent{
			Kind:      EventData,
			Payload:   payload,
			EndStream: frame.IsEndStream(),
		})
	case FrameRSTStream:
		code, err := c.handleRSTStreamFrame(frame)
		if err != nil {
			return err
		}
		c.enqueueStreamEvent(frame.StreamID, StreamEvent{Kind: EventRSTStream, ErrorCode: *code})
	case FrameSettings:
		return c.handleSettingsFrame(frame)
	case FrameWindowUpdate:
		return c.handleWindowUpdateFrame(frame)
	case FramePing:
		return c.handlePingFrame(frame)
	case FramePushPromise:
		if !c.peerAllowsPush {
			return &rerr.H2ProtocolError{Msg: "PUSH_PROMISE received but push is disabled"}
		}
		return &rerr.H2ProtocolError{Msg: "PUSH_PROMISE handling is not implemented"}
	case FrameGoAway:
		return c.handleGoAwayFrame(frame)
	default:
		// Ignore unsupported frame types.
	}
	return nil
}

func (c *Connection) ensureStream(streamID uint32) {
	if streamID == 0 {
		return
	}
	if _, ok := c.streams[streamID]; !ok {
		c.streams[streamID] = newStreamInfo(c.peerInitialStreamWindow(), c.localInitialStreamWindow())
	}
}

func (c *Connection) maxFrameSize() int {
	if v, ok := c.remoteSettings[SettingMaxFrameSize]; ok {
		return int(v)
	}
	return DefaultMaxFrameSize
}

func (c *Connection) peerInitialStreamWindow() int32 {
	if v, ok := c.remoteSettings[SettingInitialWindowSize]; ok {
		return clampWindow(v)
	}
	return clampWindow(DefaultInitialWindowSize)
}

func (c *Connection) localInitialStreamWindow() int32 {
	return clampWindow(c.settings[SettingInitialWindowSize])
}

func clampWindow(value uint32) int32 {
	if value > uint32(maxWindowSize) {
		return maxWindowSize
	}
	return int32(value)
}

func clampWindowDelta(current int32, delta int64) int32 {
	v := int64(current) + delta
	if v < 0 {
		return 0
	}
	if v > int64(maxWindowSize) {
		return maxWindowSize
	}
	return int32(v)
}

func addClampedWindow(current int32, increment uint32) int32 {
	return clampWindowDelta(current, int64(increment))
}

func (c *Connection) goawayErr() error {
	if c.goawayReason != nil {
		return c.goawayReason
	}
	return rerr.ErrConnectionFailed
}

// SetAutoFlushBytes sets a write-coalescing threshold: pending frame bytes
// are buffered until they reach threshold, then flushed in one write. A nil
// threshold flushes after every queued frame.
func (c *Connection) SetAutoFlushBytes(threshold *int) { c.autoFlushBytes = threshold }

// Flush writes any buffered frame bytes to the wire.
func (c *Connection) Flush() error { return c.flushPendingWrites() }

func (c *Connection) flushPendingWrites() error {
	if len(c.pendingWrites) == 0 {
		return nil
	}
	aggregate := make([]byte, 0, c.pendingWriteBytes)
	for _, chunk := range c.pendingWrites {
		aggregate = append(aggregate, chunk...)
	}
	c.pendingWrites = nil
	c.pendingWriteBytes = 0
	return c.writeToStream(aggregate)
}

func (c *Connection) enqueueStreamEvent(streamID uint32, ev StreamEvent) {
	if streamID == 0 {
		return
	}
	c.ensureStream(streamID)
	s := c.streams[streamID]
	s.inboundEvents = append(s.inboundEvents, ev)
}

func (c *Connection) handleHeaderBlockFragment(frame *Frame) (*StreamEvent, error) {
	streamID := frame.StreamID
	if streamID == 0 {
		return nil, &rerr.H2ProtocolError{Msg: "header block on stream 0"}
	}
	c.ensureStream(streamID)
	s := c.streams[streamID]

	switch frame.Type {
	case FrameHeaders:
		fragment, err := headerFragmentBytes(frame)
		if err != nil {
			return nil, err
		}
		endStream := frame.IsEndStream()
		if frame.IsEndHeaders() {
			ev, err := c.decodeHeaderBlock(streamID, fragment, endStream)
			if err != nil {
				return nil, err
			}
			return ev, nil
		}
		s.pendingHeaders = &pendingHeaderBlock{block: append([]byte{}, fragment...), endStream: endStream}
		c.headerBlockStream = streamID
		return nil, nil

	case FrameContinuation:
		if frame.Flags&FlagPadded != 0 {
			return nil, &rerr.H2ProtocolError{Msg: "CONTINUATION frame must not be padded"}
		}
		if s.pendingHeaders == nil {
			return nil, &rerr.H2ProtocolError{Msg: "CONTINUATION frame without pending header block"}
		}
		s.pendingHeaders.block = append(s.pendingHeaders.block, frame.Payload...)

		if frame.IsEndHeaders() {
			pending := s.pendingHeaders
			s.pendingHeaders = nil
			c.headerBlockStream = 0
			ev, err := c.decodeHeaderBlock(streamID, pending.block, pending.endStream)
			if err != nil {
				return nil, err
			}
			return ev, nil
		}
		return nil, nil

	default:
		return nil, nil
	}
}

func headerFragmentBytes(frame *Frame) ([]byte, error) {
	payload := frame.Payload
	offset := 0
	padLength := 0

	if frame.Flags&FlagPadded != 0 {
		if len(payload) == 0 {
			return nil, &rerr.H2ProtocolError{Msg: "PADDED flag set but no pad length available"}
		}
		padLength = int(payload[0])
		offset++
		if padLength > len(payload)-offset {
			return nil, &rerr.H2ProtocolError{Msg: "invalid padding length in HEADERS frame"}
		}
	}

	if frame.Flags&FlagPriority != 0 {
		if len(payload) < offset+5 {
			return nil, &rerr.H2ProtocolError{Msg: "PRIORITY flag set but insufficient payload"}
		}
		offset += 5
	}

	if padLength > len(payload)-offset {
		return nil, &rerr.H2ProtocolError{Msg: "padding exceeds payload size"}
	}
	end := len(payload) - padLength
	if offset > end {
		return nil, &rerr.H2ProtocolError{Msg: "invalid header fragment boundaries"}
	}
	return payload[offset:end], nil
}

func (c *Connection) decodeHeaderBlock(streamID uint32, block []byte, endStream bool) (*StreamEvent, error) {
	headers, err := c.hpack.Decode(block)
	if err != nil {
		return nil, err
	}

	informational := false
	if v, ok := headers.Get(":status"); ok {
		if code, err := strconv.Atoi(v); err == nil && code < 200 {
			informational = true
		}
	}

	s := c.streams[streamID]
	alreadyFinal := s != nil && s.FinalHeadersReceived
	if !informational && !alreadyFinal && s != nil {
		s.FinalHeadersReceived = true
	}
	isTrailer := alreadyFinal && !informational

	return &StreamEvent{Kind: EventHeaders, Headers: headers, EndStream: endStream, IsTrailer: isTrailer}, nil
}

func dataPayload(frame *Frame) ([]byte, error) {
	payload := frame.Payload
	if frame.Flags&FlagPadded == 0 {
		return payload, nil
	}
	if len(payload) == 0 {
		return nil, &rerr.H2ProtocolError{Msg: "DATA frame with PADDED flag set but empty payload"}
	}
	padLength := int(payload[0])
	if padLength > len(payload)-1 {
		return nil, &rerr.H2ProtocolError{Msg: "padding length exceeds DATA payload"}
	}
	end := len(payload) - padLength
	return payload[1:end], nil
}

func (c *Connection) sendFrame(frame *Frame) error {
	serialized, err := frame.Serialize()
	if err != nil {
		return err
	}
	return c.queueSerializedFrame(serialized)
}

func (c *Connection) queueSerializedFrame(serialized []byte) error {
	c.pendingWriteBytes += len(serialized)
	c.pendingWrites = append(c.pendingWrites, serialized)

	shouldFlush := true
	if c.autoFlushBytes != nil {
		shouldFlush = c.pendingWriteBytes >= *c.autoFlushBytes
	}
	if shouldFlush {
		return c.flushPendingWrites()
	}
	return nil
}

func (c *Connection) readFrameFromWire() (*Frame, error) {
	var hdr [FrameHeaderSize]byte
	if err := c.readFromStream(hdr[:]); err != nil {
		return nil, err
	}
	length := uint32(hdr[0])<<16 | uint32(hdr[1])<<8 | uint32(hdr[2])

	payload := make([]byte, length)
	if length > 0 {
		if err := c.readFromStream(payload); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, 0, FrameHeaderSize+len(payload))
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)

	frame, _, ok, err := ParseFrame(buf)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &rerr.H2FrameSizeError{Msg: "truncated frame read from wire"}
	}
	return frame, nil
}

func (c *Connection) writeToStream(data []byte) error {
	if c.WriteTimeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.WriteTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(data)
	return mapTimeout(err)
}

func (c *Connection) readFromStream(buf []byte) error {
	if c.ReadTimeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
			return err
		}
	}
	_, err := io.ReadFull(c.conn, buf)
	return mapTimeout(err)
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

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// IsOpen reports whether the connection can still carry new streams.
func (c *Connection) IsOpen() bool {
	return c.State == ConnOpen || c.State == ConnHalfClosedRemote
}

// MaxConcurrentStreams returns the peer's advertised MAX_CONCURRENT_STREAMS.
func (c *Connection) MaxConcurrentStreams() uint32 {
	if v, ok := c.remoteSettings[SettingMaxConcurrentStreams]; ok {
		return v
	}
	return DefaultMaxConcurrentStreams
}

// ActiveStreamCount returns the number of streams not yet fully closed.
func (c *Connection) ActiveStreamCount() int {
	n := 0
	for _, s := range c.streams {
		switch s.State {
		case StreamOpen, StreamHalfClosedLocal, StreamHalfClosedRemote:
			n++
		}
	}
	return n
}

// Close sends a final GOAWAY acknowledging lastStreamID with no error.
func (c *Connection) Close() error {
	return c.SendGoAway(c.lastStreamID, uint32(rerr.H2NoError), nil)
}
