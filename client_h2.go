package riphttp

import (
	"strconv"

	"github.com/sebastianosrt/riphttp/h2"
	"github.com/sebastianosrt/riphttp/header"
	"github.com/sebastianosrt/riphttp/request"
	"github.com/sebastianosrt/riphttp/response"
	"github.com/sebastianosrt/riphttp/rerr"
	"github.com/sebastianosrt/riphttp/transport"
)

// runH2 drives one request/response exchange over an established H2
// connection: handshake, open a stream, send HEADERS/DATA/trailers, then
// pump stream events until the response is complete (spec §4.4).
func (c *Client) runH2(bs transport.ByteStream, r *request.Request, prepared *request.PreparedRequest) (*response.Response, error) {
	conn := h2.New(bs, c.readTimeout(r), c.writeTimeout(r))
	if err := conn.Handshake(); err != nil {
		return nil, err
	}

	streamID, err := conn.OpenStream()
	if err != nil {
		return nil, err
	}

	outbound := append(prepared.PseudoHeaders.Clone(), prepared.RegularHeaders...)
	hasBody := len(prepared.Body) > 0
	hasTrailers := len(prepared.Trailers) > 0

	var frames []response.CapturedFrame
	capture := func(dir, kind string, length int) {
		if r.Instrument {
			frames = append(frames, response.CapturedFrame{Direction: dir, Protocol: "h2", Kind: kind, StreamID: int64(streamID), Length: length})
		}
	}

	if err := conn.SendHeaders(streamID, outbound, !hasBody && !hasTrailers); err != nil {
		return nil, err
	}
	capture("send", "HEADERS", len(outbound))

	if hasBody {
		if err := conn.SendData(streamID, prepared.Body, !hasTrailers); err != nil {
			return nil, err
		}
		capture("send", "DATA", len(prepared.Body))
	}
	if hasTrailers {
		if err := conn.SendHeaders(streamID, prepared.Trailers, true); err != nil {
			return nil, err
		}
		capture("send", "HEADERS", len(prepared.Trailers))
	}

	status := 0
	var headers header.List
	var body []byte
	var trailers header.List

	for {
		ev, err := conn.RecvStreamEvent(streamID)
		if err != nil {
			return nil, err
		}

		switch ev.Kind {
		case h2.EventHeaders:
			capture("recv", "HEADERS", len(ev.Headers))
			if ev.IsTrailer {
				trailers = ev.Headers
				break
			}
			code := statusFromPseudo(ev.Headers)
			if response.IsInformational(code) {
				// 1xx never terminates the wait (spec §8, invariant 6).
				continue
			}
			status = code
			headers = ev.Headers
		case h2.EventData:
			capture("recv", "DATA", len(ev.Payload))
			body = append(body, ev.Payload...)
		case h2.EventRSTStream:
			return nil, &rerr.H2StreamError{StreamID: streamID, Kind: rerr.H2StreamReset, Code: ev.ErrorCode}
		}

		if ev.EndStream {
			break
		}
	}

	resp := response.New(status, "HTTP/2", headers, body, trailers)
	resp.CapturedFrames = frames
	return resp, nil
}

func statusFromPseudo(headers header.List) int {
	v, ok := headers.Get(":status")
	if !ok {
		return 0
	}
	code, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return code
}
