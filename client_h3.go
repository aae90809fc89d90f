package riphttp

import (
	"context"
	"io"

	"github.com/sebastianosrt/riphttp/h3"
	"github.com/sebastianosrt/riphttp/header"
	"github.com/sebastianosrt/riphttp/request"
	"github.com/sebastianosrt/riphttp/response"
)

// sendH3 dials a fresh QUIC connection with ALPN "h3", runs the control
// stream handshake, and drives one request/response exchange on its own
// bidirectional request stream (spec §4.6).
func (c *Client) sendH3(ctx context.Context, r *request.Request, prepared *request.PreparedRequest) (*response.Response, error) {
	dialer := c.activeDialer()
	quicConn, err := dialer.ConnectQUIC(ctx, r.Target.Host, r.Target.Port, r.Target.Host, []string{"h3"})
	if err != nil {
		return nil, err
	}
	defer quicConn.CloseWithError(0, "")

	conn := h3.New(quicConn, c.readTimeout(r), c.writeTimeout(r))
	if err := conn.Handshake(ctx); err != nil {
		return nil, err
	}

	rs, err := conn.OpenRequestStream(ctx)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	outbound := append(prepared.PseudoHeaders.Clone(), prepared.RegularHeaders...)
	hasBody := len(prepared.Body) > 0
	hasTrailers := len(prepared.Trailers) > 0

	var frames []response.CapturedFrame
	capture := func(dir, kind string, length int) {
		if r.Instrument {
			frames = append(frames, response.CapturedFrame{Direction: dir, Protocol: "h3", Kind: kind, StreamID: rs.StreamID(), Length: length})
		}
	}

	if err := rs.SendHeaders(outbound); err != nil {
		return nil, err
	}
	capture("send", "HEADERS", len(outbound))

	if hasBody {
		if err := rs.SendData(prepared.Body); err != nil {
			return nil, err
		}
		capture("send", "DATA", len(prepared.Body))
	}
	if hasTrailers {
		if err := rs.SendHeaders(prepared.Trailers); err != nil {
			return nil, err
		}
		capture("send", "HEADERS", len(prepared.Trailers))
	}
	if err := rs.CloseSend(); err != nil {
		return nil, err
	}

	status := 0
	var headers header.List
	for {
		h, err := rs.ReadHeaders()
		if err != nil {
			return nil, err
		}
		capture("recv", "HEADERS", len(h))
		code := statusFromPseudo(h)
		if response.IsInformational(code) {
			continue
		}
		status, headers = code, h
		break
	}

	var body []byte
	var trailers header.List
	for {
		frame, err := rs.ReadFrame()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		switch frame.Type {
		case h3.FrameData:
			capture("recv", "DATA", len(frame.Payload))
			body = append(body, frame.Payload...)
		case h3.FrameHeaders:
			t, err := rs.DecodeHeaders(frame)
			if err != nil {
				return nil, err
			}
			capture("recv", "HEADERS", len(t))
			trailers = t
		}
	}

	resp := response.New(status, "HTTP/3", headers, body, trailers)
	resp.CapturedFrames = frames
	return resp, nil
}
