// Package h1 implements the HTTP/1.1 wire engine (spec §4.2, C5): request
// line and header emission, chunked/length/EOF body framing on both the
// write and read paths, and a raw-bytes send mode for protocol testing.
// Grounded on original_source/src/h1/protocol.rs's H1::write_request and
// H1::read_response_from_reader.
package h1

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sebastianosrt/riphttp/header"
	"github.com/sebastianosrt/riphttp/rerr"
	"github.com/sebastianosrt/riphttp/request"
	"github.com/sebastianosrt/riphttp/response"
)

// Conn is the byte-stream surface the H1 engine drives; it matches
// transport.ByteStream minus Close and NegotiatedProtocol so this package doesn't
// import transport directly.
type Conn interface {
	io.Reader
	io.Writer
	SetDeadline(t time.Time) error
}

// Engine drives one HTTP/1.1 request/response exchange over an
// already-established Conn.
type Engine struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New returns an Engine with the given per-operation I/O timeouts; zero
// values disable the corresponding deadline.
func New(readTimeout, writeTimeout time.Duration) *Engine {
	return &Engine{ReadTimeout: readTimeout, WriteTimeout: writeTimeout}
}

// Send writes prepared over conn and reads back a parsed Response.
func (e *Engine) Send(conn Conn, prepared *request.PreparedRequest, authorityHost string) (*response.Response, error) {
	if err := e.writeRequest(conn, prepared, authorityHost); err != nil {
		return nil, err
	}
	return e.readResponse(conn, prepared.Method)
}

// SendRaw writes raw bytes verbatim (spec §4.2, "Raw mode"), then parses
// the reply the same way a normal response is parsed.
func (e *Engine) SendRaw(conn Conn, raw []byte) (*response.Response, error) {
	if len(raw) == 0 {
		return nil, &rerr.RequestFailed{Msg: "raw request payload cannot be empty"}
	}
	if err := e.write(conn, raw); err != nil {
		return nil, err
	}
	return e.readResponse(conn, "")
}

func (e *Engine) writeRequest(conn Conn, p *request.PreparedRequest, authorityHost string) error {
	var buf strings.Builder
	buf.WriteString(p.Method)
	buf.WriteByte(' ')
	buf.WriteString(p.EffectivePath)
	buf.WriteString(" HTTP/1.1\r\n")

	headers := p.RegularHeaders.Clone()
	if !headers.Has("Host") {
		headers = headers.Add("Host", authorityHost)
	}

	useChunked := len(p.Trailers) > 0
	if v, ok := headers.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(v), "chunked") {
		useChunked = true
	}

	_, hasCL := headers.Get("Content-Length")
	if useChunked {
		if _, ok := headers.Get("Transfer-Encoding"); !ok {
			headers = headers.Add("Transfer-Encoding", "chunked")
		}
	} else if len(p.Body) > 0 && !hasCL {
		headers = headers.Add("Content-Length", strconv.Itoa(len(p.Body)))
	}

	for _, h := range headers {
		buf.WriteString(h.WriteLine())
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")

	out := []byte(buf.String())
	if useChunked {
		out = append(out, buildChunkedBody(p.Body, p.Trailers)...)
	} else {
		out = append(out, p.Body...)
	}

	return e.write(conn, out)
}

func (e *Engine) write(conn Conn, data []byte) error {
	if e.WriteTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(e.WriteTimeout)); err != nil {
			return err
		}
	}
	if _, err := conn.Write(data); err != nil {
		return mapTimeout(err)
	}
	return nil
}

// buildChunkedBody emits one chunk carrying the whole body (hex length CRLF,
// body, CRLF), then the terminating "0 CRLF", trailer lines, and the final
// CRLF (spec §4.2).
func buildChunkedBody(body []byte, trailers header.List) []byte {
	var out []byte
	if len(body) > 0 {
		out = append(out, []byte(strconv.FormatInt(int64(len(body)), 16))...)
		out = append(out, '\r', '\n')
		out = append(out, body...)
		out = append(out, '\r', '\n')
	}
	out = append(out, '0', '\r', '\n')
	for _, t := range trailers {
		out = append(out, t.WriteLine()...)
		out = append(out, '\r', '\n')
	}
	out = append(out, '\r', '\n')
	return out
}

func (e *Engine) readResponse(conn Conn, method string) (*response.Response, error) {
	if e.ReadTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(e.ReadTimeout)); err != nil {
			return nil, err
		}
	}
	br := bufio.NewReader(conn)

	for {
		line, err := readLine(br)
		if err != nil {
			return nil, mapTimeout(err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		status, protocol, err := parseStatusLine(line)
		if err != nil {
			return nil, err
		}

		headers, err := readHeaderBlock(br)
		if err != nil {
			return nil, mapTimeout(err)
		}

		if response.IsInformational(status) {
			// Drain the (always-empty) 1xx body and keep waiting for the
			// final response (spec §8, invariant 6).
			continue
		}

		var body []byte
		var trailers header.List
		if !response.HasNoBody(method, status) {
			body, trailers, err = readBody(br, headers)
			if err != nil {
				return nil, mapTimeout(err)
			}
		}

		return response.New(status, protocol, headers, body, trailers), nil
	}
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

func parseStatusLine(line string) (int, string, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, "", &rerr.InvalidResponse{Msg: "malformed status line"}
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, "", &rerr.InvalidResponse{Msg: "bad status code"}
	}
	return status, fields[0], nil
}

func readHeaderBlock(br *bufio.Reader) (header.List, error) {
	var out header.List
	for {
		line, err := readLine(br)
		if err != nil {
			return out, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			return out, nil
		}
		if h, ok := parseHeaderLine(trimmed); ok {
			out = append(out, h)
		}
	}
}

func parseHeaderLine(line string) (header.Header, bool) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return header.Header{}, false
	}
	return header.New(strings.TrimSpace(name), strings.TrimSpace(value)), true
}

func readBody(br *bufio.Reader, headers header.List) ([]byte, header.List, error) {
	if v, ok := headers.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(v), "chunked") {
		return readChunkedBody(br)
	}
	if v, ok := headers.Get("Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return nil, nil, &rerr.InvalidResponse{Msg: "bad content-length"}
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, nil, err
		}
		return body, nil, nil
	}
	body, err := io.ReadAll(br)
	if err != nil && err != io.EOF {
		return nil, nil, err
	}
	return body, nil, nil
}

func readChunkedBody(br *bufio.Reader) ([]byte, header.List, error) {
	var body []byte
	var trailers header.List

	for {
		sizeLine, err := readLine(br)
		if err != nil {
			return nil, nil, err
		}
		sizeStr, _, _ := strings.Cut(strings.TrimSpace(sizeLine), ";")
		size, err := strconv.ParseInt(sizeStr, 16, 64)
		if err != nil {
			return nil, nil, &rerr.InvalidResponse{Msg: "invalid chunk size"}
		}

		if size == 0 {
			for {
				line, err := readLine(br)
				if err != nil {
					return nil, nil, err
				}
				trimmed := strings.TrimRight(line, "\r\n")
				if trimmed == "" {
					break
				}
				if h, ok := parseHeaderLine(trimmed); ok {
					trailers = append(trailers, h)
				}
			}
			return body, trailers, nil
		}

		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, nil, err
		}
		body = append(body, chunk...)

		crlf := make([]byte, 2)
		if _, err := io.ReadFull(br, crlf); err != nil {
			return nil, nil, err
		}
	}
}

func mapTimeout(err error) error {
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return &rerr.Timeout{Cause: err}
	}
	return err
}
