// Package riphttp implements a multi-version HTTP client core speaking
// HTTP/1.1, HTTP/2, and HTTP/3 against a single protocol-agnostic Request
// and Response model. Client is the narrow entry point: it resolves a
// Request's target scheme to a transport and protocol engine, drives one
// request/response exchange (or a redirect chain of them), and decodes the
// response body. Grounded on the teacher's fetcher/NewFetcher wiring
// (fetch.go), generalized from a single net/http.RoundTripper to this
// module's own h1/h2/h3 engines.
package riphttp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sebastianosrt/riphttp/h1"
	"github.com/sebastianosrt/riphttp/internal/optutil"
	"github.com/sebastianosrt/riphttp/redirect"
	"github.com/sebastianosrt/riphttp/request"
	"github.com/sebastianosrt/riphttp/response"
	"github.com/sebastianosrt/riphttp/rerr"
	"github.com/sebastianosrt/riphttp/transport"
)

// Default I/O timeouts applied when a Request's TimeoutProfile leaves a
// field at its zero value without setting Disabled.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
)

// Options configures a Client (spec §9, mirroring the teacher's
// fetch.Options/http2.Options shape).
type Options struct {
	// Dialer overrides the default uTLS/quic-go-backed transport.StdDialer.
	// Proxy tunneling (ConnectViaProxy) is only available with the default
	// dialer, since it dials the raw TCP leg itself before handing off for
	// TLS.
	Dialer transport.Dialer

	// Verify overrides TLS certificate verification (e.g.
	// transport.InsecureSkipVerify for protocol-edge-case testing).
	Verify transport.TLSVerifier

	// Proxy selects an upstream proxy per request when the request itself
	// doesn't set ProxyURL.
	Proxy transport.ProxySelector

	// Logger receives protocol-level diagnostics. A nil Logger falls back
	// to slog.Default().
	Logger *slog.Logger
}

// Client sends Requests and returns Responses, dispatching to the HTTP/1.1,
// HTTP/2, or HTTP/3 engine per the target's scheme and negotiated ALPN.
// Connections are never pooled across requests (spec's Non-goals).
type Client struct {
	dialer *transport.StdDialer
	custom transport.Dialer
	proxy  transport.ProxySelector
	logger *slog.Logger
}

// New builds a Client from opt.
func New(opt Options) *Client {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		dialer: &transport.StdDialer{ConnectTimeout: DefaultConnectTimeout, Verify: opt.Verify},
		custom: opt.Dialer,
		proxy:  opt.Proxy,
		logger: logger,
	}
}

// Do sends r, following redirects per r.FollowRedirects/r.MaxRedirects
// (spec §4.7). Each hop is a fresh connection to the (possibly new) target.
func (c *Client) Do(r *request.Request) (*response.Response, error) {
	return redirect.Follow(r, c.sendOnce)
}

// SendRaw writes raw bytes verbatim over a fresh HTTP/1.1 connection to
// r.Target and parses the reply as HTTP/1.1 (spec §4.2, "Raw mode"). Only
// schemes that resolve to the HTTP/1.1 engine are supported; h2/h2c/h3
// targets return rerr.ErrRawUnsupported (spec §9, Open Question (d)).
func (c *Client) SendRaw(r *request.Request, raw []byte) (*response.Response, error) {
	ctx, cancel := c.requestContext(r)
	defer cancel()

	switch r.Target.Scheme {
	case "h2", "h2c", "h3":
		return nil, fmt.Errorf("%w: target scheme %q", rerr.ErrRawUnsupported, r.Target.Scheme)
	}

	bs, alpn, err := c.dialByteStream(ctx, r, []string{"http/1.1"})
	if err != nil {
		return nil, err
	}
	defer bs.Close()
	if r.Target.IsTLS() && alpn != "http/1.1" && alpn != "" {
		return nil, fmt.Errorf("%w: peer negotiated %q", rerr.ErrRawUnsupported, alpn)
	}

	engine := h1.New(c.readTimeout(r), c.writeTimeout(r))
	resp, err := engine.SendRaw(bs, raw)
	if err != nil {
		return nil, err
	}
	if err := resp.DecodeBody(); err != nil {
		return nil, err
	}
	return resp, nil
}

// sendOnce performs exactly one request/response round trip against r's
// current target, the unit redirect.Follow drives repeatedly.
func (c *Client) sendOnce(r *request.Request) (*response.Response, error) {
	ctx, cancel := c.requestContext(r)
	defer cancel()

	prepared, err := request.Prepare(r)
	if err != nil {
		return nil, err
	}

	var resp *response.Response
	switch r.Target.Scheme {
	case "h3":
		resp, err = c.sendH3(ctx, r, prepared)
	case "h2":
		resp, err = c.sendH2(ctx, r, prepared, []string{"h2"})
	case "h2c":
		resp, err = c.sendH2(ctx, r, prepared, nil)
	default: // "http", "https"
		resp, err = c.sendH1OrH2(ctx, r, prepared)
	}
	if err != nil {
		return nil, err
	}
	if err := resp.DecodeBody(); err != nil {
		return nil, err
	}
	return resp, nil
}

// sendH1OrH2 handles "http" (always H1, plaintext) and "https" (ALPN
// negotiates between h2 and http/1.1).
func (c *Client) sendH1OrH2(ctx context.Context, r *request.Request, prepared *request.PreparedRequest) (*response.Response, error) {
	if !r.Target.IsTLS() {
		bs, _, err := c.dialByteStream(ctx, r, nil)
		if err != nil {
			return nil, err
		}
		defer bs.Close()
		return c.runH1(bs, r, prepared)
	}

	bs, alpn, err := c.dialByteStream(ctx, r, []string{"h2", "http/1.1"})
	if err != nil {
		return nil, err
	}
	defer bs.Close()

	if alpn == "h2" {
		c.logger.Debug("alpn negotiated h2", "host", r.Target.Host)
		return c.runH2(bs, r, prepared)
	}
	c.logger.Debug("alpn negotiated http/1.1", "host", r.Target.Host)
	return c.runH1(bs, r, prepared)
}

func (c *Client) sendH2(ctx context.Context, r *request.Request, prepared *request.PreparedRequest, alpn []string) (*response.Response, error) {
	bs, _, err := c.dialByteStream(ctx, r, alpn)
	if err != nil {
		return nil, err
	}
	defer bs.Close()
	return c.runH2(bs, r, prepared)
}

func (c *Client) runH1(bs transport.ByteStream, r *request.Request, prepared *request.PreparedRequest) (*response.Response, error) {
	engine := h1.New(c.readTimeout(r), c.writeTimeout(r))
	return engine.Send(bs, prepared, r.Target.HostHeaderValue())
}

// requestContext derives a context bounded by r's connect timeout, used for
// the dial of every scheme (and proxy), plus the H3 handshake.
func (c *Client) requestContext(r *request.Request) (context.Context, context.CancelFunc) {
	if r.Timeouts.Disabled {
		return context.WithCancel(context.Background())
	}
	timeout := optutil.ZeroOr(r.Timeouts.Connect, DefaultConnectTimeout)
	return context.WithTimeout(context.Background(), timeout)
}

func (c *Client) readTimeout(r *request.Request) time.Duration {
	if r.Timeouts.Disabled {
		return 0
	}
	return optutil.ZeroOr(r.Timeouts.Read, DefaultReadTimeout)
}

func (c *Client) writeTimeout(r *request.Request) time.Duration {
	if r.Timeouts.Disabled {
		return 0
	}
	return optutil.ZeroOr(r.Timeouts.Write, DefaultWriteTimeout)
}

// dialByteStream resolves a ByteStream for r.Target: a plain TCP dial for
// non-TLS schemes, or a uTLS handshake negotiating alpnList. Proxy tunneling
// is applied first when one is configured (spec §6, "connect_via_proxy").
func (c *Client) dialByteStream(ctx context.Context, r *request.Request, alpnList []string) (transport.ByteStream, string, error) {
	proxyCfg, err := c.selectProxy(r)
	if err != nil {
		return nil, "", err
	}

	if proxyCfg == nil {
		dialer := c.activeDialer()
		if len(alpnList) == 0 {
			bs, err := dialer.ConnectTCP(ctx, r.Target.Host, r.Target.Port)
			return bs, "", err
		}
		bs, err := dialer.ConnectTLS(ctx, r.Target.Host, r.Target.Port, r.Target.Host, alpnList)
		if err != nil {
			return nil, "", err
		}
		return bs, bs.NegotiatedProtocol(), nil
	}

	if c.custom != nil {
		return nil, "", &rerr.ConnectionFailed{Msg: "proxying is only supported with the default dialer"}
	}

	raw, err := transport.ConnectViaProxy(ctx, proxyCfg, r.Target.Host, r.Target.Port)
	if err != nil {
		return nil, "", err
	}
	if len(alpnList) == 0 {
		return transport.WrapPlainConn(raw), "", nil
	}
	bs, err := c.dialer.ConnectTLSOverConn(ctx, raw, r.Target.Host, alpnList)
	if err != nil {
		return nil, "", err
	}
	return bs, bs.NegotiatedProtocol(), nil
}

func (c *Client) activeDialer() transport.Dialer {
	if c.custom != nil {
		return c.custom
	}
	return c.dialer
}

func (c *Client) selectProxy(r *request.Request) (*transport.ProxyConfig, error) {
	if r.ProxyURL != "" {
		return transport.ParseProxyConfig(r.ProxyURL)
	}
	if c.proxy != nil {
		return c.proxy.Select()
	}
	return nil, nil
}
