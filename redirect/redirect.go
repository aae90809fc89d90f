// Package redirect implements the redirect driver (spec §4.7, C10): given a
// response carrying a 3xx status and a Location header, it rewrites the
// in-flight Request's target, method, and body per RFC 7231 §6.4 convention
// and enforces a hop cap. It contains no transport logic; callers loop it
// against whatever protocol engine produced the response.
package redirect

import (
	"fmt"

	"github.com/sebastianosrt/riphttp/request"
	"github.com/sebastianosrt/riphttp/response"
	"github.com/sebastianosrt/riphttp/rerr"
)

// maxHops is the hard cap on redirect hops per request (spec §4.7).
const maxHops = 30

// redirectStatuses are the status codes that trigger a redirect when
// Location is present.
var redirectStatuses = map[int]bool{301: true, 302: true, 303: true, 307: true, 308: true}

// IsRedirect reports whether resp's status is one the driver acts on.
func IsRedirect(resp *response.Response) bool {
	return redirectStatuses[resp.Status]
}

// Apply rewrites r in place to follow resp's Location header. It is the
// caller's responsibility to check IsRedirect and r.FollowRedirects first;
// Apply always applies.
//
// hop is the number of redirects already followed for this request chain
// (0 for the first); once hop reaches maxHops, Apply returns an error
// wrapping rerr.ErrTooManyHops, which is not a *rerr.RequestFailed.
func Apply(r *request.Request, resp *response.Response, hop int) error {
	if hop >= maxHops {
		return fmt.Errorf("%w: too many redirects", rerr.ErrTooManyHops)
	}

	location, ok := resp.Headers.Get("Location")
	if !ok || location == "" {
		return &rerr.RequestFailed{Msg: "redirect status without Location header"}
	}

	previous := r.Target
	next, err := previous.ResolveReference(location)
	if err != nil {
		return err
	}

	switch resp.Status {
	case 303:
		r.Method = "GET"
		r.SetBodyRaw(nil)
	case 301, 302:
		if r.Method != "GET" && r.Method != "HEAD" {
			r.Method = "GET"
			r.SetBodyRaw(nil)
		}
	case 307, 308:
		// Method and body are preserved.
	}

	if !previous.SameHost(next) {
		r.Headers = r.Headers.Del("Authorization").Del("Cookie").Del("Host")
	}

	r.Target = next
	return nil
}

// Follow drives send repeatedly, applying redirects to r until a
// non-redirect response is returned, redirects are disabled, or the hop cap
// is reached. send performs one request/response round trip against r's
// current target.
func Follow(r *request.Request, send func(*request.Request) (*response.Response, error)) (*response.Response, error) {
	for hop := 0; ; hop++ {
		resp, err := send(r)
		if err != nil {
			return nil, err
		}
		if !r.FollowRedirects || !IsRedirect(resp) {
			return resp, nil
		}
		limit := r.MaxRedirects
		if limit <= 0 || limit > maxHops {
			limit = maxHops
		}
		if hop >= limit {
			return nil, fmt.Errorf("%w: too many redirects", rerr.ErrTooManyHops)
		}
		if err := Apply(r, resp, hop); err != nil {
			return nil, err
		}
	}
}
