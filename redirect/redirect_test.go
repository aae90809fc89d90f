package redirect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianosrt/riphttp/header"
	"github.com/sebastianosrt/riphttp/request"
	"github.com/sebastianosrt/riphttp/response"
	"github.com/sebastianosrt/riphttp/rerr"
)

func newReq(t *testing.T, method, url string) *request.Request {
	r, err := request.New(method, url)
	require.NoError(t, err)
	return r
}

func redirectResp(status int, location string) *response.Response {
	return response.New(status, "HTTP/1.1", header.List{header.New("Location", location)}, nil, nil)
}

func TestIsRedirectRecognizesAllFiveStatuses(t *testing.T) {
	for _, status := range []int{301, 302, 303, 307, 308} {
		assert.True(t, IsRedirect(response.New(status, "HTTP/1.1", nil, nil, nil)), status)
	}
	assert.False(t, IsRedirect(response.New(200, "HTTP/1.1", nil, nil, nil)))
}

func TestApplyRejectsMissingLocation(t *testing.T) {
	r := newReq(t, "GET", "https://example.com/")
	resp := response.New(301, "HTTP/1.1", nil, nil, nil)
	err := Apply(r, resp, 0)
	assert.Error(t, err)
}

func TestApplyEnforcesHopCap(t *testing.T) {
	r := newReq(t, "GET", "https://example.com/")
	resp := redirectResp(301, "/next")
	err := Apply(r, resp, 30)
	assert.ErrorIs(t, err, rerr.ErrTooManyHops)
}

func TestApply303RewritesToGETAndClearsBody(t *testing.T) {
	r := newReq(t, "POST", "https://example.com/submit")
	r.SetBodyRaw([]byte("payload"))
	resp := redirectResp(303, "/done")

	require.NoError(t, Apply(r, resp, 0))
	assert.Equal(t, "GET", r.Method)
	assert.Equal(t, "/done", r.Target.Path)
	body, _ := r.Body()
	assert.Empty(t, body)
}

func TestApply301RewritesNonGETToGET(t *testing.T) {
	r := newReq(t, "POST", "https://example.com/submit")
	resp := redirectResp(301, "/elsewhere")

	require.NoError(t, Apply(r, resp, 0))
	assert.Equal(t, "GET", r.Method)
}

func TestApply301PreservesGET(t *testing.T) {
	r := newReq(t, "GET", "https://example.com/a")
	resp := redirectResp(301, "/b")

	require.NoError(t, Apply(r, resp, 0))
	assert.Equal(t, "GET", r.Method)
}

func TestApply307PreservesMethodAndBody(t *testing.T) {
	r := newReq(t, "POST", "https://example.com/submit")
	r.SetBodyRaw([]byte("payload"))
	resp := redirectResp(307, "/retry")

	require.NoError(t, Apply(r, resp, 0))
	assert.Equal(t, "POST", r.Method)
	body, _ := r.Body()
	assert.Equal(t, []byte("payload"), body)
}

func TestApplyStripsSensitiveHeadersOnHostChange(t *testing.T) {
	r := newReq(t, "GET", "https://example.com/a")
	r.AddHeader("Authorization", "Bearer xyz")
	r.AddHeader("Cookie", "a=1")
	resp := redirectResp(302, "https://other.example/b")

	require.NoError(t, Apply(r, resp, 0))
	assert.False(t, r.Headers.Has("Authorization"))
	assert.False(t, r.Headers.Has("Cookie"))
	assert.Equal(t, "other.example", r.Target.Host)
}

func TestApplyKeepsHeadersOnSameHost(t *testing.T) {
	r := newReq(t, "GET", "https://example.com/a")
	r.AddHeader("Authorization", "Bearer xyz")
	resp := redirectResp(302, "/b")

	require.NoError(t, Apply(r, resp, 0))
	assert.True(t, r.Headers.Has("Authorization"))
}

func TestFollowStopsOnNonRedirectResponse(t *testing.T) {
	r := newReq(t, "GET", "https://example.com/")
	calls := 0
	resp, err := Follow(r, func(*request.Request) (*response.Response, error) {
		calls++
		return response.New(200, "HTTP/1.1", nil, []byte("ok"), nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, 1, calls)
}

func TestFollowChasesRedirectsUntilFinalResponse(t *testing.T) {
	r := newReq(t, "GET", "https://example.com/a")
	calls := 0
	resp, err := Follow(r, func(req *request.Request) (*response.Response, error) {
		calls++
		if req.Target.Path == "/a" {
			return redirectResp(302, "/b"), nil
		}
		return response.New(200, "HTTP/1.1", nil, nil, nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "/b", r.Target.Path)
}

func TestFollowRespectsFollowRedirectsFalse(t *testing.T) {
	r := newReq(t, "GET", "https://example.com/a")
	r.FollowRedirects = false
	calls := 0
	resp, err := Follow(r, func(*request.Request) (*response.Response, error) {
		calls++
		return redirectResp(302, "/b"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 302, resp.Status)
	assert.Equal(t, 1, calls)
}

func TestFollowRespectsCustomMaxRedirects(t *testing.T) {
	r := newReq(t, "GET", "https://example.com/a")
	r.MaxRedirects = 2
	calls := 0
	_, err := Follow(r, func(*request.Request) (*response.Response, error) {
		calls++
		return redirectResp(302, "/a"), nil
	})
	assert.True(t, errors.Is(err, rerr.ErrTooManyHops))
	assert.Equal(t, 3, calls)
}

func TestFollowPropagatesSendError(t *testing.T) {
	r := newReq(t, "GET", "https://example.com/a")
	sentinel := errors.New("boom")
	_, err := Follow(r, func(*request.Request) (*response.Response, error) {
		return nil, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}
