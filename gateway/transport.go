package gateway

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// RequestIDHeader correlates a request with its replay in client and server logs.
const RequestIDHeader = "X-Request-ID"

var _ http.RoundTripper = (*Transport)(nil)

// Transport is an http.RoundTripper that attaches the session's access token to outgoing
// requests and recovers from 401 responses through a Coordinator.
type Transport struct {
	base        http.RoundTripper
	coordinator *Coordinator
	refreshPath string
	noRefresh   []string
	log         zerolog.Logger
}

type TransportOption func(*Transport)

// WithBase sets the RoundTripper that actually sends requests. Defaults to
// http.DefaultTransport.
func WithBase(rt http.RoundTripper) TransportOption {
	return func(t *Transport) {
		t.base = rt
	}
}

// WithRefreshPath sets the path of the refresh endpoint, which never receives an access token.
func WithRefreshPath(path string) TransportOption {
	return func(t *Transport) {
		t.refreshPath = path
	}
}

// WithNoRefreshPaths lists paths whose 401 responses are returned as-is.
func WithNoRefreshPaths(paths ...string) TransportOption {
	return func(t *Transport) {
		t.noRefresh = append(t.noRefresh, paths...)
	}
}

func NewTransport(coordinator *Coordinator, options ...TransportOption) *Transport {
	t := &Transport{
		base:        http.DefaultTransport,
		coordinator: coordinator,
		refreshPath: "/auth/refresh-token",
		log:         coordinator.log,
	}
	for _, opt := range options {
		opt(t)
	}
	t.noRefresh = append(t.noRefresh, t.refreshPath)
	return t
}

// Client returns an http.Client sending through t.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// pendingRequest is an outbound request that can be sent a second time.
type pendingRequest struct {
	req     *http.Request
	getBody func() (io.ReadCloser, error)
	retried bool
}

func newPendingRequest(req *http.Request) (*pendingRequest, error) {
	out := req.Clone(req.Context())
	getBody := req.GetBody

	if req.Body != nil && req.Body != http.NoBody && getBody == nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, NewError(KindNetwork, 0, "request body could not be read", err)
		}
		getBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
		out.Body, _ = getBody()
		out.GetBody = getBody
	}

	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return &pendingRequest{req: out, getBody: getBody}, nil
}

// replay builds the second attempt, carrying accessToken and the original body.
func (p *pendingRequest) replay(accessToken string) (*http.Request, error) {
	r := p.req.Clone(p.req.Context())
	if p.getBody != nil {
		body, err := p.getBody()
		if err != nil {
			return nil, NewError(KindNetwork, 0, "request body could not be replayed", err)
		}
		r.Body = body
	}
	setBearer(r, accessToken)
	return r, nil
}

func setBearer(r *http.Request, accessToken string) {
	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(r)
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	pending, err := newPendingRequest(req)
	if err != nil {
		return nil, err
	}
	requestID := pending.req.Header.Get(RequestIDHeader)

	sentWith := t.inject(pending.req)
	out := pending.req
	for {
		resp, err := t.base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || !t.refreshable(out) || pending.retried {
			return resp, nil
		}

		pending.retried = true
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		t.log.Debug().Str("request_id", requestID).Str("path", req.URL.Path).Msg("Unauthorized, awaiting token refresh")
		accessToken, err := t.coordinator.AwaitToken(req.Context(), sentWith)
		if err != nil {
			return nil, err
		}

		if out, err = pending.replay(accessToken); err != nil {
			return nil, err
		}
		t.coordinator.metrics.replays.Inc()
		t.log.Debug().Str("request_id", requestID).Str("path", req.URL.Path).Msg("Replaying request with refreshed token")
	}
}

// inject sets the Authorization header from the session and returns the token it used.
// An unreadable session or a malformed token leaves the request unauthenticated.
func (t *Transport) inject(req *http.Request) string {
	if req.Method == http.MethodOptions || t.isRefreshEndpoint(req) {
		return ""
	}

	accessToken, err := t.coordinator.store.AccessToken(req.Context())
	if err != nil {
		t.log.Warn().Err(err).Str("request_id", req.Header.Get(RequestIDHeader)).Msg("Session unreadable, sending request without token")
		return ""
	}
	if accessToken == "" {
		return ""
	}
	if !t.coordinator.Validate(accessToken) {
		t.log.Warn().Str("request_id", req.Header.Get(RequestIDHeader)).Msg("Stored access token is malformed, sending request without token")
		return ""
	}

	setBearer(req, accessToken)
	return accessToken
}

func (t *Transport) isRefreshEndpoint(req *http.Request) bool {
	return t.refreshPath != "" && strings.HasSuffix(req.URL.Path, t.refreshPath)
}

func (t *Transport) refreshable(req *http.Request) bool {
	if req.Method == http.MethodOptions {
		return false
	}
	for _, p := range t.noRefresh {
		if p != "" && strings.HasSuffix(req.URL.Path, p) {
			return false
		}
	}
	return true
}
