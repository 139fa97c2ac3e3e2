package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jrsteele09/go-auth-gateway/gateway"
	"github.com/jrsteele09/go-auth-gateway/internal/config"
	interrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/sessions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json"

// Response is the envelope every crash API endpoint answers with.
type Response[T any] struct {
	Success bool            `json:"success"`
	Status  int             `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Client is a typed client for the crash API. All calls go through the request gateway, so
// they carry the session's access token and survive its expiry.
type Client struct {
	baseURL     string
	refreshPath string
	http        *http.Client
	store       *sessions.Store
	coordinator *gateway.Coordinator
	log         zerolog.Logger
}

type clientOptions struct {
	store       *sessions.Store
	base        http.RoundTripper
	logger      *zerolog.Logger
	gatewayOpts []gateway.Option
}

// Option configures a Client.
type Option func(*clientOptions)

// WithStore sets the session store. Defaults to an in-memory store.
func WithStore(store *sessions.Store) Option {
	return func(o *clientOptions) {
		o.store = store
	}
}

// WithBaseTransport sets the RoundTripper beneath the gateway.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.base = rt
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = &l
	}
}

// WithGatewayOptions passes options through to the refresh coordinator, e.g. a Navigator or
// a metrics registerer.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(o *clientOptions) {
		o.gatewayOpts = append(o.gatewayOpts, opts...)
	}
}

// New builds a Client for cfg's base URL. The coordinator refreshes tokens through the
// client's own RefreshToken call.
func New(cfg config.Config, options ...Option) *Client {
	opts := clientOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.store == nil {
		opts.store = sessions.NewStore(sessions.NewInMemoryRepo())
	}
	logger := log.Logger
	if opts.logger != nil {
		logger = *opts.logger
	}

	c := &Client{
		baseURL:     cfg.GetBaseURL(),
		refreshPath: cfg.GetRefreshPath(),
		store:       opts.store,
		log:         logger,
	}

	gatewayOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithRefreshTimeout(cfg.GetRefreshTimeout()),
		gateway.WithLoginRoute(cfg.GetLoginRoute()),
	}
	gatewayOpts = append(gatewayOpts, opts.gatewayOpts...)
	c.coordinator = gateway.NewCoordinator(c.store, gateway.RefresherFunc(c.RefreshToken), gatewayOpts...)

	transportOpts := []gateway.TransportOption{
		gateway.WithRefreshPath(cfg.GetRefreshPath()),
		gateway.WithNoRefreshPaths(cfg.GetNoRefreshPaths()...),
	}
	if opts.base != nil {
		transportOpts = append(transportOpts, gateway.WithBase(opts.base))
	}

	timeout := cfg.GetRequestTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c.http = gateway.NewTransport(c.coordinator, transportOpts...).Client(timeout)
	return c
}

func (c *Client) Store() *sessions.Store {
	return c.store
}

func (c *Client) Coordinator() *gateway.Coordinator {
	return c.coordinator
}

// HTTPClient returns the gateway-backed http.Client for calls this package does not wrap.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Do sends a JSON request to path (relative to the base URL) and decodes the response
// envelope. When out is non-nil the envelope's data is decoded into it.
//
// Failures come back as *gateway.Error: KindNetwork when no response was received, KindAuth
// for a 401 the gateway could not recover from, KindBusiness for any other non-2xx status or
// a body that is not an envelope. A refresh failure raised inside the gateway is returned as is.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) (*Response[json.RawMessage], error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		bodyReader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		return nil, gateway.NewError(gateway.KindNetwork, 0, "no response from server", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return &Response[json.RawMessage]{Success: true, Status: http.StatusNoContent, Message: "No Content"}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.NewError(gateway.KindNetwork, resp.StatusCode, "response body could not be read", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, raw)
	}

	if !isJSONObject(raw) {
		return nil, gateway.NewError(gateway.KindBusiness, resp.StatusCode, "invalid API response", interrors.ErrInvalidResponse)
	}
	var env Response[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, gateway.NewError(gateway.KindBusiness, resp.StatusCode, "invalid API response", errors.Wrap(interrors.ErrInvalidResponse, err.Error()))
	}
	if env.Status == 0 {
		env.Status = resp.StatusCode
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, gateway.NewError(gateway.KindBusiness, resp.StatusCode, "invalid API response", errors.Wrap(interrors.ErrInvalidResponse, err.Error()))
		}
	}
	return &env, nil
}

// call is Do for endpoints where success:false is a failure.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.Do(ctx, method, path, query, body, out)
	if err != nil {
		return err
	}
	return businessFailure(resp)
}

func businessFailure(resp *Response[json.RawMessage]) error {
	if resp.Success {
		return nil
	}
	message := resp.Message
	if message == "" {
		message = "request was not successful"
	}
	return gateway.NewError(gateway.KindBusiness, resp.Status, message, nil)
}

// statusError classifies a final non-2xx response.
func statusError(status int, body []byte) error {
	message := http.StatusText(status)
	var fields map[string]any
	if json.Unmarshal(body, &fields) == nil {
		for _, key := range []string{"message", "error"} {
			if s, ok := fields[key].(string); ok && s != "" {
				message = s
				break
			}
		}
	}

	if status == http.StatusUnauthorized {
		return gateway.NewError(gateway.KindAuth, status, message, interrors.ErrNotAuthenticated)
	}
	return gateway.NewError(gateway.KindBusiness, status, message, nil)
}

func isJSONObject(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
