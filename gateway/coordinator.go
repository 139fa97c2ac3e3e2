package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/sessions"
	"github.com/jrsteele09/go-auth-gateway/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Refresher exchanges a refresh token for a new token pair at the remote API.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type RefresherFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

func (f RefresherFunc) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return f(ctx, refreshToken)
}

type refreshResult struct {
	token string
	err   error
}

// Coordinator turns 401 responses into either a fresh access token or a terminal
// authentication failure. At most one refresh call is in flight at a time; callers that
// arrive while it runs are queued and released, in arrival order, with its outcome.
type Coordinator struct {
	store      *sessions.Store
	refresher  Refresher
	navigator  Navigator
	validate   token.Validator
	timeout    time.Duration
	loginRoute string
	log        zerolog.Logger
	registerer prometheus.Registerer
	metrics    *metrics

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
}

type Option func(*Coordinator)

func WithNavigator(n Navigator) Option {
	return func(c *Coordinator) {
		c.navigator = n
	}
}

// WithTokenValidator replaces the JWT shape check applied to stored and issued tokens.
func WithTokenValidator(v token.Validator) Option {
	return func(c *Coordinator) {
		c.validate = v
	}
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

func WithLoginRoute(route string) Option {
	return func(c *Coordinator) {
		c.loginRoute = route
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// WithRegisterer registers the gateway metrics with reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.registerer = reg
	}
}

func NewCoordinator(store *sessions.Store, refresher Refresher, options ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		refresher:  refresher,
		validate:   token.IsValidJWT,
		timeout:    10 * time.Second,
		loginRoute: "/login",
		log:        log.Logger,
	}

	for _, opt := range options {
		opt(c)
	}

	if c.navigator == nil {
		c.navigator = logNavigator{log: c.log, loginRoute: c.loginRoute}
	}
	if c.registerer == nil {
		c.registerer = prometheus.NewRegistry()
	}
	c.metrics = newMetrics(c.registerer)
	return c
}

func (c *Coordinator) Store() *sessions.Store {
	return c.store
}

// Validate applies the configured token format check.
func (c *Coordinator) Validate(raw string) bool {
	return raw != "" && c.validate(raw)
}

// Refreshing reports whether a refresh call is currently in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Waiting returns the number of callers suspended behind the in-flight refresh.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// AwaitToken is called after a request sent with staleToken received a 401. It returns the
// access token the request should be replayed with.
//
// The first caller while idle performs the refresh. Callers arriving during it wait for its
// result. A caller whose stale token has already been superseded in the store is handed the
// current token without another refresh.
func (c *Coordinator) AwaitToken(ctx context.Context, staleToken string) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		waiter := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, waiter)
		c.metrics.waiters.Inc()
		c.mu.Unlock()

		select {
		case res := <-waiter:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if current, err := c.store.AccessToken(ctx); err == nil && current != staleToken {
		if c.Validate(current) {
			c.mu.Unlock()
			return current, nil
		}
		// The session this request was sent under has already been torn down.
		if current == "" && staleToken != "" {
			c.mu.Unlock()
			return "", NewError(KindAuth, http.StatusUnauthorized, "session ended", errors.ErrNotAuthenticated)
		}
	}

	c.refreshing = true
	c.mu.Unlock()

	newToken, err := c.refresh(ctx)
	sessionEnded := err != nil && KindOf(err) != KindNetwork
	if sessionEnded {
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			c.log.Err(clearErr).Msg("Failed to clear session after refresh failure")
		}
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.metrics.waiters.Sub(float64(len(waiters)))
	c.mu.Unlock()

	for _, w := range waiters {
		w <- refreshResult{token: newToken, err: err}
	}

	if err != nil {
		c.metrics.refreshes.WithLabelValues(outcomeFailure).Inc()
		c.log.Err(err).Int("waiters", len(waiters)).Msg("Token refresh failed")
		if sessionEnded {
			c.navigator.RedirectToLogin(ctx, err)
		}
		return "", err
	}

	c.metrics.refreshes.WithLabelValues(outcomeSuccess).Inc()
	c.log.Debug().Int("waiters", len(waiters)).Msg("Token refreshed")
	return newToken, nil
}

// refresh performs one refresh call and persists its result. It runs detached from the
// triggering caller's cancellation, bounded by the refresh timeout.
func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	refreshToken, err := c.store.RefreshToken(ctx)
	if err != nil {
		return "", NewError(KindAuth, 0, "session could not be read", err)
	}
	if err := token.Check(token.Refresh, refreshToken, c.validate); err != nil {
		return "", tokenError(err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	issued, err := c.refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		if KindOf(err) == KindNetwork {
			return "", err
		}
		var gwErr *Error
		status := 0
		if errors.As(err, &gwErr) {
			status = gwErr.Status
		}
		return "", NewError(KindAuth, status, "token refresh rejected", errors.Wrapf(errors.ErrRefreshRejected, "%v", err))
	}
	if issued == nil {
		return "", NewError(KindAuth, 0, "token refresh returned no tokens", errors.ErrRefreshRejected)
	}

	if err := token.Check(token.Access, issued.AccessToken, c.validate); err != nil {
		return "", tokenError(err)
	}
	if err := token.Check(token.Refresh, issued.RefreshToken, c.validate); err != nil {
		return "", tokenError(err)
	}

	if err := c.store.SetTokens(ctx, issued.AccessToken, issued.RefreshToken); err != nil {
		return "", NewError(KindAuth, 0, "refreshed tokens could not be saved", err)
	}
	return issued.AccessToken, nil
}

func tokenError(err error) error {
	if errors.Is(err, errors.ErrTokenMissing) {
		return NewError(KindAuth, http.StatusUnauthorized, "not authenticated", err)
	}
	return NewError(KindTokenFormat, 0, "malformed token", err)
}
