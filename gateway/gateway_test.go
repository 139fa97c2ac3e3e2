package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-gateway/gateway"
	"github.com/jrsteele09/go-auth-gateway/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const refreshPath = "/auth/refresh-token"

// echo is what the fake resource server returns for an accepted request.
type echo struct {
	Path          string `json:"path"`
	Body          string `json:"body"`
	Authorization string `json:"authorization"`
	RequestID     string `json:"requestId"`
}

// testFixture is a resource server that accepts exactly one access token, plus a gateway
// client pointed at it.
type testFixture struct {
	server      *httptest.Server
	store       *sessions.Store
	coordinator *gateway.Coordinator
	client      *http.Client
	registry    *prometheus.Registry

	refreshCalls atomic.Int32
	redirects    atomic.Int32
	refresh      func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	beforeReply  func(r *http.Request)

	mu       sync.Mutex
	accepted string
	seen     []*http.Request
}

func newJWT(t *testing.T, subject string) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": subject,
		"jti": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("1234"))
	require.NoError(t, err)
	return raw
}

func setupTestFixture(t *testing.T, options ...gateway.Option) *testFixture {
	t.Helper()

	f := &testFixture{registry: prometheus.NewRegistry()}
	f.server = httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(f.server.Close)

	f.store = sessions.NewStore(sessions.NewInMemoryRepo())

	opts := []gateway.Option{
		gateway.WithLogger(zerolog.Nop()),
		gateway.WithRegisterer(f.registry),
		gateway.WithNavigator(gateway.NavigatorFunc(func(context.Context, error) {
			f.redirects.Add(1)
		})),
	}
	opts = append(opts, options...)

	f.coordinator = gateway.NewCoordinator(f.store, gateway.RefresherFunc(func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		f.refreshCalls.Add(1)
		return f.refresh(ctx, refreshToken)
	}), opts...)
	f.client = gateway.NewTransport(f.coordinator, gateway.WithRefreshPath(refreshPath)).Client(5 * time.Second)

	// By default a refresh issues a fresh pair and the server starts accepting it.
	f.refresh = func(context.Context, string) (*oauth2.Token, error) {
		issued := &oauth2.Token{AccessToken: newJWT(t, "user-1"), RefreshToken: newJWT(t, "user-1")}
		f.accept(issued.AccessToken)
		return issued, nil
	}
	return f
}

func (f *testFixture) accept(accessToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = accessToken
}

func (f *testFixture) requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.seen...)
}

func (f *testFixture) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.seen = append(f.seen, r)
	accepted := f.accepted
	f.mu.Unlock()

	if f.beforeReply != nil {
		f.beforeReply(r)
	}

	auth := r.Header.Get("Authorization")
	if accepted != "" && auth != "Bearer "+accepted && r.Method != http.MethodOptions {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(echo{
		Path:          r.URL.Path,
		Body:          string(body),
		Authorization: auth,
		RequestID:     r.Header.Get(gateway.RequestIDHeader),
	})
}

func (f *testFixture) do(t *testing.T, ctx context.Context, method, path, body string) (*http.Response, error) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, f.server.URL+path, reader)
	require.NoError(t, err)
	return f.client.Do(req)
}

func (f *testFixture) get(t *testing.T, path string) echo {
	t.Helper()
	resp, err := f.do(t, context.Background(), http.MethodGet, path, "")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var e echo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func (f *testFixture) login(t *testing.T, accessToken, refreshToken string) {
	t.Helper()
	require.NoError(t, f.store.SetTokens(context.Background(), accessToken, refreshToken))
}

func TestInjectorAddsStoredToken(t *testing.T) {
	f := setupTestFixture(t)
	access := newJWT(t, "user-1")
	f.login(t, access, newJWT(t, "user-1"))
	f.accept(access)

	got := f.get(t, "/user/me")
	require.Equal(t, "Bearer "+access, got.Authorization)
	require.NotEmpty(t, got.RequestID)
	require.Zero(t, f.refreshCalls.Load())
}

func TestInjectorOmitsMalformedToken(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, "tok2", newJWT(t, "user-1"))

	got := f.get(t, "/categories")
	require.Empty(t, got.Authorization)
}

func TestInjectorSkipsRefreshEndpointAndPreflight(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, newJWT(t, "user-1"), newJWT(t, "user-1"))

	resp, err := f.do(t, context.Background(), http.MethodPost, refreshPath, `{"refreshToken":"x"}`)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = f.do(t, context.Background(), http.MethodOptions, "/user/me", "")
	require.NoError(t, err)
	resp.Body.Close()

	seen := f.requests()
	require.Len(t, seen, 2)
	for _, r := range seen {
		require.Empty(t, r.Header.Get("Authorization"), r.URL.Path)
	}
	require.Zero(t, f.refreshCalls.Load())
}

type unreadableRepo struct {
	*sessions.InMemoryRepo
}

func (unreadableRepo) Get(context.Context, string) (string, error) {
	return "", fmt.Errorf("storage unavailable")
}

func TestInjectorPassesThroughUnreadableSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := sessions.NewStore(unreadableRepo{sessions.NewInMemoryRepo()})
	coordinator := gateway.NewCoordinator(store, nil, gateway.WithLogger(zerolog.Nop()))
	client := gateway.NewTransport(coordinator).Client(time.Second)

	resp, err := client.Get(server.URL + "/solutions")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestConcurrentUnauthorizedRequestsShareOneRefresh(t *testing.T) {
	const n = 10
	f := setupTestFixture(t)
	stale := newJWT(t, "user-1")
	f.login(t, stale, newJWT(t, "user-1"))
	f.accept(newJWT(t, "someone-else"))

	var arrived sync.WaitGroup
	arrived.Add(n)
	f.beforeReply = func(r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+stale {
			arrived.Done()
			arrived.Wait()
		}
	}

	results := make([]echo, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			resp, err := f.do(t, ctx, http.MethodGet, fmt.Sprintf("/admin/solutions/%d", i), "")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("request %d: status %d", i, resp.StatusCode)
			}
			return json.NewDecoder(resp.Body).Decode(&results[i])
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), f.refreshCalls.Load())
	current, err := f.store.AccessToken(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, stale, current)
	for i, res := range results {
		require.Equal(t, "Bearer "+current, res.Authorization, "request %d", i)
	}

	require.Equal(t, float64(1), metricValue(t, f.registry, "crashapi_gateway_refreshes_total"))
	require.Equal(t, float64(n), metricValue(t, f.registry, "crashapi_gateway_replayed_requests_total"))
}

// metricValue returns the value of the single series gathered from reg under name.
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestRefreshMetricsExposition(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, newJWT(t, "user-1"), newJWT(t, "user-1"))
	f.accept(newJWT(t, "nobody"))

	_ = f.get(t, "/user/me")

	expected := `
# HELP crashapi_gateway_refreshes_total Token refresh calls by outcome.
# TYPE crashapi_gateway_refreshes_total counter
crashapi_gateway_refreshes_total{outcome="success"} 1
# HELP crashapi_gateway_refresh_waiters Requests currently suspended behind an in-flight refresh.
# TYPE crashapi_gateway_refresh_waiters gauge
crashapi_gateway_refresh_waiters 0
`
	require.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected),
		"crashapi_gateway_refreshes_total", "crashapi_gateway_refresh_waiters"))
}

func TestTwoInFlightRequestsReplayedWithRefreshedToken(t *testing.T) {
	f := setupTestFixture(t, gateway.WithTokenValidator(func(raw string) bool { return raw != "" }))
	f.login(t, "tok1", "r1")
	f.accept("tok2")

	// Hold both first attempts until A and B have reached the server.
	var arrived sync.WaitGroup
	arrived.Add(2)
	f.beforeReply = func(r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok1" {
			arrived.Done()
			arrived.Wait()
		}
	}
	f.refresh = func(_ context.Context, refreshToken string) (*oauth2.Token, error) {
		require.Equal(t, "r1", refreshToken)
		return &oauth2.Token{AccessToken: "tok2", RefreshToken: "r2"}, nil
	}

	var g errgroup.Group
	got := make([]echo, 2)
	for i, path := range []string{"/a", "/b"} {
		i, path := i, path
		g.Go(func() error {
			resp, err := f.do(t, context.Background(), http.MethodGet, path, "")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return json.NewDecoder(resp.Body).Decode(&got[i])
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), f.refreshCalls.Load())
	require.Equal(t, "Bearer tok2", got[0].Authorization)
	require.Equal(t, "Bearer tok2", got[1].Authorization)

	sess, err := f.store.Session(context.Background())
	require.NoError(t, err)
	require.Equal(t, sessions.Session{AccessToken: "tok2", RefreshToken: "r2", Authenticated: true}, sess)
}

func TestRetriedRequestIsNotRetriedAgain(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, newJWT(t, "user-1"), newJWT(t, "user-1"))
	f.refresh = func(context.Context, string) (*oauth2.Token, error) {
		// Issued, but the server keeps refusing it.
		return &oauth2.Token{AccessToken: newJWT(t, "user-1"), RefreshToken: newJWT(t, "user-1")}, nil
	}
	f.accept(newJWT(t, "nobody"))

	resp, err := f.do(t, context.Background(), http.MethodGet, "/user/me", "")
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, int32(1), f.refreshCalls.Load())
	require.Len(t, f.requests(), 2)
	require.Zero(t, f.redirects.Load())
}

func TestMissingRefreshTokenEndsSession(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.SetTokens(context.Background(), newJWT(t, "user-1"), ""))
	f.accept(newJWT(t, "nobody"))

	_, err := f.do(t, context.Background(), http.MethodGet, "/user/me", "")
	require.Error(t, err)
	require.Equal(t, gateway.KindAuth, gateway.KindOf(err))

	require.Zero(t, f.refreshCalls.Load())
	require.Equal(t, int32(1), f.redirects.Load())
	sess, err := f.store.Session(context.Background())
	require.NoError(t, err)
	require.False(t, sess.Authenticated)
}

func TestMalformedRefreshTokenIsTokenFormatFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, newJWT(t, "user-1"), "not-a-jwt")
	f.accept(newJWT(t, "nobody"))

	_, err := f.do(t, context.Background(), http.MethodGet, "/user/me", "")
	require.Equal(t, gateway.KindTokenFormat, gateway.KindOf(err))
	require.Zero(t, f.refreshCalls.Load())
	require.Equal(t, int32(1), f.redirects.Load())
}

func TestMalformedIssuedTokenEndsSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, newJWT(t, "user-1"), newJWT(t, "user-1"))
	f.accept(newJWT(t, "nobody"))
	f.refresh = func(context.Context, string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "tok2", RefreshToken: "r2"}, nil
	}

	_, err := f.do(t, context.Background(), http.MethodGet, "/user/me", "")
	require.Equal(t, gateway.KindTokenFormat, gateway.KindOf(err))

	sess, err := f.store.Session(context.Background())
	require.NoError(t, err)
	require.Equal(t, sessions.Session{}, sess)
}

func TestRefreshFailureRejectsEveryWaiter(t *testing.T) {
	const n = 5
	f := setupTestFixture(t)
	f.login(t, newJWT(t, "user-1"), newJWT(t, "user-1"))
	f.accept(newJWT(t, "nobody"))

	release := make(chan struct{})
	f.refresh = func(context.Context, string) (*oauth2.Token, error) {
		<-release
		return nil, gateway.NewError(gateway.KindAuth, http.StatusUnauthorized, "refresh token expired", nil)
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.do(t, context.Background(), http.MethodGet, "/developer/users", "")
			if resp != nil {
				resp.Body.Close()
			}
			errs[i] = err
		}()
	}

	require.Eventually(t, func() bool { return f.coordinator.Waiting() == n-1 }, 5*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		require.Error(t, err, "request %d", i)
		require.True(t, gateway.IsAuthFailure(err), "request %d: %v", i, err)
	}
	require.Equal(t, int32(1), f.refreshCalls.Load())
	require.Equal(t, int32(1), f.redirects.Load())
	require.False(t, f.coordinator.Refreshing())

	sess, err := f.store.Session(context.Background())
	require.NoError(t, err)
	require.Equal(t, sessions.Session{}, sess)
}

func TestLateUnauthorizedAfterFailedRefreshRedirectsOnce(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, newJWT(t, "user-1"), newJWT(t, "user-1"))
	f.accept(newJWT(t, "nobody"))
	f.refresh = func(context.Context, string) (*oauth2.Token, error) {
		return nil, gateway.NewError(gateway.KindAuth, http.StatusUnauthorized, "refresh token expired", nil)
	}

	held := make(chan struct{})
	release := make(chan struct{})
	f.beforeReply = func(r *http.Request) {
		if r.URL.Path == "/slow" {
			close(held)
			<-release
		}
	}

	slow := make(chan error, 1)
	go func() {
		resp, err := f.do(t, context.Background(), http.MethodGet, "/slow", "")
		if resp != nil {
			resp.Body.Close()
		}
		slow <- err
	}()
	<-held

	_, err := f.do(t, context.Background(), http.MethodGet, "/user/me", "")
	require.True(t, gateway.IsAuthFailure(err), "%v", err)
	require.Equal(t, int32(1), f.redirects.Load())

	close(release)
	err = <-slow
	require.Error(t, err)
	require.Equal(t, gateway.KindAuth, gateway.KindOf(err))

	require.Equal(t, int32(1), f.refreshCalls.Load())
	require.Equal(t, int32(1), f.redirects.Load())
	require.False(t, f.coordinator.Refreshing())
}

func TestNetworkFailureDuringRefreshKeepsSession(t *testing.T) {
	f := setupTestFixture(t)
	access, refresh := newJWT(t, "user-1"), newJWT(t, "user-1")
	f.login(t, access, refresh)
	f.accept(newJWT(t, "nobody"))
	f.refresh = func(context.Context, string) (*oauth2.Token, error) {
		return nil, gateway.NewError(gateway.KindNetwork, 0, "connection refused", nil)
	}

	_, err := f.do(t, context.Background(), http.MethodGet, "/user/me", "")
	require.Equal(t, gateway.KindNetwork, gateway.KindOf(err))
	require.Zero(t, f.redirects.Load())

	sess, err := f.store.Session(context.Background())
	require.NoError(t, err)
	require.Equal(t, access, sess.AccessToken)
	require.Equal(t, refresh, sess.RefreshToken)
}

func TestReplayKeepsBodyAndRequestID(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, newJWT(t, "user-1"), newJWT(t, "user-1"))
	f.accept(newJWT(t, "nobody"))

	// A body without GetBody forces the transport to buffer it.
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/admin/solutions", io.NopCloser(strings.NewReader(`{"title":"Crash on launch"}`)))
	require.NoError(t, err)
	req.Header.Set(gateway.RequestIDHeader, "req-42")

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var got echo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, `{"title":"Crash on launch"}`, got.Body)
	require.Equal(t, "req-42", got.RequestID)

	seen := f.requests()
	require.Len(t, seen, 2)
	require.Equal(t, "req-42", seen[0].Header.Get(gateway.RequestIDHeader))
}

func TestNoRefreshPathReturnsUnauthorized(t *testing.T) {
	f := setupTestFixture(t)
	f.accept(newJWT(t, "nobody"))

	resp, err := f.do(t, context.Background(), http.MethodPost, refreshPath, `{}`)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, f.refreshCalls.Load())
	require.Zero(t, f.redirects.Load())
}

func TestWaiterHonoursItsContext(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, newJWT(t, "user-1"), newJWT(t, "user-1"))
	f.accept(newJWT(t, "nobody"))

	release := make(chan struct{})
	defaultRefresh := f.refresh
	f.refresh = func(ctx context.Context, rt string) (*oauth2.Token, error) {
		<-release
		return defaultRefresh(ctx, rt)
	}

	first := make(chan error, 1)
	go func() {
		resp, err := f.do(t, context.Background(), http.MethodGet, "/user/me", "")
		if resp != nil {
			resp.Body.Close()
		}
		first <- err
	}()
	require.Eventually(t, f.coordinator.Refreshing, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() {
		resp, err := f.do(t, ctx, http.MethodGet, "/user/me", "")
		if resp != nil {
			resp.Body.Close()
		}
		second <- err
	}()
	require.Eventually(t, func() bool { return f.coordinator.Waiting() == 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-second, context.Canceled)

	close(release)
	require.NoError(t, <-first)
	require.Equal(t, int32(1), f.refreshCalls.Load())
}
