// Package apitest runs an in-process fake of the crash API for tests. It issues HS256 JWTs,
// rotates refresh tokens on every use and can be told to expire or reject tokens.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-gateway/users"
)

const (
	BasePath = "/api"
	secret   = "1234"
)

// Recorded is a request as the fake API received it.
type Recorded struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

type account struct {
	password string
	info     users.UserInfo
}

type Server struct {
	srv *httptest.Server

	mu            sync.Mutex
	accounts      map[string]*account
	accessTokens  map[string]string // token -> username
	refreshTokens map[string]string // token -> username, single use
	solutions     map[string]map[string]any
	applications  []map[string]any
	recorded      []Recorded
	nextUserID    int64
	refreshDelay  time.Duration
	rejectRefresh bool
	malformed     bool
	failProfile   bool

	refreshCalls atomic.Int32
}

// NewServer starts the fake API. Close it when done.
func NewServer() *Server {
	s := &Server{
		accounts:      map[string]*account{},
		accessTokens:  map[string]string{},
		refreshTokens: map[string]string{},
		solutions:     map[string]map[string]any{},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Route(BasePath, func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/register", s.register)
		r.Post("/auth/refresh-token", s.refresh)

		r.Get("/solutions", s.authenticated(s.listSolutions("published")))
		r.Get("/solutions/categories", s.authenticated(s.listCategories))
		r.Get("/solutions/{id}", s.authenticated(s.getSolution))

		r.Group(func(r chi.Router) {
			r.Use(s.requireRole())
			r.Post("/auth/logout", s.logout)
			r.Get("/user/me", s.currentUser)
			r.Patch("/user/me", s.updateUser)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(users.RoleAdmin, users.RoleDeveloper))
			r.Get("/admin/users/{id}", s.getUser)
			r.Post("/auth/revoke-token", s.revokeToken)
			r.Post("/admin/solutions", s.createSolution)
			r.Get("/admin/solutions/my", s.listSolutions(""))
			r.Get("/admin/solutions/{id}", s.getSolution)
			r.Put("/admin/solutions/{id}", s.updateSolution)
			r.Delete("/admin/solutions/{id}", s.deleteSolution)
			r.Post("/admin/solutions/{id}/submit-review", s.setSolutionStatus("pending"))
			r.Post("/admin/solutions/{id}/withdraw", s.setSolutionStatus("draft"))
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(users.RoleDeveloper))
			r.Get("/developer/users", s.listUsers)
			r.Post("/developer/users/{id}/promote", s.setAdmin(true))
			r.Post("/developer/users/{id}/revoke-admin", s.setAdmin(false))
			r.Get("/developer/admin-applications/pending", s.pendingApplications)
			r.Post("/developer/admin-applications/{id}/approve", s.decideApplication("approved"))
			r.Post("/developer/admin-applications/{id}/reject", s.decideApplication("rejected"))
			r.Get("/developer/solutions/pending", s.listSolutions("pending"))
			r.Post("/developer/solutions/{id}/approve", s.setSolutionStatus("published"))
			r.Post("/developer/solutions/{id}/reject", s.setSolutionStatus("rejected"))
			r.Put("/developer/solutions/{id}", s.updateSolution)
		})
	})

	s.srv = httptest.NewServer(r)
	return s
}

func (s *Server) Close() {
	s.srv.Close()
}

// BaseURL is the value to configure as the client's API base URL.
func (s *Server) BaseURL() string {
	return s.srv.URL + BasePath
}

// AddUser registers an account and returns its profile.
func (s *Server) AddUser(username, password string, roles ...users.RoleType) users.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, password, username+"@example.com", roles...)
}

func (s *Server) addUserLocked(username, password, email string, roles ...users.RoleType) users.UserInfo {
	s.nextUserID++
	names := []string{string(users.RoleUser)}
	for _, r := range roles {
		if r != users.RoleUser {
			names = append(names, string(r))
		}
	}
	info := users.UserInfo{
		ID:        s.nextUserID,
		Username:  username,
		Email:     email,
		Enabled:   true,
		Roles:     names,
		CreatedAt: "2025-06-01T10:00:00",
	}
	s.accounts[username] = &account{password: password, info: info}
	return info
}

// AddSolution seeds a solution with the given review status and returns its id.
func (s *Server) AddSolution(title, status string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.solutions[id] = map[string]any{"id": id, "title": title, "categoryId": "launch", "status": status}
	return id
}

// AddApplication seeds a pending admin application from username.
func (s *Server) AddApplication(username, reason string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.applications) + 1)
	s.applications = append(s.applications, map[string]any{
		"id": id, "username": username, "reason": reason, "status": "PENDING",
	})
	return id
}

// ExpireAccessTokens invalidates every access token issued so far. Refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens = map[string]string{}
}

// RejectRefresh makes the refresh endpoint answer 401.
func (s *Server) RejectRefresh(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectRefresh = reject
}

// FailProfile makes GET /user/me answer 500.
func (s *Server) FailProfile(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failProfile = fail
}

// IssueMalformedTokens makes the refresh endpoint answer with tokens that are not JWTs.
func (s *Server) IssueMalformedTokens(malformed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malformed = malformed
}

// SetRefreshDelay holds every refresh response for d.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.recorded...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.recorded = append(s.recorded, Recorded{
			Method:        r.Method,
			Path:          strings.TrimPrefix(r.URL.Path, BasePath),
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// issueLocked creates a token pair for username.
func (s *Server) issueLocked(username string) (string, string, error) {
	acct := s.accounts[username]
	sign := func(kind string, ttl time.Duration) (string, error) {
		return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
			"sub":   username,
			"roles": acct.info.Roles,
			"typ":   kind,
			"jti":   uuid.NewString(),
			"iat":   time.Now().Unix(),
			"exp":   time.Now().Add(ttl).Unix(),
		}).SignedString([]byte(secret))
	}

	access, err := sign("access", 15*time.Minute)
	if err != nil {
		return "", "", err
	}
	refresh, err := sign("refresh", 24*time.Hour)
	if err != nil {
		return "", "", err
	}
	s.accessTokens[access] = username
	s.refreshTokens[refresh] = username
	return access, refresh, nil
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": status >= 200 && status < 300,
		"status":  status,
		"code":    envelopeCode(status),
		"message": message,
		"data":    data,
	})
}

// writeFailure answers with success:false regardless of status.
func writeFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"status":  status,
		"code":    40000,
		"message": message,
	})
}

func envelopeCode(status int) int {
	if status >= 200 && status < 300 {
		return 200
	}
	return status * 100
}

func decode(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}
