package apitest

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-gateway/users"
)

type ctxKey struct{}

var categories = []map[string]any{
	{"id": "launch", "name": "Launch crashes", "icon": "rocket", "color": "#e74c3c"},
	{"id": "graphics", "name": "Graphics driver", "icon": "monitor", "color": "#3498db"},
}

// bearer returns the username behind a live access token.
func (s *Server) bearer(r *http.Request) (string, bool) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	if _, err := jwtlib.Parse(raw, func(*jwtlib.Token) (any, error) { return []byte(secret), nil },
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()})); err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.accessTokens[raw]
	return username, ok
}

// authenticated rejects a request that carries a dead token but lets anonymous ones through.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			if _, ok := s.bearer(r); !ok {
				writeEnvelope(w, http.StatusUnauthorized, "access token expired", nil)
				return
			}
		}
		next(w, r)
	}
}

// requireRole admits a live access token whose user holds one of roles, or any role when
// none are given.
func (s *Server) requireRole(roles ...users.RoleType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, ok := s.bearer(r)
			if !ok {
				writeEnvelope(w, http.StatusUnauthorized, "access token expired", nil)
				return
			}

			s.mu.Lock()
			info := s.accounts[username].info
			s.mu.Unlock()

			if len(roles) > 0 {
				allowed := false
				for _, role := range roles {
					allowed = allowed || info.HasRole(role)
				}
				if !allowed {
					writeEnvelope(w, http.StatusForbidden, "insufficient permissions", nil)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, username)))
		})
	}
}

func caller(r *http.Request) string {
	username, _ := r.Context().Value(ctxKey{}).(string)
	return username
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(r, &req) {
		writeEnvelope(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[req.Username]
	if !ok || acct.password != req.Password {
		writeEnvelope(w, http.StatusUnauthorized, "invalid username or password", nil)
		return
	}
	access, refresh, err := s.issueLocked(req.Username)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "login successful", map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(r, &req) || req.Username == "" || req.Password == "" {
		writeEnvelope(w, http.StatusBadRequest, "username and password are required", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Username]; exists {
		// The API reports duplicates in-band with a 200.
		writeFailure(w, http.StatusOK, "username already taken")
		return
	}
	s.addUserLocked(req.Username, req.Password, req.Email)
	writeEnvelope(w, http.StatusOK, "registration successful", nil)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(r, &req) {
		writeEnvelope(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	s.mu.Lock()
	delay := s.refreshDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.refreshTokens[req.RefreshToken]
	if !ok || s.rejectRefresh {
		writeEnvelope(w, http.StatusUnauthorized, "refresh token invalid or expired", nil)
		return
	}
	delete(s.refreshTokens, req.RefreshToken)

	if s.malformed {
		writeEnvelope(w, http.StatusOK, "token refreshed", map[string]any{
			"accessToken":  "tok2",
			"refreshToken": "r2",
		})
		return
	}

	access, refresh, err := s.issueLocked(username)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "token refreshed", map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.revoke(caller(r))
	writeEnvelope(w, http.StatusOK, "logged out", nil)
}

func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	s.mu.Lock()
	_, ok := s.accounts[username]
	s.mu.Unlock()
	if !ok {
		writeEnvelope(w, http.StatusNotFound, "user not found", nil)
		return
	}
	s.revoke(username)
	writeEnvelope(w, http.StatusOK, "tokens revoked", nil)
}

func (s *Server) revoke(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tokens := range []map[string]string{s.accessTokens, s.refreshTokens} {
		for tok, owner := range tokens {
			if owner == username {
				delete(tokens, tok)
			}
		}
	}
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	info := s.accounts[caller(r)].info
	fail := s.failProfile
	s.mu.Unlock()
	if fail {
		writeEnvelope(w, http.StatusInternalServerError, "profile service unavailable", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "ok", info)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var update users.UserUpdate
	if !decode(r, &update) {
		writeEnvelope(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	s.mu.Lock()
	acct := s.accounts[caller(r)]
	acct.info = update.Apply(acct.info)
	acct.info.UpdatedAt = time.Now().Format("2006-01-02T15:04:05")
	info := acct.info
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, "profile updated", info)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeEnvelope(w, http.StatusBadRequest, "invalid user id", nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.info.ID == id {
			writeEnvelope(w, http.StatusOK, "ok", acct.info)
			return
		}
	}
	writeEnvelope(w, http.StatusNotFound, "user not found", nil)
}

func (s *Server) listUsers(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	list := make([]users.UserInfo, 0, len(s.accounts))
	for _, acct := range s.accounts {
		list = append(list, acct.info)
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeEnvelope(w, http.StatusOK, "ok", page(list))
}

func (s *Server) setAdmin(grant bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			writeEnvelope(w, http.StatusBadRequest, "invalid user id", nil)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, acct := range s.accounts {
			if acct.info.ID != id {
				continue
			}
			roles := []string{}
			for _, role := range acct.info.Roles {
				if role != string(users.RoleAdmin) {
					roles = append(roles, role)
				}
			}
			if grant {
				roles = append(roles, string(users.RoleAdmin))
			}
			acct.info.Roles = roles
			writeEnvelope(w, http.StatusOK, "roles updated", nil)
			return
		}
		writeEnvelope(w, http.StatusNotFound, "user not found", nil)
	}
}

func (s *Server) pendingApplications(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	pending := []map[string]any{}
	for _, app := range s.applications {
		if app["status"] == "PENDING" {
			pending = append(pending, app)
		}
	}
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, "ok", page(pending))
}

func (s *Server) decideApplication(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		s.mu.Lock()
		defer s.mu.Unlock()
		if !ok || id < 1 || int(id) > len(s.applications) {
			writeEnvelope(w, http.StatusNotFound, "application not found", nil)
			return
		}
		app := s.applications[id-1]
		if app["status"] != "PENDING" {
			writeEnvelope(w, http.StatusConflict, "application already processed", nil)
			return
		}
		app["status"] = strings.ToUpper(status)
		app["feedback"] = r.URL.Query().Get("reason")
		app["processorUsername"] = caller(r)
		writeEnvelope(w, http.StatusOK, "application "+status, nil)
	}
}

func (s *Server) listCategories(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, http.StatusOK, "ok", categories)
}

// listSolutions lists solutions in status, or the caller's own solutions when status is empty.
func (s *Server) listSolutions(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("status")
		s.mu.Lock()
		list := []map[string]any{}
		for _, sol := range s.solutions {
			switch {
			case status != "" && sol["status"] != status:
				continue
			case status == "" && sol["createdByUsername"] != caller(r):
				continue
			case filter != "" && sol["status"] != filter:
				continue
			}
			list = append(list, sol)
		}
		s.mu.Unlock()
		sort.Slice(list, func(i, j int) bool { return list[i]["id"].(string) < list[j]["id"].(string) })
		writeEnvelope(w, http.StatusOK, "ok", page(list))
	}
}

func (s *Server) getSolution(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sol, ok := s.solutions[chi.URLParam(r, "id")]
	if !ok {
		writeEnvelope(w, http.StatusNotFound, "solution not found", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "ok", sol)
}

func (s *Server) createSolution(w http.ResponseWriter, r *http.Request) {
	var sol map[string]any
	if !decode(r, &sol) || sol["title"] == nil {
		writeEnvelope(w, http.StatusBadRequest, "title is required", nil)
		return
	}
	id := uuid.NewString()
	sol["id"] = id
	sol["status"] = "draft"
	sol["createdByUsername"] = caller(r)

	s.mu.Lock()
	s.solutions[id] = sol
	s.mu.Unlock()
	writeEnvelope(w, http.StatusCreated, "solution created", sol)
}

func (s *Server) updateSolution(w http.ResponseWriter, r *http.Request) {
	var update map[string]any
	if !decode(r, &update) {
		writeEnvelope(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sol, ok := s.solutions[chi.URLParam(r, "id")]
	if !ok {
		writeEnvelope(w, http.StatusNotFound, "solution not found", nil)
		return
	}
	for k, v := range update {
		if k != "id" && k != "status" {
			sol[k] = v
		}
	}
	writeEnvelope(w, http.StatusOK, "solution updated", sol)
}

func (s *Server) deleteSolution(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := s.solutions[id]; !ok {
		writeEnvelope(w, http.StatusNotFound, "solution not found", nil)
		return
	}
	delete(s.solutions, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setSolutionStatus(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		sol, ok := s.solutions[chi.URLParam(r, "id")]
		if !ok {
			writeEnvelope(w, http.StatusNotFound, "solution not found", nil)
			return
		}
		sol["status"] = status
		if reason := r.URL.Query().Get("reason"); reason != "" {
			sol["notes"] = reason
		}
		writeEnvelope(w, http.StatusOK, "solution "+status, nil)
	}
}

func page[T any](content []T) map[string]any {
	return map[string]any{
		"content":          content,
		"totalElements":    len(content),
		"totalPages":       1,
		"number":           0,
		"size":             len(content),
		"numberOfElements": len(content),
		"first":            true,
		"last":             true,
		"empty":            len(content) == 0,
	}
}
