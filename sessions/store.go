package sessions

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/token"
	"github.com/jrsteele09/go-auth-gateway/users"
	"golang.org/x/oauth2"
)

var _ oauth2.TokenSource = (*Store)(nil)

// Store is the session state shared by the request gateway and the API client.
// Token pairs are written under one lock so a reader never observes a new access token
// next to a refresh token from an older pair written by this store.
type Store struct {
	repo Repo
	mu   sync.Mutex
}

func NewStore(repo Repo) *Store {
	return &Store{repo: repo}
}

// get maps a missing key to the empty string.
func (s *Store) get(ctx context.Context, key string) (string, error) {
	v, err := s.repo.Get(ctx, key)
	if errors.Is(err, errors.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "sessions.Store get %s", key)
	}
	return v, nil
}

func (s *Store) Session(ctx context.Context) (Session, error) {
	access, err := s.get(ctx, KeyAccessToken)
	if err != nil {
		return Session{}, err
	}
	refresh, err := s.get(ctx, KeyRefreshToken)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:   access,
		RefreshToken:  refresh,
		Authenticated: access != "",
	}, nil
}

func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyAccessToken)
}

func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyRefreshToken)
}

// SetTokens persists a new token pair. If the refresh token cannot be written the access
// token is restored to its previous value.
func (s *Store) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, err := s.get(ctx, KeyAccessToken)
	if err != nil {
		return err
	}

	if err := s.repo.Set(ctx, KeyAccessToken, accessToken); err != nil {
		return errors.Wrapf(err, "sessions.Store set access token")
	}
	if err := s.repo.Set(ctx, KeyRefreshToken, refreshToken); err != nil {
		if previous == "" {
			_ = s.repo.Delete(ctx, KeyAccessToken)
		} else {
			_ = s.repo.Set(ctx, KeyAccessToken, previous)
		}
		return errors.Wrapf(err, "sessions.Store set refresh token")
	}
	return nil
}

// Token implements oauth2.TokenSource over the stored access token.
func (s *Store) Token() (*oauth2.Token, error) {
	sess, err := s.Session(context.Background())
	if err != nil {
		return nil, err
	}
	if !sess.Authenticated {
		return nil, errors.ErrNotAuthenticated
	}

	t := &oauth2.Token{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    "Bearer",
	}
	if exp, ok := token.ExpiresAt(sess.AccessToken); ok {
		t.Expiry = exp
	}
	return t, nil
}

// User returns the cached profile, or nil when none is stored.
func (s *Store) User(ctx context.Context) (*users.UserInfo, error) {
	raw, err := s.get(ctx, KeyUser)
	if err != nil || raw == "" {
		return nil, err
	}
	var user users.UserInfo
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, errors.Wrapf(err, "sessions.Store decode user")
	}
	return &user, nil
}

func (s *Store) SetUser(ctx context.Context, user *users.UserInfo) error {
	if user == nil {
		return s.repo.Delete(ctx, KeyUser)
	}
	data, err := json.Marshal(user)
	if err != nil {
		return errors.Wrapf(err, "sessions.Store encode user")
	}
	return s.repo.Set(ctx, KeyUser, string(data))
}

// Clear removes both tokens and the cached profile. Every key is attempted; the first
// failure is returned.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUser} {
		if err := s.repo.Delete(ctx, key); err != nil && first == nil {
			first = errors.Wrapf(err, "sessions.Store delete %s", key)
		}
	}
	return first
}
