package sessions_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/sessions"
	"github.com/jrsteele09/go-auth-gateway/users"
	"github.com/stretchr/testify/require"
)

// failingRepo wraps an in-memory repo and fails writes to one key.
type failingRepo struct {
	*sessions.InMemoryRepo
	failSet    string
	failDelete string
}

func (r *failingRepo) Set(ctx context.Context, key, value string) error {
	if key == r.failSet {
		return fmt.Errorf("disk full")
	}
	return r.InMemoryRepo.Set(ctx, key, value)
}

func (r *failingRepo) Delete(ctx context.Context, key string) error {
	if key == r.failDelete {
		return fmt.Errorf("read-only")
	}
	return r.InMemoryRepo.Delete(ctx, key)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewStore(sessions.NewInMemoryRepo())

	sess, err := store.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, sessions.Session{}, sess)

	require.NoError(t, store.SetTokens(ctx, "access-1", "refresh-1"))

	sess, err = store.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, sessions.Session{AccessToken: "access-1", RefreshToken: "refresh-1", Authenticated: true}, sess)

	access, err := store.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-1", access)
}

func TestStoreSetTokensRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{InMemoryRepo: sessions.NewInMemoryRepo()}
	store := sessions.NewStore(repo)

	require.NoError(t, store.SetTokens(ctx, "access-1", "refresh-1"))

	repo.failSet = sessions.KeyRefreshToken
	require.Error(t, store.SetTokens(ctx, "access-2", "refresh-2"))

	sess, err := store.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-1", sess.AccessToken)
	require.Equal(t, "refresh-1", sess.RefreshToken)
}

func TestStoreSetTokensRollbackToEmpty(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{InMemoryRepo: sessions.NewInMemoryRepo(), failSet: sessions.KeyRefreshToken}
	store := sessions.NewStore(repo)

	require.Error(t, store.SetTokens(ctx, "access-1", "refresh-1"))

	sess, err := store.Session(ctx)
	require.NoError(t, err)
	require.False(t, sess.Authenticated)
}

func TestStoreUserAndClear(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewStore(sessions.NewInMemoryRepo())

	user, err := store.User(ctx)
	require.NoError(t, err)
	require.Nil(t, user)

	require.NoError(t, store.SetTokens(ctx, "a", "r"))
	require.NoError(t, store.SetUser(ctx, &users.UserInfo{ID: 1, Username: "steve", Roles: []string{"ROLE_USER"}}))

	user, err = store.User(ctx)
	require.NoError(t, err)
	require.Equal(t, "steve", user.Username)

	require.NoError(t, store.Clear(ctx))

	sess, err := store.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, sessions.Session{}, sess)
	user, err = store.User(ctx)
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestStoreClearAttemptsEveryKey(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{InMemoryRepo: sessions.NewInMemoryRepo(), failDelete: sessions.KeyAccessToken}
	store := sessions.NewStore(repo)
	require.NoError(t, store.SetTokens(ctx, "a", "r"))

	require.Error(t, store.Clear(ctx))

	refresh, err := store.RefreshToken(ctx)
	require.NoError(t, err)
	require.Empty(t, refresh)
}

func TestStoreTokenSource(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewStore(sessions.NewInMemoryRepo())

	_, err := store.Token()
	require.True(t, errors.Is(err, errors.ErrNotAuthenticated))

	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	access, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"exp": exp.Unix()}).SignedString([]byte("1234"))
	require.NoError(t, err)
	require.NoError(t, store.SetTokens(ctx, access, "refresh-1"))

	tok, err := store.Token()
	require.NoError(t, err)
	require.Equal(t, access, tok.AccessToken)
	require.Equal(t, "refresh-1", tok.RefreshToken)
	require.Equal(t, "Bearer", tok.Type())
	require.True(t, exp.Equal(tok.Expiry))
	require.True(t, tok.Valid())
}
