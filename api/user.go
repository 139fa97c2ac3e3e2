package api

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-auth-gateway/users"
	"github.com/pkg/errors"
)

const pathCurrentUser = "/user/me"

// GetCurrentUser fetches the signed-in user's profile and caches it in the session store.
func (c *Client) GetCurrentUser(ctx context.Context) (*users.UserInfo, error) {
	var user users.UserInfo
	if err := c.call(ctx, http.MethodGet, pathCurrentUser, nil, nil, &user); err != nil {
		return nil, errors.Wrap(err, "get current user")
	}
	if err := c.store.SetUser(ctx, &user); err != nil {
		c.log.Warn().Err(err).Msg("Failed to cache user profile")
	}
	return &user, nil
}

// CachedUser returns the profile stored at login, without a request. It is nil when no
// profile is cached.
func (c *Client) CachedUser(ctx context.Context) (*users.UserInfo, error) {
	return c.store.User(ctx)
}

// UpdateUser sends a partial profile update. The server's copy of the profile replaces the
// cached one; when the server returns none, the update is merged into the cached profile.
func (c *Client) UpdateUser(ctx context.Context, update users.UserUpdate) (*users.UserInfo, error) {
	var updated users.UserInfo
	if err := c.call(ctx, http.MethodPatch, pathCurrentUser, nil, update, &updated); err != nil {
		return nil, errors.Wrap(err, "update user")
	}

	if updated.ID == 0 && updated.Username == "" {
		cached, err := c.store.User(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "update user")
		}
		if cached != nil {
			updated = update.Apply(*cached)
		} else {
			updated = update.Apply(updated)
		}
	}

	if err := c.store.SetUser(ctx, &updated); err != nil {
		c.log.Warn().Err(err).Msg("Failed to cache user profile")
	}
	return &updated, nil
}
