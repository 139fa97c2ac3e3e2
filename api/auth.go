package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-auth-gateway/gateway"
	interrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/internal/utils"
	"github.com/jrsteele09/go-auth-gateway/token"
	"github.com/jrsteele09/go-auth-gateway/users"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

const (
	pathLogin       = "/auth/login"
	pathRegister    = "/auth/register"
	pathLogout      = "/auth/logout"
	pathRevokeToken = "/auth/revoke-token"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// authPayload is the data of login, register and refresh responses. Older deployments name
// the access token "token" and may embed the profile.
type authPayload struct {
	AccessToken  string          `json:"accessToken"`
	Token        string          `json:"token"`
	RefreshToken string          `json:"refreshToken"`
	Message      string          `json:"message"`
	User         *users.UserInfo `json:"user"`
}

func (p authPayload) accessToken() string {
	return utils.FirstNonEmpty(p.AccessToken, p.Token)
}

// Login exchanges credentials for a token pair, stores it and returns the user's profile.
// Nothing is stored unless both issued tokens pass the format check.
//
// When the tokens were stored but the profile could not be loaded, the session stays
// signed in and Login returns a nil user with an error matching ErrProfileUnavailable that
// also wraps the cause.
func (c *Client) Login(ctx context.Context, username, password string) (*users.UserInfo, error) {
	req := LoginRequest{Username: username, Password: password}
	if err := ValidateLogin(req); err != nil {
		return nil, err
	}

	var payload authPayload
	resp, err := c.Do(ctx, http.MethodPost, pathLogin, nil, req, &payload)
	if err != nil {
		return nil, errors.Wrap(err, "login")
	}
	if err := businessFailure(resp); err != nil {
		return nil, err
	}

	if err := c.storeIssued(ctx, payload.accessToken(), payload.RefreshToken); err != nil {
		return nil, err
	}

	if payload.User != nil {
		if err := c.store.SetUser(ctx, payload.User); err != nil {
			c.log.Warn().Err(err).Msg("Failed to cache user profile")
		}
		return payload.User, nil
	}

	user, err := c.GetCurrentUser(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Logged in but the profile could not be loaded")
		return nil, fmt.Errorf("login: %w: %w", interrors.ErrProfileUnavailable, err)
	}
	return user, nil
}

// Register creates an account. It does not start a session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	if err := ValidateRegistration(req); err != nil {
		return err
	}
	resp, err := c.Do(ctx, http.MethodPost, pathRegister, nil, req, nil)
	if err != nil {
		return errors.Wrap(err, "register")
	}
	return businessFailure(resp)
}

// RefreshToken exchanges refreshToken for a new pair without touching the session store.
// It is the Refresher behind the client's coordinator.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	var payload authPayload
	resp, err := c.Do(ctx, http.MethodPost, c.refreshPath, nil, refreshRequest{RefreshToken: refreshToken}, &payload)
	if err != nil {
		return nil, errors.Wrap(err, "refresh token")
	}
	if !resp.Success {
		return nil, gateway.NewError(gateway.KindAuth, resp.Status, utils.FirstNonEmpty(resp.Message, "token refresh rejected"), interrors.ErrRefreshRejected)
	}

	issued := &oauth2.Token{
		AccessToken:  payload.accessToken(),
		RefreshToken: payload.RefreshToken,
		TokenType:    "Bearer",
	}
	if exp, ok := token.ExpiresAt(issued.AccessToken); ok {
		issued.Expiry = exp
	}
	return issued, nil
}

// Refresh forces a refresh of the stored session through the coordinator, joining one that
// is already in flight. It returns the new access token.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	current, err := c.store.AccessToken(ctx)
	if err != nil {
		return "", errors.Wrap(err, "refresh")
	}
	return c.coordinator.AwaitToken(ctx, current)
}

// Logout asks the server to end the session and clears local state whatever the outcome.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.Do(ctx, http.MethodPost, pathLogout, nil, nil, nil); err != nil {
		c.log.Debug().Err(err).Msg("Server logout failed, clearing local session anyway")
	}
	return c.store.Clear(ctx)
}

// RevokeToken invalidates every refresh token issued to username. Admin only.
func (c *Client) RevokeToken(ctx context.Context, username string) error {
	return c.call(ctx, http.MethodPost, pathRevokeToken, url.Values{"username": {username}}, nil, nil)
}

func (c *Client) storeIssued(ctx context.Context, accessToken, refreshToken string) error {
	if err := token.Check(token.Access, accessToken, c.coordinator.Validate); err != nil {
		return gateway.NewError(gateway.KindTokenFormat, 0, "server issued a malformed access token", err)
	}
	if err := token.Check(token.Refresh, refreshToken, c.coordinator.Validate); err != nil {
		return gateway.NewError(gateway.KindTokenFormat, 0, "server issued a malformed refresh token", err)
	}
	if err := c.store.SetTokens(ctx, accessToken, refreshToken); err != nil {
		return errors.Wrap(err, "store tokens")
	}
	return nil
}
