package gateway

import (
	"context"

	"github.com/rs/zerolog"
)

// Navigator sends the user to a login entry point once their session has ended.
type Navigator interface {
	RedirectToLogin(ctx context.Context, cause error)
}

type NavigatorFunc func(ctx context.Context, cause error)

func (f NavigatorFunc) RedirectToLogin(ctx context.Context, cause error) {
	f(ctx, cause)
}

// logNavigator is used when the embedding application registers no Navigator.
type logNavigator struct {
	log        zerolog.Logger
	loginRoute string
}

func (n logNavigator) RedirectToLogin(_ context.Context, cause error) {
	n.log.Warn().Err(cause).Str("route", n.loginRoute).Msg("Session ended, login required")
}
