package errors

import (
	"errors"
	"fmt"
)

// Common error types for the gateway
var (
	// Session errors
	ErrNotFound           = errors.New("not found")
	ErrNotAuthenticated   = errors.New("user not authenticated")
	ErrProfileUnavailable = errors.New("profile unavailable")

	// Token errors
	ErrTokenMissing       = errors.New("token is missing")
	ErrInvalidTokenFormat = errors.New("invalid token format")
	ErrRefreshRejected    = errors.New("token refresh rejected")

	// Transport errors
	ErrInvalidResponse = errors.New("invalid API response")

	// Input errors
	ErrInvalidInput = errors.New("invalid input")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
