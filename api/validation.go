package api

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/jrsteele09/go-auth-gateway/gateway"
	interrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
)

// Field limits enforced by the server on registration.
const (
	usernameMinLen = 3
	usernameMaxLen = 20
	passwordMinLen = 8
	passwordMaxLen = 30
)

func invalid(message string) error {
	return gateway.NewError(gateway.KindBusiness, 0, message, interrors.ErrInvalidInput)
}

// ValidateLogin checks credentials before they are sent.
func ValidateLogin(req LoginRequest) error {
	if strings.TrimSpace(req.Username) == "" {
		return invalid("username is required")
	}
	if req.Password == "" {
		return invalid("password is required")
	}
	return nil
}

// ValidateRegistration applies the server's registration rules locally so a bad form never
// costs a round trip.
func ValidateRegistration(req RegisterRequest) error {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return invalid("username is required")
	}
	if n := utf8.RuneCountInString(username); n < usernameMinLen || n > usernameMaxLen {
		return invalid("username must be between 3 and 20 characters")
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		return invalid("email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return invalid("invalid email format")
	}

	if req.Password == "" {
		return invalid("password is required")
	}
	if n := utf8.RuneCountInString(req.Password); n < passwordMinLen || n > passwordMaxLen {
		return invalid("password must be between 8 and 30 characters")
	}
	return nil
}
