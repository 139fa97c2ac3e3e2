package token

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/internal/utils"
)

// Kind names which of the two session credentials a check refers to.
type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
)

// Details is the decoded, unverified content of a JWT-shaped token.
type Details struct {
	Header map[string]any
	Claims jwtlib.MapClaims
}

// Validator decides whether a raw token string may be trusted as a credential.
type Validator func(raw string) bool

// IsValidJWT reports whether raw has the shape of a JWT: exactly three dot-separated
// segments whose first two decode to JSON objects. The signature is never checked.
func IsValidJWT(raw string) bool {
	_, err := Inspect(raw)
	return err == nil
}

// Inspect decodes the header and payload of raw without verifying it.
func Inspect(raw string) (*Details, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.ErrTokenMissing
	}
	if segments := strings.Count(raw, ".") + 1; segments != 3 {
		return nil, errors.Wrapf(errors.ErrInvalidTokenFormat, "token has %d segments", segments)
	}

	// ParseUnverified reports an unknown or missing alg as ErrTokenUnverifiable after both
	// segments decoded, which is still a well-formed token for our purposes.
	parsed, _, err := jwtlib.NewParser().ParseUnverified(raw, jwtlib.MapClaims{})
	if err != nil && !errors.Is(err, jwtlib.ErrTokenUnverifiable) {
		return nil, errors.Wrapf(errors.ErrInvalidTokenFormat, "%v", err)
	}
	if parsed == nil || parsed.Header == nil {
		return nil, errors.ErrInvalidTokenFormat
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidTokenFormat, "error extracting claims")
	}

	return &Details{Header: parsed.Header, Claims: claims}, nil
}

// Check returns nil for a well-formed token, ErrTokenMissing for an empty one and
// ErrInvalidTokenFormat otherwise. The error names the kind of token checked.
func Check(kind Kind, raw string, valid Validator) error {
	if raw == "" {
		return errors.Wrapf(errors.ErrTokenMissing, "%s token", kind)
	}
	if valid == nil {
		valid = IsValidJWT
	}
	if !valid(raw) {
		return errors.Wrapf(errors.ErrInvalidTokenFormat, "%s token", kind)
	}
	return nil
}

// ExpiresAt returns the exp claim of raw, if it has one.
func ExpiresAt(raw string) (time.Time, bool) {
	d, err := Inspect(raw)
	if err != nil {
		return time.Time{}, false
	}
	exp, err := d.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Roles returns the roles claim of raw. Tokens without one yield an empty slice.
func Roles(raw string) []string {
	d, err := Inspect(raw)
	if err != nil {
		return []string{}
	}
	claimRoles, ok := d.Claims["roles"].([]any)
	if !ok {
		return []string{}
	}
	return utils.ToStringSlice(claimRoles)
}
