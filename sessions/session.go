package sessions

// Persisted key layout. The values are opaque strings; KeyUser holds a JSON-encoded
// users.UserInfo.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// Session is the authentication state of the current user.
// An absent token is represented by the empty string.
type Session struct {
	AccessToken   string // Short-lived credential sent with each request
	RefreshToken  string // Longer-lived credential exchanged for a new access token
	Authenticated bool   // True when an access token is present
}
