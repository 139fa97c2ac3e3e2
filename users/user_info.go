package users

import "strings"

// RoleType is an authority name as issued by the remote API
type RoleType string

const (
	RoleUser      RoleType = "ROLE_USER"
	RoleAdmin     RoleType = "ROLE_ADMIN"
	RoleDeveloper RoleType = "ROLE_DEV"
)

// AdminRoles grant access to the admin panel
var AdminRoles = []RoleType{RoleAdmin, RoleDeveloper}

// UserInfo is the profile returned by GET /user/me and cached alongside the session tokens.
// Timestamps are kept as the server sends them (zone-less local date-times).
type UserInfo struct {
	ID        int64    `json:"id"`                 // Unique user ID
	Username  string   `json:"username"`           // Login name
	Email     string   `json:"email"`              // Contact address
	Nickname  string   `json:"nickname,omitempty"` // Display name
	Avatar    string   `json:"avatar,omitempty"`   // Avatar URL
	CreatedAt string   `json:"createdAt,omitempty"`
	UpdatedAt string   `json:"updatedAt,omitempty"`
	Enabled   bool     `json:"enabled"`
	Roles     []string `json:"roles,omitempty"`
}

// UserUpdate is a partial profile update; nil fields are left untouched.
type UserUpdate struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Nickname *string `json:"nickname,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
}

// Apply merges the non-nil fields of u into a copy of info.
func (u UserUpdate) Apply(info UserInfo) UserInfo {
	if u.Username != nil {
		info.Username = *u.Username
	}
	if u.Email != nil {
		info.Email = *u.Email
	}
	if u.Nickname != nil {
		info.Nickname = *u.Nickname
	}
	if u.Avatar != nil {
		info.Avatar = *u.Avatar
	}
	return info
}

// HasRole compares case-insensitively; the API is not consistent about casing.
func (u *UserInfo) HasRole(role RoleType) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if strings.EqualFold(r, string(role)) {
			return true
		}
	}
	return false
}

func (u *UserInfo) IsAdmin() bool {
	for _, role := range AdminRoles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

func (u *UserInfo) IsDeveloper() bool {
	return u.HasRole(RoleDeveloper)
}
