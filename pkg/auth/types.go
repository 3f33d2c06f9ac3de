package auth

import (
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// Status is the account state of a user
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// User represents a stored account
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	PasswordHash  string     `json:"-"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Status        Status     `json:"status"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// DisplayName returns the user's full name, falling back to the username
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// Identity is the authenticated caller attached to a request
type Identity struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Username    string            `json:"username"`
	Roles       []string          `json:"roles"`
	Permissions []rbac.Permission `json:"permissions"`
}

// Can reports whether the identity holds exactly (resource, action).
// An identity whose permissions were never resolved is denied.
func (i *Identity) Can(resource string, action rbac.Action) bool {
	if i == nil || i.Permissions == nil {
		return false
	}
	return rbac.HasPermission(i.Permissions, resource, action)
}

// HasRole reports whether the identity holds any of the named roles
func (i *Identity) HasRole(names ...string) bool {
	if i == nil {
		return false
	}
	return rbac.HasAnyRole(i.Roles, names...)
}

// Profile is the user representation returned to the user themselves
type Profile struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	Username      string             `json:"username"`
	FirstName     string             `json:"firstName"`
	LastName      string             `json:"lastName"`
	Status        Status             `json:"status"`
	EmailVerified bool               `json:"emailVerified"`
	LastLoginAt   *time.Time         `json:"lastLoginAt"`
	CreatedAt     time.Time          `json:"createdAt"`
	Roles         []rbac.RoleSummary `json:"roles"`
	Permissions   []rbac.Permission  `json:"permissions"`
}

// TokenPair is an access token and the refresh token minted with it
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Session is a stored login
type Session struct {
	ID           string
	UserID       string
	Token        string
	RefreshToken string
	DeviceInfo   string
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// SessionInfo is the client-visible projection of a session. It never
// carries tokens.
type SessionInfo struct {
	ID         string    `json:"id"`
	DeviceInfo string    `json:"deviceInfo"`
	IPAddress  string    `json:"ipAddress"`
	UserAgent  string    `json:"userAgent"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Current    bool      `json:"current"`
}

// LoginResult is returned by Login and Refresh
type LoginResult struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	User         *Profile `json:"user"`
}

// RegisterInput carries self-registration fields
type RegisterInput struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ProfileInput carries the fields a user may change on their own profile
type ProfileInput struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}
