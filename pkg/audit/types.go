package audit

import (
	"encoding/json"
	"time"
)

// Action names the kind of change an audit entry records
type Action string

// Generic mutations recorded by the Audited decorator
const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Resource lifecycle events recorded explicitly by handlers
const (
	ActionCreated      Action = "CREATED"
	ActionUpdated      Action = "UPDATED"
	ActionDeleted      Action = "DELETED"
	ActionAssignedRole Action = "ASSIGNED_ROLE"
	ActionRevokedRole  Action = "REVOKED_ROLE"
)

// Authentication and account events
const (
	ActionLogin                   Action = "LOGIN"
	ActionLoginFailed             Action = "LOGIN_FAILED"
	ActionLogout                  Action = "LOGOUT"
	ActionLogoutAll               Action = "LOGOUT_ALL"
	ActionRegistered              Action = "REGISTERED"
	ActionTokenRefreshed          Action = "TOKEN_REFRESHED"
	ActionSessionRevoked          Action = "SESSION_REVOKED"
	ActionPasswordChanged         Action = "PASSWORD_CHANGED"
	ActionPasswordChangeFailed    Action = "PASSWORD_CHANGE_FAILED"
	ActionPasswordResetRequested  Action = "PASSWORD_RESET_REQUESTED"
	ActionPasswordReset           Action = "PASSWORD_RESET"
	ActionEmailVerified           Action = "EMAIL_VERIFIED"
	ActionVerificationEmailResent Action = "VERIFICATION_EMAIL_RESENT"
	ActionProfileUpdated          Action = "PROFILE_UPDATED"
)

// Meta carries the request attributes stored with every entry
type Meta struct {
	IPAddress string
	UserAgent string
}

// Entry is one audit record to append. Empty strings and nil values are
// stored as NULL.
type Entry struct {
	UserID     string
	Action     Action
	Resource   string
	ResourceID string
	OldValues  interface{}
	NewValues  interface{}
	Meta
}

// UserSummary identifies the acting user of a stored record
type UserSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Record is a stored audit entry
type Record struct {
	ID         string          `json:"id"`
	UserID     *string         `json:"userId"`
	Action     Action          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID *string         `json:"resourceId"`
	OldValues  json.RawMessage `json:"oldValues"`
	NewValues  json.RawMessage `json:"newValues"`
	IPAddress  *string         `json:"ipAddress"`
	UserAgent  *string         `json:"userAgent"`
	Timestamp  time.Time       `json:"timestamp"`
	User       *UserSummary    `json:"user"`
}

// Filter selects audit records. Zero values do not filter.
type Filter struct {
	UserID   string
	Resource string
	Actions  []Action
	Start    time.Time
	End      time.Time
	Page     int
	Limit    int
}

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// normalized returns f with paging clamped to valid bounds
func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

// Pagination describes the page returned by List
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

// Page is one page of audit records, newest first
type Page struct {
	Logs       []Record   `json:"logs"`
	Pagination Pagination `json:"pagination"`
}

// Stats summarises the audit trail
type Stats struct {
	TotalLogs  int64            `json:"totalLogs"`
	ByAction   map[string]int64 `json:"byAction"`
	ByResource map[string]int64 `json:"byResource"`
	RecentLogs []Record         `json:"recentLogs"`
}
