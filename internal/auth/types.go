package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of per-center roles. Roles are scoped to a single
// center assignment; there is no global role.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleCenterAdmin  Role = "center_admin"
	RoleMedicalStaff Role = "medical_staff"
	RolePharmacist   Role = "pharmacist"
	RoleCashier      Role = "cashier"
)

// ParseRole normalizes raw input into one of the known roles.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidationFailed, raw)
	}
	return role, nil
}

// Valid reports whether the role belongs to the closed enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleCenterAdmin, RoleMedicalStaff, RolePharmacist, RoleCashier:
		return true
	}
	return false
}

// User is an operator account. Users are never hard-deleted; deactivation
// flips Active off and closes every live session.
type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	Active             bool
	MustChangePassword bool
	LastLoginAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Center is a hospital location that scopes role assignments.
type Center struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// CenterAssignment grants a user a role within one center. Exactly one row
// exists per (user, center) pair; revoking flips Active off and granting
// again reactivates the same row.
type CenterAssignment struct {
	ID        string
	UserID    string
	CenterID  string
	Role      Role
	Active    bool
	StartsAt  time.Time
	EndsAt    *time.Time
	GrantedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is one authenticated client context. Token is the only lookup key.
// CenterID is mutable: a center switch changes it without re-authentication.
// Rows are kept after logout for audit.
type Session struct {
	Token       string
	UserID      string
	CenterID    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LoggedOutAt *time.Time
	Active      bool
	Origin      string
	UserAgent   string
}

// LastSelectedCenter remembers the center a user most recently operated in.
// Used only as the default at the next login.
type LastSelectedCenter struct {
	UserID    string
	CenterID  string
	UpdatedAt time.Time
}

// AccessibleCenter is one entry of a user's accessible-centers set.
type AccessibleCenter struct {
	CenterID       string `json:"center_id"`
	CenterName     string `json:"center_name"`
	Role           Role   `json:"role"`
	IsLastSelected bool   `json:"is_last_selected"`
}

// SessionInfo is the read-side view of a live session.
type SessionInfo struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CenterID  string    `json:"center_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Origin    string    `json:"origin,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

func (s *Session) info() *SessionInfo {
	return &SessionInfo{
		Token:     s.Token,
		UserID:    s.UserID,
		CenterID:  s.CenterID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		Origin:    s.Origin,
		UserAgent: s.UserAgent,
	}
}
