package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth core. The
// durable implementation is Postgres; Memory backs tests and DSN-less runs.
type Store interface {
	Users(ctx context.Context) UserStore
	Centers(ctx context.Context) CenterStore
	Assignments(ctx context.Context) AssignmentStore
	Sessions(ctx context.Context) SessionStore
	LastSelected(ctx context.Context) LastSelectedStore
}

// UserStore manages operator accounts. Lookups by email are case-insensitive.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, mustChange bool) error
	SetActive(ctx context.Context, userID string, active bool) error
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}

// CenterStore manages hospital centers.
type CenterStore interface {
	Create(ctx context.Context, c *Center) error
	Find(ctx context.Context, id string) (*Center, error)
	List(ctx context.Context) ([]*Center, error)
}

// AssignmentStore manages (user, center, role) grants. At most one row
// exists per (user, center); Update mutates that row in place.
type AssignmentStore interface {
	Create(ctx context.Context, a *CenterAssignment) error
	FindByUserCenter(ctx context.Context, userID, centerID string) (*CenterAssignment, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*CenterAssignment, error)
	Update(ctx context.Context, a *CenterAssignment) error
}

// SessionStore manages session rows keyed by token. All mutations are
// single-row updates; TerminateAllForUser and ExpireDue are single
// statements so concurrent readers never observe a torn state.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, token string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	ListActiveByUser(ctx context.Context, userID string) ([]*Session, error)
	TerminateAllForUser(ctx context.Context, userID string, at time.Time) (int, error)
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// LastSelectedStore is a one-row-per-user memo of the most recent center.
// Upsert must be a single atomic read-modify-write.
type LastSelectedStore interface {
	Upsert(ctx context.Context, userID, centerID string, at time.Time) error
	Find(ctx context.Context, userID string) (*LastSelectedCenter, error)
}
