package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"medregis.org/internal/audit"
)

// DefaultLifetime is the session validity window measured from creation
// (or from the last explicit extension).
const DefaultLifetime = 12 * time.Hour

// tokenBytes gives 256 bits of entropy; two sessions created in the same
// instant cannot collide.
const tokenBytes = 32

// Sessions owns session records: creation, validation, extension and
// termination. Expiry is absolute: expires_at is anchored at Create and
// re-anchored by Extend, and detection happens lazily on every read.
type Sessions struct {
	store    Store
	now      func() time.Time
	lifetime time.Duration
	rec      audit.Recorder
}

// SessionOption configures Sessions behavior.
type SessionOption func(*Sessions)

// WithLifetime overrides the default session lifetime.
func WithLifetime(d time.Duration) SessionOption {
	return func(s *Sessions) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// WithSessionClock overrides the time source (useful for tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(s *Sessions) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSessionRecorder attaches the audit sink for expiry events.
func WithSessionRecorder(rec audit.Recorder) SessionOption {
	return func(s *Sessions) { s.rec = rec }
}

// NewSessions constructs the session service.
func NewSessions(store Store, opts ...SessionOption) *Sessions {
	s := &Sessions{store: store, now: time.Now, lifetime: DefaultLifetime}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lifetime returns the configured session lifetime.
func (s *Sessions) Lifetime() time.Duration { return s.lifetime }

// Create issues a session for userID anchored at centerID and upserts the
// user's last-selected center as a side effect. The write is atomic: a
// cancelled client never observes a half-open session.
func (s *Sessions) Create(ctx context.Context, userID, centerID, origin, userAgent string) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &Session{
		Token:     token,
		UserID:    userID,
		CenterID:  centerID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.lifetime),
		Active:    true,
		Origin:    origin,
		UserAgent: userAgent,
	}
	if err := s.store.Sessions(ctx).Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := s.store.LastSelected(ctx).Upsert(ctx, userID, centerID, now); err != nil {
		return nil, fmt.Errorf("save last selected center: %w", err)
	}
	return sess, nil
}

// Validate resolves a token into a live session. The three failure modes are
// distinguishable: ErrSessionNotFound, ErrSessionInactive (logged out or
// terminated) and ErrSessionExpired. Detecting expiry transitions the row to
// inactive as a side effect of the read, so a stale token cannot be replayed
// even before the reaper runs; repeated calls keep reporting expired.
func (s *Sessions) Validate(ctx context.Context, token string) (*SessionInfo, error) {
	sess, err := s.store.Sessions(ctx).Find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	now := s.now().UTC()
	if !sess.Active {
		if now.After(sess.ExpiresAt) {
			return nil, ErrSessionExpired
		}
		return nil, ErrSessionInactive
	}
	if now.After(sess.ExpiresAt) {
		sess.Active = false
		loggedOut := now
		sess.LoggedOutAt = &loggedOut
		if err := s.store.Sessions(ctx).Update(ctx, sess); err != nil {
			return nil, fmt.Errorf("expire session: %w", err)
		}
		record(ctx, s.rec, audit.Event{
			Type: audit.EventSessionExpired, Success: true,
			ActorUserID: sess.UserID, CenterID: sess.CenterID,
		})
		return nil, ErrSessionExpired
	}
	return sess.info(), nil
}

// Extend re-anchors the expiry window at now + additional (the configured
// lifetime when additional is zero). Returns false without touching the row
// when the session is not live.
func (s *Sessions) Extend(ctx context.Context, token string, additional time.Duration) (bool, error) {
	sess, err := s.store.Sessions(ctx).Find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("find session: %w", err)
	}
	now := s.now().UTC()
	if !sess.Active || now.After(sess.ExpiresAt) {
		return false, nil
	}
	if additional <= 0 {
		additional = s.lifetime
	}
	sess.ExpiresAt = now.Add(additional)
	if err := s.store.Sessions(ctx).Update(ctx, sess); err != nil {
		return false, fmt.Errorf("extend session: %w", err)
	}
	return true, nil
}

// Terminate closes a single session. Idempotent: a token that is already
// inactive (or unknown) is a no-op.
func (s *Sessions) Terminate(ctx context.Context, token string) error {
	sess, err := s.store.Sessions(ctx).Find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find session: %w", err)
	}
	if !sess.Active {
		return nil
	}
	now := s.now().UTC()
	sess.Active = false
	sess.LoggedOutAt = &now
	if err := s.store.Sessions(ctx).Update(ctx, sess); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	return nil
}

// TerminateAllForUser closes every live session of userID as one atomic
// operation and returns how many were closed.
func (s *Sessions) TerminateAllForUser(ctx context.Context, userID string) (int, error) {
	count, err := s.store.Sessions(ctx).TerminateAllForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("terminate sessions: %w", err)
	}
	return count, nil
}

// ListActive returns the user's live sessions. Rows whose expiry has passed
// are transitioned and excluded even if the reaper has not run yet.
func (s *Sessions) ListActive(ctx context.Context, userID string) ([]SessionInfo, error) {
	rows, err := s.store.Sessions(ctx).ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	now := s.now().UTC()
	out := make([]SessionInfo, 0, len(rows))
	for _, sess := range rows {
		if now.After(sess.ExpiresAt) {
			sess.Active = false
			loggedOut := now
			sess.LoggedOutAt = &loggedOut
			if err := s.store.Sessions(ctx).Update(ctx, sess); err != nil {
				return nil, fmt.Errorf("expire session: %w", err)
			}
			continue
		}
		out = append(out, *sess.info())
	}
	return out, nil
}

// SwitchCenter atomically repoints a live session at a new center. Callers
// must have authorized the move; see Switcher.
func (s *Sessions) SwitchCenter(ctx context.Context, token, centerID string) (*SessionInfo, error) {
	sess, err := s.store.Sessions(ctx).Find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	if !sess.Active {
		return nil, ErrSessionInactive
	}
	now := s.now().UTC()
	if now.After(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	sess.CenterID = centerID
	if err := s.store.Sessions(ctx).Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("switch center: %w", err)
	}
	if err := s.store.LastSelected(ctx).Upsert(ctx, sess.UserID, centerID, now); err != nil {
		return nil, fmt.Errorf("save last selected center: %w", err)
	}
	return sess.info(), nil
}

// ExpireDue sweeps every active session past its expiry. Used by the reaper;
// safe to run concurrently with Validate because both converge on inactive.
func (s *Sessions) ExpireDue(ctx context.Context) (int, error) {
	return s.store.Sessions(ctx).ExpireDue(ctx, s.now().UTC())
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
