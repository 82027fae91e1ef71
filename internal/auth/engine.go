package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medregis.org/internal/audit"
	"medregis.org/internal/obs"
)

// Engine orchestrates login, logout and the password lifecycle. It holds the
// password policy, the assignment directory and the session service together
// and is the component that emits most audit events.
type Engine struct {
	store     Store
	policy    Policy
	sessions  *Sessions
	directory *Directory
	now       func() time.Time
	rec       audit.Recorder
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithEngineClock overrides the time source (useful for tests).
func WithEngineClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithEngineRecorder attaches the audit sink.
func WithEngineRecorder(rec audit.Recorder) EngineOption {
	return func(e *Engine) { e.rec = rec }
}

// WithPolicy overrides the default password policy.
func WithPolicy(p Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// NewEngine constructs the authentication engine.
func NewEngine(store Store, sessions *Sessions, directory *Directory, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		policy:    DefaultPolicy(),
		sessions:  sessions,
		directory: directory,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy exposes the active password policy (for strength previews).
func (e *Engine) Policy() Policy { return e.policy }

// AuthResult is a successful login outcome.
type AuthResult struct {
	User                   *User
	Session                *Session
	Centers                []AccessibleCenter
	RequiresPasswordChange bool
}

// Login authenticates credentials and issues a session. Checks run in a
// fixed order and short-circuit with distinct error kinds so callers can log
// precisely; the user-facing boundary collapses the first and third into one
// generic message to prevent account enumeration:
//
//  1. unknown email        -> ErrInvalidCredentials
//  2. deactivated account  -> ErrAccountInactive
//  3. password mismatch    -> ErrInvalidCredentials
//  4. no active assignment -> ErrNoAssignments
//
// The session's initial center is the user's last-selected center when still
// accessible, otherwise the first accessible one.
func (e *Engine) Login(ctx context.Context, email, password, origin, userAgent string) (*AuthResult, error) {
	email = normalizeEmail(email)
	fail := func(reason string, userID string, err error) (*AuthResult, error) {
		obs.LoginAttempt(reason)
		e.record(ctx, audit.Event{
			Type: audit.EventLogin, Success: false,
			ActorUserID: userID, Origin: origin, UserAgent: userAgent,
			FailureReason: reason,
			Fields:        map[string]string{"email": email},
		})
		return nil, err
	}

	user, err := e.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail("unknown_email", "", ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.Active {
		return fail("account_inactive", user.ID, ErrAccountInactive)
	}
	if !e.policy.Verify(password, user.PasswordHash) {
		return fail("password_mismatch", user.ID, ErrInvalidCredentials)
	}
	centers, err := e.directory.GetActiveCenters(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(centers) == 0 {
		return fail("no_assignments", user.ID, ErrNoAssignments)
	}

	current := centers[0]
	for _, c := range centers {
		if c.IsLastSelected {
			current = c
			break
		}
	}

	now := e.now().UTC()
	if err := e.store.Users(ctx).RecordLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	user.LastLoginAt = &now

	session, err := e.sessions.Create(ctx, user.ID, current.CenterID, origin, userAgent)
	if err != nil {
		return nil, err
	}

	obs.LoginAttempt("success")
	e.record(ctx, audit.Event{
		Type: audit.EventLogin, Success: true,
		ActorUserID: user.ID, CenterID: current.CenterID,
		Origin: origin, UserAgent: userAgent,
	})
	return &AuthResult{
		User:                   user,
		Session:                session,
		Centers:                centers,
		RequiresPasswordChange: user.MustChangePassword,
	}, nil
}

// ValidateSession resolves a token into a live session and lazily re-checks
// the grant behind its current center. Assignments can be revoked while a
// session is open; a session must never stay usable in a center whose grant
// is gone. When the grant was revoked the session is re-anchored to a
// still-accessible center, or closed when none remains.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*SessionInfo, error) {
	info, err := e.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	ok, err := e.directory.HasAssignment(ctx, info.UserID, info.CenterID)
	if err != nil {
		return nil, fmt.Errorf("check assignment: %w", err)
	}
	if ok {
		return info, nil
	}
	centers, err := e.directory.GetActiveCenters(ctx, info.UserID)
	if err != nil {
		return nil, err
	}
	if len(centers) == 0 {
		if err := e.sessions.Terminate(ctx, token); err != nil {
			return nil, err
		}
		e.record(ctx, audit.Event{
			Type: audit.EventLogout, Success: true,
			ActorUserID: info.UserID, CenterID: info.CenterID,
			Fields: map[string]string{"scope": "revoked_grant"},
		})
		return nil, ErrNoAssignments
	}
	updated, err := e.sessions.SwitchCenter(ctx, token, centers[0].CenterID)
	if err != nil {
		return nil, err
	}
	e.record(ctx, audit.Event{
		Type: audit.EventCenterSwitch, Success: true,
		ActorUserID: info.UserID, CenterID: updated.CenterID,
		Fields: map[string]string{
			"from_center": info.CenterID,
			"to_center":   updated.CenterID,
			"reason":      "grant_revoked",
		},
	})
	return updated, nil
}

// Logout terminates every session of the user. Sign-out is account-wide by
// policy, not per-device.
func (e *Engine) Logout(ctx context.Context, userID, origin string) (int, error) {
	count, err := e.sessions.TerminateAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	e.record(ctx, audit.Event{
		Type: audit.EventLogout, Success: true,
		ActorUserID: userID, Origin: origin,
		Fields: map[string]string{"sessions_closed": fmt.Sprintf("%d", count)},
	})
	return count, nil
}

// LogoutSession terminates only the presented session.
func (e *Engine) LogoutSession(ctx context.Context, token, origin string) error {
	info, err := e.sessions.Validate(ctx, token)
	if err != nil {
		return err
	}
	if err := e.sessions.Terminate(ctx, token); err != nil {
		return err
	}
	e.record(ctx, audit.Event{
		Type: audit.EventLogout, Success: true,
		ActorUserID: info.UserID, CenterID: info.CenterID, Origin: origin,
		Fields: map[string]string{"scope": "session"},
	})
	return nil
}

// DeactivateUser soft-deactivates the account and closes all of its
// sessions; either every live session ends or none does.
func (e *Engine) DeactivateUser(ctx context.Context, userID, deactivatedBy string) error {
	if err := e.store.Users(ctx).SetActive(ctx, userID, false); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if _, err := e.sessions.TerminateAllForUser(ctx, userID); err != nil {
		return err
	}
	e.record(ctx, audit.Event{
		Type: audit.EventLogout, Success: true,
		ActorUserID: deactivatedBy, SubjectUserID: userID,
		Fields: map[string]string{"scope": "deactivation"},
	})
	return nil
}

// ChangePassword rotates the user's password. The current password must
// verify unless forced (administrative reset flow); the new password is
// strength-checked before any write, and success clears the forced-change
// flag.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, newPassword string, forced bool) error {
	user, err := e.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if !forced && !e.policy.Verify(current, user.PasswordHash) {
		e.record(ctx, audit.Event{
			Type: audit.EventPasswordChanged, Success: false,
			ActorUserID: userID, FailureReason: "password_mismatch",
		})
		return ErrInvalidCredentials
	}
	report := e.policy.ValidateStrength(newPassword, emailLocalPart(user.Email))
	if !report.Valid {
		return fmt.Errorf("%w: %v", ErrValidationFailed, report.Errors)
	}
	hash, err := e.policy.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.store.Users(ctx).UpdatePassword(ctx, userID, hash, false); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	e.record(ctx, audit.Event{
		Type: audit.EventPasswordChanged, Success: true, ActorUserID: userID,
	})
	return nil
}

// ResetPassword issues a temporary password for the user and flags the
// account for a forced change. The plaintext is returned to the caller
// exactly once and is never stored or logged.
func (e *Engine) ResetPassword(ctx context.Context, userID, resetBy string) (string, error) {
	user, err := e.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}
	temp, err := GenerateTemporary()
	if err != nil {
		return "", err
	}
	hash, err := e.policy.Hash(temp)
	if err != nil {
		return "", err
	}
	if err := e.store.Users(ctx).UpdatePassword(ctx, user.ID, hash, true); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	e.record(ctx, audit.Event{
		Type: audit.EventPasswordReset, Success: true,
		ActorUserID: resetBy, SubjectUserID: user.ID,
	})
	return temp, nil
}

func (e *Engine) record(ctx context.Context, evt audit.Event) {
	record(ctx, e.rec, evt)
}

// record sends an audit event through the sink when one is configured. A
// sink failure is logged at low severity and never propagated: audit must
// not roll back the mutation it describes.
func record(ctx context.Context, rec audit.Recorder, evt audit.Event) {
	if rec == nil {
		return
	}
	if err := rec.Record(ctx, evt); err != nil {
		obs.Log(map[string]any{
			"level": "warn",
			"msg":   "audit_sink_failure",
			"event": string(evt.Type),
			"error": err.Error(),
		})
	}
}
