package auth

import (
	"context"
	"fmt"

	"medregis.org/internal/audit"
	"medregis.org/internal/obs"
)

// Switcher validates and performs in-session center changes. The assignment
// re-check is mandatory: a session must never point at a center whose grant
// was revoked after login.
type Switcher struct {
	sessions  *Sessions
	directory *Directory
	rec       audit.Recorder
}

// SwitcherOption configures Switcher behavior.
type SwitcherOption func(*Switcher)

// WithSwitcherRecorder attaches the audit sink for switch events.
func WithSwitcherRecorder(rec audit.Recorder) SwitcherOption {
	return func(s *Switcher) { s.rec = rec }
}

// NewSwitcher constructs the center switch coordinator.
func NewSwitcher(sessions *Sessions, directory *Directory, opts ...SwitcherOption) *Switcher {
	s := &Switcher{sessions: sessions, directory: directory}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Switch moves the session behind token to newCenterID. The session must be
// live and the owning user must hold an active assignment to the target
// center at switch time; on failure the session's center is left untouched.
func (s *Switcher) Switch(ctx context.Context, token, newCenterID string) (*SessionInfo, error) {
	info, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	ok, err := s.directory.HasAssignment(ctx, info.UserID, newCenterID)
	if err != nil {
		return nil, fmt.Errorf("check assignment: %w", err)
	}
	if !ok {
		obs.CenterSwitch("unauthorized")
		record(ctx, s.rec, audit.Event{
			Type: audit.EventCenterSwitch, Success: false,
			ActorUserID: info.UserID, CenterID: newCenterID,
			FailureReason: "no_active_assignment",
			Fields:        map[string]string{"from_center": info.CenterID},
		})
		return nil, fmt.Errorf("%w: no active assignment for center %s", ErrUnauthorized, newCenterID)
	}

	updated, err := s.sessions.SwitchCenter(ctx, token, newCenterID)
	if err != nil {
		return nil, err
	}
	obs.CenterSwitch("success")
	record(ctx, s.rec, audit.Event{
		Type: audit.EventCenterSwitch, Success: true,
		ActorUserID: info.UserID, CenterID: newCenterID,
		Fields: map[string]string{"from_center": info.CenterID, "to_center": newCenterID},
	})
	return updated, nil
}
