package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"medregis.org/internal/audit"
)

// Directory resolves which centers a user may act in and maintains the
// (user, center, role) grants behind that answer.
type Directory struct {
	store Store
	now   func() time.Time
	rec   audit.Recorder
}

// DirectoryOption configures Directory behavior.
type DirectoryOption func(*Directory)

// WithDirectoryClock overrides the time source (useful for tests).
func WithDirectoryClock(fn func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if fn != nil {
			d.now = fn
		}
	}
}

// WithDirectoryRecorder attaches the audit sink for grant/revoke events.
func WithDirectoryRecorder(rec audit.Recorder) DirectoryOption {
	return func(d *Directory) { d.rec = rec }
}

// NewDirectory constructs a Directory over the given store.
func NewDirectory(store Store, opts ...DirectoryOption) *Directory {
	d := &Directory{store: store, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// GetActiveCenters returns the centers the user may operate in: active
// assignments whose center is itself active, ordered by center name for a
// deterministic UI, with the last-selected center flagged.
func (d *Directory) GetActiveCenters(ctx context.Context, userID string) ([]AccessibleCenter, error) {
	assignments, err := d.store.Assignments(ctx).ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	lastCenter := ""
	if ls, err := d.store.LastSelected(ctx).Find(ctx, userID); err == nil {
		lastCenter = ls.CenterID
	}

	centers := d.store.Centers(ctx)
	out := make([]AccessibleCenter, 0, len(assignments))
	for _, a := range assignments {
		center, err := centers.Find(ctx, a.CenterID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load center %s: %w", a.CenterID, err)
		}
		if !center.Active {
			continue
		}
		out = append(out, AccessibleCenter{
			CenterID:       center.ID,
			CenterName:     center.Name,
			Role:           a.Role,
			IsLastSelected: center.ID == lastCenter,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CenterName < out[j].CenterName })
	return out, nil
}

// HasAssignment is the authorization predicate for every center-scoped
// action. When roles are given, any one of them satisfies the check.
func (d *Directory) HasAssignment(ctx context.Context, userID, centerID string, roles ...Role) (bool, error) {
	a, err := d.store.Assignments(ctx).FindByUserCenter(ctx, userID, centerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !a.Active {
		return false, nil
	}
	center, err := d.store.Centers(ctx).Find(ctx, centerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !center.Active {
		return false, nil
	}
	if len(roles) == 0 {
		return true, nil
	}
	for _, role := range roles {
		if a.Role == role {
			return true, nil
		}
	}
	return false, nil
}

// Grant gives userID the role in centerID. A previously revoked grant for
// the same pair is reactivated in place rather than duplicated; granting
// over a live one fails with ErrConflict.
func (d *Directory) Grant(ctx context.Context, userID, centerID string, role Role, grantedBy string) (*CenterAssignment, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidationFailed, role)
	}
	if _, err := d.store.Users(ctx).Find(ctx, userID); err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if _, err := d.store.Centers(ctx).Find(ctx, centerID); err != nil {
		return nil, fmt.Errorf("load center: %w", err)
	}

	now := d.now().UTC()
	existing, err := d.store.Assignments(ctx).FindByUserCenter(ctx, userID, centerID)
	switch {
	case err == nil && existing.Active:
		return nil, fmt.Errorf("%w: active assignment already exists", ErrConflict)
	case err == nil:
		existing.Active = true
		existing.Role = role
		existing.StartsAt = now
		existing.EndsAt = nil
		existing.GrantedBy = grantedBy
		if err := d.store.Assignments(ctx).Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("reactivate assignment: %w", err)
		}
		d.record(ctx, audit.Event{
			Type: audit.EventAssignmentGranted, Success: true,
			ActorUserID: grantedBy, SubjectUserID: userID, CenterID: centerID,
			Fields: map[string]string{"role": string(role), "reactivated": "true"},
		})
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("load assignment: %w", err)
	}

	a := &CenterAssignment{
		UserID:    userID,
		CenterID:  centerID,
		Role:      role,
		Active:    true,
		StartsAt:  now,
		GrantedBy: grantedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.Assignments(ctx).Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	d.record(ctx, audit.Event{
		Type: audit.EventAssignmentGranted, Success: true,
		ActorUserID: grantedBy, SubjectUserID: userID, CenterID: centerID,
		Fields: map[string]string{"role": string(role)},
	})
	return a, nil
}

// Revoke ends the active grant for (userID, centerID). Returns false when no
// active grant existed; revoke is idempotent, not an error path.
func (d *Directory) Revoke(ctx context.Context, userID, centerID, revokedBy string, endDate *time.Time) (bool, error) {
	existing, err := d.store.Assignments(ctx).FindByUserCenter(ctx, userID, centerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load assignment: %w", err)
	}
	if !existing.Active {
		return false, nil
	}
	end := d.now().UTC()
	if endDate != nil {
		end = endDate.UTC()
	}
	existing.Active = false
	existing.EndsAt = &end
	if err := d.store.Assignments(ctx).Update(ctx, existing); err != nil {
		return false, fmt.Errorf("revoke assignment: %w", err)
	}
	d.record(ctx, audit.Event{
		Type: audit.EventAssignmentRevoked, Success: true,
		ActorUserID: revokedBy, SubjectUserID: userID, CenterID: centerID,
		Fields: map[string]string{"role": string(existing.Role)},
	})
	return true, nil
}

// SaveLastSelected overwrites the user's last-selected center memo.
func (d *Directory) SaveLastSelected(ctx context.Context, userID, centerID string) error {
	return d.store.LastSelected(ctx).Upsert(ctx, userID, centerID, d.now().UTC())
}

// GetLastSelected reads the memo; empty string when none was saved yet.
func (d *Directory) GetLastSelected(ctx context.Context, userID string) (string, error) {
	ls, err := d.store.LastSelected(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return ls.CenterID, nil
}

func (d *Directory) record(ctx context.Context, evt audit.Event) {
	record(ctx, d.rec, evt)
}

// normalizeEmail lowers and trims an email for case-insensitive matching.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
