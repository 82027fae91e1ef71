package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"medregis.org/internal/ids"
)

// Memory implements Store with in-process concurrency safety. It backs unit
// tests and DSN-less development runs; Postgres is the durable store.
type Memory struct {
	mu           sync.RWMutex
	users        map[string]*User
	emails       map[string]string // lowercased email -> user id
	centers      map[string]*Center
	assignments  map[string]*CenterAssignment // userID + "\x00" + centerID
	sessions     map[string]*Session          // token
	lastSelected map[string]*LastSelectedCenter
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]*User),
		emails:       make(map[string]string),
		centers:      make(map[string]*Center),
		assignments:  make(map[string]*CenterAssignment),
		sessions:     make(map[string]*Session),
		lastSelected: make(map[string]*LastSelectedCenter),
	}
}

func (m *Memory) Users(context.Context) UserStore { return (*memUsers)(m) }

func (m *Memory) Centers(context.Context) CenterStore { return (*memCenters)(m) }

func (m *Memory) Assignments(context.Context) AssignmentStore { return (*memAssignments)(m) }

func (m *Memory) Sessions(context.Context) SessionStore { return (*memSessions)(m) }

func (m *Memory) LastSelected(context.Context) LastSelectedStore { return (*memLastSelected)(m) }

func assignmentKey(userID, centerID string) string { return userID + "\x00" + centerID }

// User store ---------------------------------------------------------------

type memUsers Memory

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, ok := m.emails[email]; ok {
		return ErrConflict
	}
	u.Email = email
	cp := *u
	m.users[u.ID] = &cp
	m.emails[email] = u.ID
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, passwordHash string, mustChange bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.MustChangePassword = mustChange
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) SetActive(_ context.Context, userID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) RecordLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	ts := at
	u.LastLoginAt = &ts
	return nil
}

// Center store -------------------------------------------------------------

type memCenters Memory

func (m *memCenters) Create(_ context.Context, c *Center) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = ids.New()
	}
	if _, ok := m.centers[c.ID]; ok {
		return ErrConflict
	}
	cp := *c
	m.centers[c.ID] = &cp
	return nil
}

func (m *memCenters) Find(_ context.Context, id string) (*Center, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.centers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCenters) List(_ context.Context) ([]*Center, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Center, 0, len(m.centers))
	for _, c := range m.centers {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Assignment store ---------------------------------------------------------

type memAssignments Memory

func (m *memAssignments) Create(_ context.Context, a *CenterAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey(a.UserID, a.CenterID)
	if _, ok := m.assignments[key]; ok {
		return ErrConflict
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	cp := *a
	m.assignments[key] = &cp
	return nil
}

func (m *memAssignments) FindByUserCenter(_ context.Context, userID, centerID string) (*CenterAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[assignmentKey(userID, centerID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAssignments) ListActiveByUser(_ context.Context, userID string) ([]*CenterAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*CenterAssignment
	for _, a := range m.assignments {
		if a.UserID == userID && a.Active {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memAssignments) Update(_ context.Context, a *CenterAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey(a.UserID, a.CenterID)
	if _, ok := m.assignments[key]; !ok {
		return ErrNotFound
	}
	cp := *a
	cp.UpdatedAt = time.Now().UTC()
	m.assignments[key] = &cp
	return nil
}

// Session store ------------------------------------------------------------

type memSessions Memory

func (m *memSessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.Token]; ok {
		return ErrConflict
	}
	cp := *s
	m.sessions[s.Token] = &cp
	return nil
}

func (m *memSessions) Find(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.Token]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.sessions[s.Token] = &cp
	return nil
}

func (m *memSessions) ListActiveByUser(_ context.Context, userID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memSessions) TerminateAllForUser(_ context.Context, userID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active {
			s.Active = false
			ts := at
			s.LoggedOutAt = &ts
			count++
		}
	}
	return count, nil
}

func (m *memSessions) ExpireDue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		if s.Active && !s.ExpiresAt.After(now) {
			s.Active = false
			ts := s.ExpiresAt
			s.LoggedOutAt = &ts
			count++
		}
	}
	return count, nil
}

// Last-selected store ------------------------------------------------------

type memLastSelected Memory

func (m *memLastSelected) Upsert(_ context.Context, userID, centerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSelected[userID] = &LastSelectedCenter{UserID: userID, CenterID: centerID, UpdatedAt: at}
	return nil
}

func (m *memLastSelected) Find(_ context.Context, userID string) (*LastSelectedCenter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls, ok := m.lastSelected[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ls
	return &cp, nil
}
