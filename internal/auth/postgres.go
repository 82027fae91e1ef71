package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"medregis.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Every mutation is a single-row
// statement keyed by token or (user, center), so concurrent readers never
// observe a torn write.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore { return &pgUsers{db: s.db} }

func (s *PGStore) Centers(context.Context) CenterStore { return &pgCenters{db: s.db} }

func (s *PGStore) Assignments(context.Context) AssignmentStore { return &pgAssignments{db: s.db} }

func (s *PGStore) Sessions(context.Context) SessionStore { return &pgSessions{db: s.db} }

func (s *PGStore) LastSelected(context.Context) LastSelectedStore { return &pgLastSelected{db: s.db} }

// User store ---------------------------------------------------------------

type pgUsers struct{ db *sql.DB }

const userColumns = `id, email, password_hash, active, must_change_password, last_login_at, created_at, updated_at`

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = normalizeEmail(u.Email)
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, active, must_change_password)
		 values($1,$2,$3,$4,$5)`,
		u.ID, u.Email, u.PasswordHash, u.Active, u.MustChangePassword,
	)
	return err
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.MustChangePassword,
		&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=lower($1)`, normalizeEmail(email)))
}

func (s *pgUsers) UpdatePassword(ctx context.Context, userID, passwordHash string, mustChange bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, must_change_password=$3, updated_at=now() where id=$1`,
		userID, passwordHash, mustChange,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgUsers) SetActive(ctx context.Context, userID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set active=$2, updated_at=now() where id=$1`, userID, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgUsers) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set last_login_at=$2 where id=$1`, userID, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Center store -------------------------------------------------------------

type pgCenters struct{ db *sql.DB }

func (s *pgCenters) Create(ctx context.Context, c *Center) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into centers(id, name, active) values($1,$2,$3)`,
		c.ID, c.Name, c.Active,
	)
	return err
}

func (s *pgCenters) Find(ctx context.Context, id string) (*Center, error) {
	var c Center
	err := s.db.QueryRowContext(ctx,
		`select id, name, active, created_at from centers where id=$1`, id,
	).Scan(&c.ID, &c.Name, &c.Active, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *pgCenters) List(ctx context.Context) ([]*Center, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, active, created_at from centers order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Center
	for rows.Next() {
		var c Center
		if err := rows.Scan(&c.ID, &c.Name, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Assignment store ---------------------------------------------------------

type pgAssignments struct{ db *sql.DB }

const assignmentColumns = `id, user_id, center_id, role, active, starts_at, ends_at, granted_by, created_at, updated_at`

func (s *pgAssignments) Create(ctx context.Context, a *CenterAssignment) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into center_assignments(id, user_id, center_id, role, active, starts_at, ends_at, granted_by)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.UserID, a.CenterID, string(a.Role), a.Active, a.StartsAt, a.EndsAt, a.GrantedBy,
	)
	return err
}

func scanAssignment(row interface{ Scan(...any) error }) (*CenterAssignment, error) {
	var (
		a    CenterAssignment
		role string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.CenterID, &role, &a.Active,
		&a.StartsAt, &a.EndsAt, &a.GrantedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Role = Role(role)
	return &a, nil
}

func (s *pgAssignments) FindByUserCenter(ctx context.Context, userID, centerID string) (*CenterAssignment, error) {
	return scanAssignment(s.db.QueryRowContext(ctx,
		`select `+assignmentColumns+` from center_assignments where user_id=$1 and center_id=$2`,
		userID, centerID))
}

func (s *pgAssignments) ListActiveByUser(ctx context.Context, userID string) ([]*CenterAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+assignmentColumns+` from center_assignments where user_id=$1 and active`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CenterAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *pgAssignments) Update(ctx context.Context, a *CenterAssignment) error {
	res, err := s.db.ExecContext(ctx,
		`update center_assignments
		 set role=$3, active=$4, starts_at=$5, ends_at=$6, granted_by=$7, updated_at=now()
		 where user_id=$1 and center_id=$2`,
		a.UserID, a.CenterID, string(a.Role), a.Active, a.StartsAt, a.EndsAt, a.GrantedBy,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Session store ------------------------------------------------------------

type pgSessions struct{ db *sql.DB }

const sessionColumns = `token, user_id, center_id, created_at, expires_at, logged_out_at, active, origin, user_agent`

func (s *pgSessions) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(token, user_id, center_id, created_at, expires_at, active, origin, user_agent)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.Token, sess.UserID, sess.CenterID, sess.CreatedAt, sess.ExpiresAt,
		sess.Active, sess.Origin, sess.UserAgent,
	)
	return err
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	if err := row.Scan(&sess.Token, &sess.UserID, &sess.CenterID, &sess.CreatedAt,
		&sess.ExpiresAt, &sess.LoggedOutAt, &sess.Active, &sess.Origin, &sess.UserAgent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *pgSessions) Find(ctx context.Context, token string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where token=$1`, token))
}

func (s *pgSessions) Update(ctx context.Context, sess *Session) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set center_id=$2, expires_at=$3, logged_out_at=$4, active=$5 where token=$1`,
		sess.Token, sess.CenterID, sess.ExpiresAt, sess.LoggedOutAt, sess.Active,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgSessions) ListActiveByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where user_id=$1 and active order by created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// TerminateAllForUser closes the user's live sessions in one statement, so
// the operation is inherently all-or-nothing.
func (s *pgSessions) TerminateAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set active=false, logged_out_at=$2 where user_id=$1 and active`,
		userID, at,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *pgSessions) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set active=false, logged_out_at=expires_at where active and expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Last-selected store ------------------------------------------------------

type pgLastSelected struct{ db *sql.DB }

// Upsert is a single insert .. on conflict statement: the read-modify-write
// is atomic even when two logins for the same user race.
func (s *pgLastSelected) Upsert(ctx context.Context, userID, centerID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`insert into last_selected_centers(user_id, center_id, updated_at)
		 values($1,$2,$3)
		 on conflict (user_id) do update
		 set center_id = excluded.center_id, updated_at = excluded.updated_at`,
		userID, centerID, at,
	)
	return err
}

func (s *pgLastSelected) Find(ctx context.Context, userID string) (*LastSelectedCenter, error) {
	var ls LastSelectedCenter
	err := s.db.QueryRowContext(ctx,
		`select user_id, center_id, updated_at from last_selected_centers where user_id=$1`, userID,
	).Scan(&ls.UserID, &ls.CenterID, &ls.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ls, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
