package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"medregis.org/internal/auth"
	"medregis.org/internal/stream"
)

type apiFixture struct {
	api     *API
	handler http.Handler
	store   *auth.Memory
	now     time.Time

	adminID string
	staffID string
	center1 string
	center2 string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store: auth.NewMemory(),
		now:   time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	policy := auth.Policy{MinLength: 8, Cost: bcrypt.MinCost}

	sessions := auth.NewSessions(f.store, auth.WithSessionClock(clock))
	directory := auth.NewDirectory(f.store, auth.WithDirectoryClock(clock))
	engine := auth.NewEngine(f.store, sessions, directory,
		auth.WithEngineClock(clock), auth.WithPolicy(policy))
	switcher := auth.NewSwitcher(sessions, directory)

	f.api = New(Services{
		Engine:    engine,
		Sessions:  sessions,
		Switcher:  switcher,
		Directory: directory,
		Stream:    stream.New(),
	}, ReadyProbe{}, "test")
	f.handler = f.api.Handler()

	ctx := context.Background()
	c1 := &auth.Center{Name: "Central Hospital", Active: true}
	c2 := &auth.Center{Name: "North Clinic", Active: true}
	for _, c := range []*auth.Center{c1, c2} {
		if err := f.store.Centers(ctx).Create(ctx, c); err != nil {
			t.Fatalf("create center: %v", err)
		}
	}
	f.center1, f.center2 = c1.ID, c2.ID

	f.adminID = f.addUser(t, "admin@x.com", "AdminPass1!")
	f.staffID = f.addUser(t, "staff@x.com", "StaffPass1!")

	f.grant(t, directory, f.adminID, c1.ID, auth.RoleSuperAdmin)
	f.grant(t, directory, f.staffID, c1.ID, auth.RoleMedicalStaff)
	f.grant(t, directory, f.staffID, c2.ID, auth.RolePharmacist)
	return f
}

func (f *apiFixture) addUser(t *testing.T, email, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &auth.User{Email: email, PasswordHash: string(hash), Active: true}
	if err := f.store.Users(context.Background()).Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func (f *apiFixture) grant(t *testing.T, d *auth.Directory, userID, centerID string, role auth.Role) {
	t.Helper()
	if _, err := d.Grant(context.Background(), userID, centerID, role, "bootstrap"); err != nil {
		t.Fatalf("grant: %v", err)
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:4321"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) login(t *testing.T, email, password string) loginResponse {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rr.Code, rr.Body.String())
	}
	var res loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return res
}

func TestLoginSwitchLogoutFlow(t *testing.T) {
	f := newAPIFixture(t)

	res := f.login(t, "staff@x.com", "StaffPass1!")
	if res.Token == "" || res.CenterID != f.center1 {
		t.Fatalf("unexpected login response %+v", res)
	}
	if len(res.Centers) != 2 {
		t.Fatalf("centers = %d, want 2", len(res.Centers))
	}

	rr := f.do(t, http.MethodGet, "/v1/auth/centers", res.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("centers status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/v1/auth/switch-center", res.Token, map[string]string{
		"center_id": f.center2,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("switch status = %d: %s", rr.Code, rr.Body.String())
	}
	var info auth.SessionInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode switch response: %v", err)
	}
	if info.CenterID != f.center2 {
		t.Fatalf("switched center = %s, want %s", info.CenterID, f.center2)
	}

	rr = f.do(t, http.MethodGet, "/v1/auth/sessions", res.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/v1/auth/logout", res.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout status = %d: %s", rr.Code, rr.Body.String())
	}
	var out map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode logout response: %v", err)
	}
	if out["sessions_closed"] != 1 {
		t.Fatalf("sessions_closed = %d, want 1", out["sessions_closed"])
	}

	rr = f.do(t, http.MethodGet, "/v1/auth/sessions", res.Token, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("post-logout status = %d, want 401", rr.Code)
	}
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	f := newAPIFixture(t)

	for _, tc := range []struct {
		name  string
		email string
	}{
		{"wrong password", "staff@x.com"},
		{"unknown email", "ghost@x.com"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
				"email": tc.email, "password": "WrongPass1!",
			})
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			// Same message for both, so responses cannot confirm an email.
			if body["error"] != "invalid credentials" {
				t.Fatalf("error = %v", body["error"])
			}
		})
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodGet, "/v1/auth/sessions", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestUnknownPathIsNotFoundWithoutToken(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodGet, "/v1/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestExpiredSessionReportsExpired(t *testing.T) {
	f := newAPIFixture(t)
	res := f.login(t, "staff@x.com", "StaffPass1!")

	f.now = f.now.Add(auth.DefaultLifetime + time.Minute)

	rr := f.do(t, http.MethodGet, "/v1/auth/sessions", res.Token, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "session expired" {
		t.Fatalf("error = %v, want session expired", body["error"])
	}
}

func TestSwitchCenterUnassignedIsForbidden(t *testing.T) {
	f := newAPIFixture(t)
	res := f.login(t, "admin@x.com", "AdminPass1!")

	rr := f.do(t, http.MethodPost, "/v1/auth/switch-center", res.Token, map[string]string{
		"center_id": f.center2,
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rr.Code, rr.Body.String())
	}
}

func TestAssignmentRoutesAreAdminOnly(t *testing.T) {
	f := newAPIFixture(t)
	staff := f.login(t, "staff@x.com", "StaffPass1!")
	admin := f.login(t, "admin@x.com", "AdminPass1!")

	grant := map[string]string{
		"user_id": f.adminID, "center_id": f.center2, "role": "center_admin",
	}
	rr := f.do(t, http.MethodPost, "/v1/assignments", staff.Token, grant)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("staff grant status = %d, want 403", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/v1/assignments", admin.Token, grant)
	if rr.Code != http.StatusCreated {
		t.Fatalf("admin grant status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/v1/assignments/revoke", admin.Token, map[string]string{
		"user_id": f.adminID, "center_id": f.center2,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke status = %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["revoked"] != true {
		t.Fatalf("revoked = %v", body["revoked"])
	}
}

func TestPasswordStrengthIsPublic(t *testing.T) {
	f := newAPIFixture(t)
	rr := f.do(t, http.MethodPost, "/v1/auth/password-strength", "", map[string]string{
		"password": "Secret1!",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var report auth.StrengthReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !report.Valid || report.Score != 80 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	res := f.login(t, "staff@x.com", "StaffPass1!")

	rr := f.do(t, http.MethodPost, "/v1/auth/change-password", res.Token, map[string]string{
		"current_password": "wrong", "new_password": "Changed2!x",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong current status = %d, want 401", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/v1/auth/change-password", res.Token, map[string]string{
		"current_password": "StaffPass1!", "new_password": "Changed2!x",
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("change status = %d: %s", rr.Code, rr.Body.String())
	}

	f.login(t, "staff@x.com", "Changed2!x")
}

func TestResetPasswordEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.login(t, "admin@x.com", "AdminPass1!")

	rr := f.do(t, http.MethodPost, "/v1/auth/reset-password", admin.Token, map[string]string{
		"user_id": f.staffID,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	temp := body["temporary_password"]
	if temp == "" {
		t.Fatal("expected temporary password")
	}

	res := f.login(t, "staff@x.com", temp)
	if !res.RequiresPasswordChange {
		t.Fatal("expected forced password change after reset")
	}
}
