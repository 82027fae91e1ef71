package httpapi

import (
	"net/http"
	"strings"
	"time"

	"medregis.org/internal/auth"
	"medregis.org/internal/ids"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Origin   string `json:"origin"`
}

type loginResponse struct {
	Token                  string                  `json:"token"`
	ExpiresAt              time.Time               `json:"expires_at"`
	UserID                 string                  `json:"user_id"`
	CenterID               string                  `json:"center_id"`
	Centers                []auth.AccessibleCenter `json:"centers"`
	RequiresPasswordChange bool                    `json:"requires_password_change"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := a.engine.Login(r.Context(), req.Email, req.Password, req.Origin, r.UserAgent())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:                  res.Session.Token,
		ExpiresAt:              res.Session.ExpiresAt,
		UserID:                 res.User.ID,
		CenterID:               res.Session.CenterID,
		Centers:                res.Centers,
		RequiresPasswordChange: res.RequiresPasswordChange,
	})
}

// handleLogout signs the caller out everywhere: every live session of the
// account is closed, not just the presented one.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	info, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	count, err := a.engine.Logout(r.Context(), info.UserID, info.Origin)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions_closed": count})
}

// handleLogoutSession closes only the presented session.
func (a *API) handleLogoutSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	info, _ := auth.SessionFromContext(r.Context())
	if err := a.engine.LogoutSession(r.Context(), token, info.Origin); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type switchCenterRequest struct {
	CenterID string `json:"center_id"`
}

func (a *API) handleSwitchCenter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	var req switchCenterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.CenterID = strings.TrimSpace(req.CenterID)
	if req.CenterID == "" || !ids.Valid(req.CenterID) {
		writeError(w, r, http.StatusBadRequest, "center_id is required")
		return
	}
	info, err := a.switcher.Switch(r.Context(), token, req.CenterID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	info, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "new_password is required")
		return
	}
	if err := a.engine.ChangePassword(r.Context(), info.UserID, req.CurrentPassword, req.NewPassword, false); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resetPasswordRequest struct {
	UserID string `json:"user_id"`
}

// handleResetPassword issues a temporary password for another user. Admin
// only; the plaintext appears in this response and nowhere else.
func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.requireRole(w, r, auth.RoleSuperAdmin, auth.RoleCenterAdmin)
	if !ok {
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	temp, err := a.engine.ResetPassword(r.Context(), req.UserID, actor.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"temporary_password": temp})
}

type passwordStrengthRequest struct {
	Password string `json:"password"`
	Email    string `json:"email"`
}

// handlePasswordStrength previews the strength verdict the server would
// apply. Public: the signup/reset form calls it before submitting.
func (a *API) handlePasswordStrength(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req passwordStrengthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	report := a.engine.Policy().ValidateStrength(req.Password, auth.EmailHints(req.Email)...)
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	info, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	sessions, err := a.sessions.ListActive(r.Context(), info.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleCenters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	info, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid session")
		return
	}
	centers, err := a.directory.GetActiveCenters(r.Context(), info.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"centers": centers})
}

type grantAssignmentRequest struct {
	UserID   string `json:"user_id"`
	CenterID string `json:"center_id"`
	Role     string `json:"role"`
}

func (a *API) handleGrantAssignment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.requireRole(w, r, auth.RoleSuperAdmin, auth.RoleCenterAdmin)
	if !ok {
		return
	}
	var req grantAssignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	assignment, err := a.directory.Grant(r.Context(), req.UserID, req.CenterID, role, actor.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        assignment.ID,
		"user_id":   assignment.UserID,
		"center_id": assignment.CenterID,
		"role":      assignment.Role,
	})
}

type revokeAssignmentRequest struct {
	UserID   string     `json:"user_id"`
	CenterID string     `json:"center_id"`
	EndDate  *time.Time `json:"end_date,omitempty"`
}

func (a *API) handleRevokeAssignment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.requireRole(w, r, auth.RoleSuperAdmin, auth.RoleCenterAdmin)
	if !ok {
		return
	}
	var req revokeAssignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	revoked, err := a.directory.Revoke(r.Context(), req.UserID, req.CenterID, actor.UserID, req.EndDate)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}
