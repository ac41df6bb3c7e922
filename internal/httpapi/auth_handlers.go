package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"bazaar.org/internal/audit"
	"bazaar.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success   bool            `json:"success"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Role      auth.RoleName   `json:"role"`
	Roles     []auth.RoleName `json:"roles"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidation(w, r, map[string]string{"body": err.Error()})
		return
	}
	details := map[string]string{}
	if strings.TrimSpace(req.Email) == "" {
		details["email"] = "required"
	}
	if req.Password == "" {
		details["password"] = "required"
	}
	if len(details) > 0 {
		writeValidation(w, r, details)
		return
	}

	entry := audit.Entry{Action: "auth.login", Resource: "session"}
	recordFailure := func(cause error) {
		entry.ErrorMessage = cause.Error()
		entry.NewValue = map[string]any{"email": strings.ToLower(strings.TrimSpace(req.Email))}
		a.record(r, entry)
	}
	fail := func(status int, reason, msg string, cause error) {
		recordFailure(cause)
		writeError(w, r, status, reason, msg)
	}

	identityID, err := a.passwords.Check(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			fail(http.StatusUnauthorized, "invalid_credentials", "invalid email or password", err)
			return
		}
		recordFailure(err)
		a.writeServiceError(w, r, err)
		return
	}
	entry.ActorID = identityID

	profile, err := a.profiles.Get(r.Context(), identityID)
	if err != nil {
		fail(http.StatusServiceUnavailable, "provisioning_failed", "profile unavailable", err)
		return
	}
	principal := auth.NewPrincipal(identityID, profile)
	if !principal.Usable() {
		fail(http.StatusForbidden, "account_unavailable", "account is not active", auth.ErrForbidden)
		return
	}

	sess, err := a.sessions.Create(r.Context(), identityID, clientMeta(r), 0)
	if err != nil {
		entry.ErrorMessage = err.Error()
		a.record(r, entry)
		a.writeServiceError(w, r, err)
		return
	}
	if err := a.profiles.RecordLogin(r.Context(), identityID); err != nil {
		a.log.Warn().Err(err).Str("identity_id", identityID).Msg("record login failed")
	}

	entry.Success = true
	entry.ResourceID = sess.ID
	entry.NewValue = map[string]any{"expires_at": sess.ExpiresAt}
	a.record(r, entry)

	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		Role:      principal.Role,
		Roles:     principal.Roles,
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	token, _ := auth.TokenFromContext(r.Context())
	entry := audit.Entry{
		ActorID:    principal.IdentityID,
		Action:     "auth.logout",
		Resource:   "session",
		ResourceID: principal.SessionID,
	}
	// Externally issued tokens carry no session to delete.
	if principal.SessionID != "" {
		if err := a.sessions.Delete(r.Context(), token); err != nil {
			entry.ErrorMessage = err.Error()
			a.record(r, entry)
			a.writeServiceError(w, r, err)
			return
		}
	}
	entry.Success = true
	a.record(r, entry)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) logoutAll(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	entry := audit.Entry{
		ActorID:    principal.IdentityID,
		Action:     "auth.logout_all",
		Resource:   "session",
		ResourceID: principal.IdentityID,
	}
	n, err := a.sessions.DeleteAllFor(r.Context(), principal.IdentityID)
	if err != nil {
		entry.ErrorMessage = err.Error()
		a.record(r, entry)
		a.writeServiceError(w, r, err)
		return
	}
	entry.Success = true
	entry.NewValue = map[string]any{"revoked": n}
	a.record(r, entry)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "revoked": n})
}

type meResponse struct {
	Success     bool            `json:"success"`
	IdentityID  string          `json:"identity_id"`
	ProfileID   string          `json:"profile_id"`
	Role        auth.RoleName   `json:"role"`
	Roles       []auth.RoleName `json:"roles"`
	Permissions []string        `json:"permissions"`
	Status      auth.Status     `json:"status"`
	Blocked     bool            `json:"blocked"`
	LastLoginAt *time.Time      `json:"last_login_at,omitempty"`
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	profile, err := a.profiles.Get(r.Context(), principal.IdentityID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	perms := make([]string, 0, len(principal.Permissions))
	for id := range principal.Permissions {
		perms = append(perms, string(id))
	}
	sort.Strings(perms)
	writeJSON(w, http.StatusOK, meResponse{
		Success:     true,
		IdentityID:  principal.IdentityID,
		ProfileID:   principal.ProfileID,
		Role:        principal.Role,
		Roles:       principal.Roles,
		Permissions: perms,
		Status:      principal.Status,
		Blocked:     principal.Blocked,
		LastLoginAt: profile.LastLoginAt,
	})
}

func (a *API) deviceCheck(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if principal.SessionID == "" {
		writeError(w, r, http.StatusNotFound, "session_not_found", "credential is not a session token")
		return
	}
	token, _ := auth.TokenFromContext(r.Context())
	same, err := a.sessions.IsSameDevice(r.Context(), token, auth.ClientMetaFromContext(r.Context()))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "same_device": same})
}

func (a *API) access(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resource := strings.TrimSpace(q.Get("resource"))
	action := strings.TrimSpace(q.Get("action"))
	details := map[string]string{}
	if resource == "" {
		details["resource"] = "required"
	}
	if action == "" {
		details["action"] = "required"
	}
	if len(details) > 0 {
		writeValidation(w, r, details)
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"resource": resource,
		"action":   action,
		"allowed":  principal.CanAccessResource(resource, action),
	})
}
