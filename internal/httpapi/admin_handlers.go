package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"bazaar.org/internal/audit"
	"bazaar.org/internal/auth"
)

type roleRequest struct {
	Role        string   `json:"role"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.PrincipalFromContext(r.Context())
	ownerID := strings.TrimSpace(chi.URLParam(r, "ownerID"))

	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidation(w, r, map[string]string{"body": err.Error()})
		return
	}
	upd, details := parseRoleRequest(req)
	if len(details) > 0 {
		writeValidation(w, r, details)
		return
	}

	before, after, err := a.profiles.ChangeRole(r.Context(), actor, ownerID, upd)
	entry := audit.Entry{
		ActorID:    actor.IdentityID,
		Action:     "profile.role_change",
		Resource:   "profile",
		ResourceID: ownerID,
		OldValue:   roleSnapshot(before),
		NewValue:   roleSnapshot(after),
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
		entry.NewValue = map[string]any{"requested_role": req.Role, "requested_roles": req.Roles}
		a.record(r, entry)
		a.writeServiceError(w, r, err)
		return
	}
	entry.Success = true
	a.record(r, entry)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "profile": profileView(after)})
}

func parseRoleRequest(req roleRequest) (auth.RoleUpdate, map[string]string) {
	details := map[string]string{}
	var upd auth.RoleUpdate
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		details["role"] = err.Error()
	}
	upd.Role = role
	if req.Roles != nil {
		upd.Roles = make([]auth.RoleName, 0, len(req.Roles))
		for _, raw := range req.Roles {
			rn, err := auth.ParseRole(raw)
			if err != nil {
				details["roles"] = err.Error()
				break
			}
			upd.Roles = append(upd.Roles, rn)
		}
	}
	if req.Permissions != nil {
		upd.Permissions = make([]auth.PermissionID, 0, len(req.Permissions))
		for _, raw := range req.Permissions {
			p, err := auth.ParsePermission(raw)
			if err != nil {
				details["permissions"] = err.Error()
				break
			}
			upd.Permissions = append(upd.Permissions, p.ID())
		}
	}
	return upd, details
}

type statusRequest struct {
	Status  *string `json:"status"`
	Blocked *bool   `json:"blocked"`
}

func (a *API) setStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.PrincipalFromContext(r.Context())
	ownerID := strings.TrimSpace(chi.URLParam(r, "ownerID"))

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidation(w, r, map[string]string{"body": err.Error()})
		return
	}
	var upd auth.StatusUpdate
	if req.Status != nil {
		st, err := auth.ParseStatus(*req.Status)
		if err != nil {
			writeValidation(w, r, map[string]string{"status": err.Error()})
			return
		}
		upd.Status = &st
	}
	upd.Blocked = req.Blocked
	if upd.Status == nil && upd.Blocked == nil {
		writeValidation(w, r, map[string]string{"body": "status or blocked is required"})
		return
	}

	before, after, err := a.profiles.SetStatus(r.Context(), actor, ownerID, upd)
	entry := audit.Entry{
		ActorID:    actor.IdentityID,
		Action:     "profile.status_change",
		Resource:   "profile",
		ResourceID: ownerID,
		OldValue:   statusSnapshot(before),
		NewValue:   statusSnapshot(after),
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
		entry.NewValue = map[string]any{"requested_status": req.Status, "requested_blocked": req.Blocked}
		a.record(r, entry)
		a.writeServiceError(w, r, err)
		return
	}
	entry.Success = true
	a.record(r, entry)

	// A profile that can no longer sign in loses its live sessions too.
	if after.Status != auth.StatusActive || after.Blocked {
		if n, err := a.sessions.DeleteAllFor(r.Context(), ownerID); err != nil {
			a.log.Warn().Err(err).Str("owner_id", ownerID).Msg("revoke sessions after status change failed")
		} else if n > 0 {
			a.record(r, audit.Entry{
				ActorID:    actor.IdentityID,
				Action:     "session.revoke_all",
				Resource:   "session",
				ResourceID: ownerID,
				Success:    true,
				NewValue:   map[string]any{"revoked": n, "reason": "status_change"},
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "profile": profileView(after)})
}

func (a *API) revokeSessions(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.PrincipalFromContext(r.Context())
	ownerID := strings.TrimSpace(chi.URLParam(r, "ownerID"))
	entry := audit.Entry{
		ActorID:    actor.IdentityID,
		Action:     "session.revoke_all",
		Resource:   "session",
		ResourceID: ownerID,
	}
	n, err := a.sessions.DeleteAllFor(r.Context(), ownerID)
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

func (a *API) cleanupSessions(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.PrincipalFromContext(r.Context())
	entry := audit.Entry{ActorID: actor.IdentityID, Action: "session.cleanup", Resource: "session"}
	n, err := a.sessions.CleanupExpired(r.Context())
	if err != nil {
		entry.ErrorMessage = err.Error()
		a.record(r, entry)
		a.writeServiceError(w, r, err)
		return
	}
	entry.Success = true
	entry.NewValue = map[string]any{"deleted": n}
	a.record(r, entry)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

func (a *API) recentAudit(w http.ResponseWriter, r *http.Request) {
	if a.auditReader == nil {
		writeError(w, r, http.StatusNotImplemented, "not_implemented", "audit reader is not configured")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	if err != nil {
		writeValidation(w, r, map[string]string{"limit": err.Error()})
		return
	}
	entries, err := a.auditReader.Recent(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": entries})
}

// gateProbe answers 200 to anyone the route's gate let through.
func (a *API) gateProbe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"role":    principal.Role,
		"roles":   principal.Roles,
	})
}

func parseLimit(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, errInvalidLimit(max)
	}
	return n, nil
}

type errInvalidLimit int

func (e errInvalidLimit) Error() string {
	return "limit must be between 1 and " + strconv.Itoa(int(e))
}

func roleSnapshot(p auth.Profile) map[string]any {
	if p.OwnerID == "" {
		return nil
	}
	return map[string]any{
		"role":        string(p.Role),
		"roles":       roleStrings(p.Roles),
		"permissions": permissionStrings(p.Permissions),
	}
}

func statusSnapshot(p auth.Profile) map[string]any {
	if p.OwnerID == "" {
		return nil
	}
	return map[string]any{"status": string(p.Status), "blocked": p.Blocked}
}

func profileView(p auth.Profile) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"owner_id":    p.OwnerID,
		"role":        p.Role,
		"roles":       roleStrings(p.Roles),
		"permissions": permissionStrings(p.Permissions),
		"status":      p.Status,
		"blocked":     p.Blocked,
		"updated_at":  p.UpdatedAt,
	}
}

func roleStrings(in []auth.RoleName) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		out = append(out, string(r))
	}
	return out
}

func permissionStrings(in []auth.PermissionID) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		out = append(out, string(p))
	}
	return out
}
