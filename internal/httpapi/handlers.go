package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"bazaar.org/internal/audit"
	"bazaar.org/internal/auth"
	"bazaar.org/internal/obs"
	"bazaar.org/internal/stream"
)

// ReadyProbe reports whether backing stores are reachable.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP layer is built from.
type Deps struct {
	Authenticator *auth.Authenticator
	Sessions      *auth.SessionManager
	Profiles      *auth.ProfileService
	Passwords     *auth.PasswordChecker
	Audit         *audit.Logger
	AuditReader   audit.Reader
	AuditStream   *stream.Hub
	Ready         ReadyProbe
	Logger        zerolog.Logger
	Version       string

	MaxBodyBytes   int64
	AllowOrigins   []string
	LoginBurst     int
	LoginPerSecond float64
}

// API is the HTTP layer.
type API struct {
	router      chi.Router
	authn       *auth.Authenticator
	sessions    *auth.SessionManager
	profiles    *auth.ProfileService
	passwords   *auth.PasswordChecker
	audit       *audit.Logger
	auditReader audit.Reader
	stream      *stream.Hub
	ready       ReadyProbe
	log         zerolog.Logger
	version     string
	now         func() time.Time
}

// New builds the router. Authenticator, Sessions, Profiles, Passwords and
// Audit are required.
func New(d Deps) (*API, error) {
	switch {
	case d.Authenticator == nil:
		return nil, errors.New("httpapi: authenticator is required")
	case d.Sessions == nil:
		return nil, errors.New("httpapi: session manager is required")
	case d.Profiles == nil:
		return nil, errors.New("httpapi: profile service is required")
	case d.Passwords == nil:
		return nil, errors.New("httpapi: password checker is required")
	case d.Audit == nil:
		return nil, errors.New("httpapi: audit logger is required")
	}
	a := &API{
		authn:       d.Authenticator,
		sessions:    d.Sessions,
		profiles:    d.Profiles,
		passwords:   d.Passwords,
		audit:       d.Audit,
		auditReader: d.AuditReader,
		stream:      d.AuditStream,
		ready:       d.Ready,
		log:         d.Logger,
		version:     d.Version,
		now:         time.Now,
	}

	r := chi.NewRouter()
	r.Use(RequestID, Logging(d.Logger), middleware.Recoverer, SecurityHeaders,
		CORS(d.AllowOrigins), MaxBodyBytes(d.MaxBodyBytes))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	limiter := NewRateLimiter(d.LoginBurst, d.LoginPerSecond)
	r.With(limiter.Middleware).Post("/v1/auth/login", a.login)

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Post("/v1/auth/logout", a.logout)
		r.Post("/v1/auth/logout-all", a.logoutAll)
		r.Get("/v1/auth/me", a.me)
		r.Get("/v1/auth/device-check", a.deviceCheck)
		r.Get("/v1/auth/access", a.access)

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(a.gate("admin", auth.RequireAdmin))
			r.With(a.gate("role", requirePermission(auth.PermRoleAssign))).
				Put("/profiles/{ownerID}/role", a.changeRole)
			r.With(a.gate("status", requirePermission(auth.PermUserModerate))).
				Put("/profiles/{ownerID}/status", a.setStatus)
			r.With(a.gate("sessions", requirePermission(auth.PermSessionRevoke))).
				Delete("/users/{ownerID}/sessions", a.revokeSessions)
			r.With(a.gate("sessions", requirePermission(auth.PermSessionRevoke))).
				Post("/sessions/cleanup", a.cleanupSessions)
			r.With(a.gate("audit", requirePermission(auth.PermAuditRead))).
				Get("/audit", a.recentAudit)
			r.With(a.gate("audit", requirePermission(auth.PermAuditRead))).
				Get("/audit/stream", a.auditStream)
		})

		r.With(a.gate("review", auth.RequireReviewer)).Get("/v1/review/access", a.gateProbe)
		r.With(a.gate("creator", auth.RequireCreator)).Get("/v1/creator/access", a.gateProbe)
	})

	a.router = r
	return a, nil
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "bazaar-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready.Ping(r.Context()); err != nil {
			a.log.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the failure envelope {success:false, error, code} where
// code is the HTTP status; reason carries the machine-readable slug.
func writeError(w http.ResponseWriter, r *http.Request, status int, reason, msg string) {
	payload := map[string]any{
		"success": false,
		"error":   msg,
		"code":    status,
		"reason":  reason,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// writeValidation writes {success:false, error, details} with 400.
func writeValidation(w http.ResponseWriter, r *http.Request, details map[string]string) {
	payload := map[string]any{
		"success": false,
		"error":   "validation failed",
		"details": details,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadRequest, payload)
}

// writeServiceError maps domain errors to HTTP statuses. Causes stay in logs.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, auth.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "insufficient privileges")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrSessionNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", "conflict")
	default:
		a.log.Error().Err(err).
			Str("request_id", audit.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
