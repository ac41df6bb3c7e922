package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"bazaar.org/internal/audit"
	"bazaar.org/internal/auth"
	"bazaar.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errMissingToken = errors.New("missing bearer token")

// withAuth authenticates the bearer token and stores the principal, the raw
// token and the client metadata on the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.AuthDecision("http", "missing_token")
			unauthorized(w, r, err.Error())
			return
		}

		principal, err := a.authn.Authenticate(r.Context(), token)
		if err != nil {
			obs.AuthDecision("http", "unauthenticated")
			a.log.Debug().Err(err).
				Str("request_id", audit.RequestIDFromContext(r.Context())).
				Msg("authentication failed")
			unauthorized(w, r, "invalid or expired credentials")
			return
		}
		obs.AuthDecision("http", "authenticated")

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = auth.ContextWithClientMeta(ctx, clientMeta(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// gate admits principals passing check and audits everyone it turns away.
func (a *API) gate(name string, check func(auth.Principal) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				unauthorized(w, r, errMissingToken.Error())
				return
			}
			if err := check(principal); err != nil {
				obs.AuthDecision("http", "forbidden")
				a.record(r, audit.Entry{
					ActorID:      principal.IdentityID,
					Action:       "access.denied",
					Resource:     name,
					ErrorMessage: err.Error(),
					NewValue: map[string]any{
						"method": r.Method,
						"path":   r.URL.Path,
						"role":   string(principal.Role),
					},
				})
				writeError(w, r, http.StatusForbidden, "forbidden", "insufficient privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requirePermission(id auth.PermissionID) func(auth.Principal) error {
	return func(p auth.Principal) error { return auth.RequirePermission(p, id) }
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="bazaar"`)
	writeError(w, r, http.StatusUnauthorized, "unauthenticated", msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

// clientMeta converts request metadata to session metadata. The audit
// sentinels become empty values, which the session manager treats as unknown.
func clientMeta(r *http.Request) auth.ClientMeta {
	m := audit.RequestMeta(r)
	meta := auth.ClientMeta{IPAddress: m.IPAddress, UserAgent: m.UserAgent}
	if meta.IPAddress == audit.UnknownIP {
		meta.IPAddress = ""
	}
	if meta.UserAgent == audit.UnknownUserAgent {
		meta.UserAgent = ""
	}
	return meta
}

// record writes an audit entry stamped with the request's client metadata.
// Sink failures are logged by the audit logger and never fail the request.
func (a *API) record(r *http.Request, e audit.Entry) {
	e = audit.RequestMeta(r).Apply(e)
	_, _ = a.audit.Record(r.Context(), e)
}
