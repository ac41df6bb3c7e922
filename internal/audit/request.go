package audit

import (
	"net/http"
	"strings"
)

const (
	UnknownIP        = "0.0.0.0"
	UnknownUserAgent = "Unknown"
)

// Meta is the client information attached to an audit entry.
type Meta struct {
	IPAddress string
	UserAgent string
}

// RequestMeta extracts client metadata from r.
func RequestMeta(r *http.Request) Meta {
	if r == nil {
		return Meta{IPAddress: UnknownIP, UserAgent: UnknownUserAgent}
	}
	return Meta{IPAddress: ClientIP(r.Header), UserAgent: UserAgent(r.Header)}
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, and falls
// back to 0.0.0.0.
func ClientIP(h http.Header) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(h.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return UnknownIP
}

// UserAgent returns the User-Agent header or "Unknown".
func UserAgent(h http.Header) string {
	if ua := strings.TrimSpace(h.Get("User-Agent")); ua != "" {
		return ua
	}
	return UnknownUserAgent
}

// Apply copies m into e.
func (m Meta) Apply(e Entry) Entry {
	e.IPAddress = m.IPAddress
	e.UserAgent = m.UserAgent
	return e
}
