package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bazaar.org/internal/ids"
	"bazaar.org/internal/obs"
)

// Entry is one immutable record of a privileged action.
type Entry struct {
	ID           string         `json:"id"`
	ActorID      string         `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource"`
	ResourceID   string         `json:"resource_id,omitempty"`
	OldValue     map[string]any `json:"old_value,omitempty"`
	NewValue     map[string]any `json:"new_value,omitempty"`
	IPAddress    string         `json:"ip_address"`
	UserAgent    string         `json:"user_agent"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Sink stores audit entries. Sinks only ever append.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Reader lists the most recent entries, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Logger fans entries out to every configured sink.
type Logger struct {
	sinks []Sink
	now   func() time.Time
	log   zerolog.Logger
}

// Option customizes the logger.
type Option func(*Logger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger builds a logger writing to sinks.
func NewLogger(sinks []Sink, opts ...Option) *Logger {
	l := &Logger{now: time.Now, log: obs.Logger()}
	for _, s := range sinks {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

const unknownError = "unknown error"

// Record stamps e and appends it to every sink. A failing sink does not stop
// the others; the returned entry is what was written.
func (l *Logger) Record(ctx context.Context, e Entry) (Entry, error) {
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return Entry{}, errors.New("audit: action is required")
	}
	now := l.now().UTC()
	if e.ID == "" {
		e.ID = ids.NewAt(now)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if strings.TrimSpace(e.IPAddress) == "" {
		e.IPAddress = UnknownIP
	}
	if strings.TrimSpace(e.UserAgent) == "" {
		e.UserAgent = UnknownUserAgent
	}
	if e.Success {
		e.ErrorMessage = ""
	} else if strings.TrimSpace(e.ErrorMessage) == "" {
		e.ErrorMessage = unknownError
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	e.OldValue = cloneValue(e.OldValue)
	e.NewValue = cloneValue(e.NewValue)

	var errs []error
	for _, s := range l.sinks {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		l.log.Error().Err(err).Str("action", e.Action).Str("audit_id", e.ID).Msg("audit append failed")
	}
	obs.AuditRecorded(e.Success, err == nil)
	return e, err
}

func cloneValue(v map[string]any) map[string]any {
	if v == nil {
		return nil
	}
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// LogSink writes each entry as a JSON line tagged type=audit.
type LogSink struct {
	Logger zerolog.Logger
}

// Append implements Sink.
func (s LogSink) Append(_ context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.Logger.Info().
		Str("type", "audit").
		Str("event", e.Action).
		RawJSON("entry", payload).
		Msg("audit")
	return nil
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
