// Package tokenclient coordinates credential refresh for HTTP clients of the
// API. Concurrent requests that hit 401 share a single refresh, and each
// request is retried at most once.
package tokenclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrRefreshFailed reports that no new credential could be obtained.
var ErrRefreshFailed = errors.New("tokenclient: refresh failed")

const (
	defaultRefreshTimeout = 5 * time.Second
	refreshKey            = "refresh"
)

// RefreshFunc obtains a new credential and stores it where the Transport
// will read it, typically Credentials.Set.
type RefreshFunc func(ctx context.Context) error

// Event is emitted when a request is rejected with 401, before any refresh.
type Event struct {
	Method string
	URL    string
	At     time.Time
}

// Coordinator owns the refresh state for one client. It is safe for
// concurrent use; create one per credential.
type Coordinator struct {
	refresh RefreshFunc
	timeout time.Duration

	group    singleflight.Group
	inFlight atomic.Bool
	runs     atomic.Int64

	mu        sync.RWMutex
	listeners []func(Event)
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithRefreshTimeout bounds a single refresh attempt.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewCoordinator builds a coordinator around refresh.
func NewCoordinator(refresh RefreshFunc, opts ...Option) (*Coordinator, error) {
	if refresh == nil {
		return nil, errors.New("refresh func is required")
	}
	c := &Coordinator{refresh: refresh, timeout: defaultRefreshTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OnUnauthorized registers fn to be called for every 401 seen by a Transport.
func (c *Coordinator) OnUnauthorized(fn func(Event)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Coordinator) emit(ev Event) {
	c.mu.RLock()
	listeners := append(([]func(Event))(nil), c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Refresh starts a refresh, or joins the one already running, and waits for
// its outcome. Every caller that joins the same refresh gets the same
// result. A started refresh is not cancelled when a caller's context is;
// it is bounded by the refresh timeout instead.
func (c *Coordinator) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do(refreshKey, func() (any, error) {
		c.inFlight.Store(true)
		defer c.inFlight.Store(false)
		c.runs.Add(1)

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- c.refresh(rctx) }()
		select {
		case err := <-done:
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
			}
			return nil, nil
		case <-rctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, rctx.Err())
		}
	})
	return err
}

// InFlight reports whether a refresh is currently running.
func (c *Coordinator) InFlight() bool { return c.inFlight.Load() }

// Runs reports how many refreshes have actually been started.
func (c *Coordinator) Runs() int64 { return c.runs.Load() }

// handleUnauthorized emits the event and then joins the refresh.
func (c *Coordinator) handleUnauthorized(req *http.Request) error {
	c.emit(Event{Method: req.Method, URL: req.URL.String(), At: time.Now()})
	return c.Refresh(req.Context())
}
