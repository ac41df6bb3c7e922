package tokenclient

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Credentials holds the current bearer token.
type Credentials struct {
	mu    sync.RWMutex
	token string
}

// Token returns the current token.
func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Set replaces the current token.
func (c *Credentials) Set(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// Transport attaches the current credential to every request and, on 401,
// refreshes through the Coordinator and retries the request once.
type Transport struct {
	Base        http.RoundTripper
	Credentials *Credentials
	Coordinator *Coordinator
}

// NewTransport builds a transport. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, creds *Credentials, coord *Coordinator) (*Transport, error) {
	if creds == nil || coord == nil {
		return nil, errors.New("credentials and coordinator are required")
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Credentials: creds, Coordinator: coord}, nil
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	retryOnAuthError := true
	attempt := req
	for {
		out := attempt.Clone(attempt.Context())
		if tok := t.Credentials.Token(); tok != "" {
			out.Header.Set("Authorization", "Bearer "+tok)
		}
		resp, err := t.Base.RoundTrip(out)
		if err != nil || resp.StatusCode != http.StatusUnauthorized || !retryOnAuthError {
			return resp, err
		}
		retryOnAuthError = false

		next, ok := rewind(req)
		if !ok {
			return resp, nil
		}
		if err := t.Coordinator.handleUnauthorized(req); err != nil {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		attempt = next
	}
}

// rewind returns a copy of req whose body can be sent again.
func rewind(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	next := req.Clone(req.Context())
	next.Body = body
	return next, true
}

// NewClient returns an http.Client using a Transport over base.
func NewClient(base http.RoundTripper, creds *Credentials, coord *Coordinator) (*http.Client, error) {
	tr, err := NewTransport(base, creds, coord)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: tr}, nil
}
