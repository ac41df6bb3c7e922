package tokenclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// authServer accepts only "Bearer <valid>" and echoes request bodies.
func authServer(t *testing.T, valid *atomic.Value, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"success":false,"error":"unauthorized","code":401}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	var valid atomic.Value
	valid.Store("fresh")
	var hits atomic.Int32
	srv := authServer(t, &valid, &hits)

	creds := &Credentials{}
	creds.Set("stale")

	const k = 10
	release := make(chan struct{})
	coord, err := NewCoordinator(func(ctx context.Context) error {
		<-release
		creds.Set("fresh")
		return nil
	}, WithRefreshTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	var events atomic.Int32
	coord.OnUnauthorized(func(Event) {
		if events.Add(1) == k {
			go func() {
				time.Sleep(50 * time.Millisecond)
				close(release)
			}()
		}
	})
	client, _ := NewClient(nil, creds, coord)

	var wg sync.WaitGroup
	statuses := make([]int, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL)
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	for i, st := range statuses {
		if st != http.StatusOK {
			t.Fatalf("request %d status = %d", i, st)
		}
	}
	if runs := coord.Runs(); runs != 1 {
		t.Fatalf("refresh ran %d times, want 1", runs)
	}
	if events.Load() != k {
		t.Fatalf("events = %d, want %d", events.Load(), k)
	}
	if hits.Load() != 2*k {
		t.Fatalf("server hits = %d, want each request sent exactly twice", hits.Load())
	}
	if coord.InFlight() {
		t.Fatal("refresh still marked in flight")
	}
}

func TestFailedRefreshReturnsOriginal401(t *testing.T) {
	var valid atomic.Value
	valid.Store("fresh")
	var hits atomic.Int32
	srv := authServer(t, &valid, &hits)

	creds := &Credentials{}
	creds.Set("stale")
	coord, _ := NewCoordinator(func(context.Context) error { return errors.New("refresh token revoked") })
	client, _ := NewClient(nil, creds, coord)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "unauthorized") {
		t.Fatalf("original body lost: %q", body)
	}
	if hits.Load() != 1 {
		t.Fatalf("request retried after failed refresh: %d hits", hits.Load())
	}
}

func TestRetryHappensOnlyOnce(t *testing.T) {
	var valid atomic.Value
	valid.Store("never-issued")
	var hits atomic.Int32
	srv := authServer(t, &valid, &hits)

	creds := &Credentials{}
	coord, _ := NewCoordinator(func(context.Context) error {
		creds.Set("still-wrong")
		return nil
	})
	client, _ := NewClient(nil, creds, coord)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if hits.Load() != 2 || coord.Runs() != 1 {
		t.Fatalf("hits=%d runs=%d, want 2 and 1", hits.Load(), coord.Runs())
	}
}

func TestRetryReplaysBody(t *testing.T) {
	var valid atomic.Value
	valid.Store("fresh")
	var hits atomic.Int32
	srv := authServer(t, &valid, &hits)

	creds := &Credentials{}
	coord, _ := NewCoordinator(func(context.Context) error {
		creds.Set("fresh")
		return nil
	})
	client, _ := NewClient(nil, creds, coord)

	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"hello":"world"}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != `{"hello":"world"}` {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

func TestRefreshTimeoutIsFailure(t *testing.T) {
	coord, _ := NewCoordinator(func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	}, WithRefreshTimeout(20*time.Millisecond))

	start := time.Now()
	err := coord.Refresh(context.Background())
	if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timed out refresh failure, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("refresh was not bounded by the timeout")
	}
}

func TestRefreshSurvivesCallerCancellation(t *testing.T) {
	started := make(chan struct{})
	finish := make(chan struct{})
	coord, _ := NewCoordinator(func(ctx context.Context) error {
		close(started)
		select {
		case <-finish:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- coord.Refresh(ctx) }()
	<-started
	cancel()
	close(finish)
	if err := <-errCh; err != nil {
		t.Fatalf("refresh aborted by caller cancellation: %v", err)
	}
}
