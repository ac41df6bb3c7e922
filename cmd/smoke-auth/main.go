package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"bazaar.org/internal/obs"
	"bazaar.org/internal/tokenclient"
)

const concurrency = 10

func main() {
	log := obs.New("development", "info")

	baseURL := envOr("BAZAAR_SMOKE_URL", "http://localhost:8080")
	email := os.Getenv("BAZAAR_SMOKE_EMAIL")
	password := os.Getenv("BAZAAR_SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal().Msg("BAZAAR_SMOKE_EMAIL and BAZAAR_SMOKE_PASSWORD are required")
	}

	plain := &http.Client{Timeout: 5 * time.Second}
	creds := &tokenclient.Credentials{}
	coord, err := tokenclient.NewCoordinator(func(ctx context.Context) error {
		token, err := login(ctx, plain, baseURL, email, password)
		if err != nil {
			return err
		}
		creds.Set(token)
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("coordinator")
	}
	coord.OnUnauthorized(func(ev tokenclient.Event) {
		log.Debug().Str("method", ev.Method).Str("url", ev.URL).Msg("401 observed")
	})
	client, err := tokenclient.NewClient(http.DefaultTransport, creds, coord)
	if err != nil {
		log.Fatal().Err(err).Msg("client")
	}
	client.Timeout = 10 * time.Second

	// Start from a stale credential so every request takes the refresh path.
	creds.Set("stale-token")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, baseURL+"/v1/auth/me", nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("me: status %d", resp.StatusCode)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("concurrent requests failed")
	}
	// Requests whose 401 lands after the shared refresh finished start another
	// one, so only the lower bound is fixed.
	if runs := coord.Runs(); runs < 1 || runs > concurrency {
		log.Fatal().Int64("runs", runs).Msg("unexpected refresh count")
	}

	token := creds.Token()
	resp, err := client.Post(baseURL+"/v1/auth/logout", "application/json", nil)
	if err != nil {
		log.Fatal().Err(err).Msg("logout")
	}
	resp.Body.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = plain.Do(req)
	if err != nil {
		log.Fatal().Err(err).Msg("me after logout")
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		log.Fatal().Int("status", resp.StatusCode).Msg("token still valid after logout")
	}

	log.Info().Int("requests", concurrency).Int64("refreshes", coord.Runs()).Msg("auth smoke test passed")
}

func login(ctx context.Context, client *http.Client, baseURL, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: status %d", resp.StatusCode)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.Token, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
