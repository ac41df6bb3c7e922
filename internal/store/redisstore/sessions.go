// Package redisstore keeps sessions in Redis. Each session is a JSON value
// keyed by token hash; a per-owner set and a global expiry index back the
// bulk operations.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bazaar.org/internal/auth"
)

const (
	defaultPrefix = "bazaar:sess"
	// expired sessions stay readable this long so validation can report
	// them as expired rather than unknown; cleanup removes them sooner.
	expiryGrace = time.Hour
)

// Store implements auth.SessionStore on Redis.
type Store struct {
	client *redis.Client
	prefix string
}

var _ auth.SessionStore = (*Store)(nil)

// Config is the connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// New wraps client. An empty prefix uses the default key namespace.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

type record struct {
	ID         string    `json:"id"`
	TokenHash  string    `json:"token_hash"`
	OwnerID    string    `json:"owner_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

func (s *Store) sessionKey(hash string) string { return s.prefix + ":t:" + hash }
func (s *Store) ownerKey(owner string) string  { return s.prefix + ":o:" + owner }
func (s *Store) idKey(id string) string        { return s.prefix + ":id:" + id }
func (s *Store) expiryKey() string             { return s.prefix + ":expiry" }

func (s *Store) CreateSession(ctx context.Context, sess *auth.Session) error {
	payload, err := json.Marshal(record{
		ID: sess.ID, TokenHash: sess.TokenHash, OwnerID: sess.OwnerID,
		IssuedAt: sess.IssuedAt, ExpiresAt: sess.ExpiresAt, LastUsedAt: sess.LastUsedAt,
		IPAddress: sess.IPAddress, UserAgent: sess.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt) + expiryGrace
	if ttl <= 0 {
		ttl = expiryGrace
	}

	ok, err := s.client.SetNX(ctx, s.sessionKey(sess.TokenHash), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return auth.ErrConflict
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.idKey(sess.ID), sess.TokenHash, ttl)
		pipe.SAdd(ctx, s.ownerKey(sess.OwnerID), sess.TokenHash)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(sess.ExpiresAt.UnixMilli()), Member: sess.TokenHash})
		return nil
	})
	if err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (s *Store) SessionByTokenHash(ctx context.Context, hash string) (auth.Session, error) {
	rec, err := s.load(ctx, hash)
	if err != nil {
		return auth.Session{}, err
	}
	return auth.Session{
		ID: rec.ID, TokenHash: rec.TokenHash, OwnerID: rec.OwnerID,
		IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt, LastUsedAt: rec.LastUsedAt,
		IPAddress: rec.IPAddress, UserAgent: rec.UserAgent,
	}, nil
}

func (s *Store) load(ctx context.Context, hash string) (record, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return record{}, auth.ErrNotFound
	}
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}

// TouchSession rewrites the record with KEEPTTL. Concurrent touches may
// overwrite each other; the last writer wins.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	hash, err := s.client.Get(ctx, s.idKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	rec, err := s.load(ctx, hash)
	if errors.Is(err, auth.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	rec.LastUsedAt = at
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.SetArgs(ctx, s.sessionKey(hash), payload, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err()
}

func (s *Store) DeleteSession(ctx context.Context, hash string) error {
	rec, err := s.load(ctx, hash)
	if errors.Is(err, auth.ErrNotFound) {
		return s.client.ZRem(ctx, s.expiryKey(), hash).Err()
	}
	if err != nil {
		return err
	}
	_, err = s.removeAll(ctx, []record{rec})
	return err
}

func (s *Store) DeleteSessionsByOwner(ctx context.Context, ownerID string) (int64, error) {
	hashes, err := s.client.SMembers(ctx, s.ownerKey(ownerID)).Result()
	if err != nil {
		return 0, err
	}
	recs := make([]record, 0, len(hashes))
	for _, h := range hashes {
		rec, err := s.load(ctx, h)
		if errors.Is(err, auth.ErrNotFound) {
			rec = record{TokenHash: h, OwnerID: ownerID}
		} else if err != nil {
			return 0, err
		}
		recs = append(recs, rec)
	}
	n, err := s.removeAll(ctx, recs)
	if err != nil {
		return 0, err
	}
	return n, s.client.Del(ctx, s.ownerKey(ownerID)).Err()
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	hashes, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	recs := make([]record, 0, len(hashes))
	for _, h := range hashes {
		rec, err := s.load(ctx, h)
		if errors.Is(err, auth.ErrNotFound) {
			rec = record{TokenHash: h}
		} else if err != nil {
			return 0, err
		}
		recs = append(recs, rec)
	}
	return s.removeAll(ctx, recs)
}

// removeAll deletes recs and their index entries, returning how many
// session keys actually existed.
func (s *Store) removeAll(ctx context.Context, recs []record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	dels := make([]*redis.IntCmd, 0, len(recs))
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range recs {
			dels = append(dels, pipe.Del(ctx, s.sessionKey(rec.TokenHash)))
			if rec.ID != "" {
				pipe.Del(ctx, s.idKey(rec.ID))
			}
			if rec.OwnerID != "" {
				pipe.SRem(ctx, s.ownerKey(rec.OwnerID), rec.TokenHash)
			}
			pipe.ZRem(ctx, s.expiryKey(), rec.TokenHash)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	var n int64
	for _, cmd := range dels {
		n += cmd.Val()
	}
	return n, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
