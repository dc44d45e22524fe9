package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked tokens until expiry.
type TokenRevoker interface {
	Revoke(token string, ttl time.Duration) error
	IsRevoked(token string) (bool, error)
}

// UserTokenRevoker is an optional capability that invalidates every token
// issued for a user at or before a cutoff time.
type UserTokenRevoker interface {
	RevokeUser(userID string, since time.Time) error
	RevokedAfter(userID string) (time.Time, error)
}

// MemoryTokenRevoker keeps revoked tokens in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu      sync.Mutex
	tokens  map[string]time.Time
	cutoffs map[string]time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:  make(map[string]time.Time),
		cutoffs: make(map[string]time.Time),
	}
}

// Revoke marks a token as revoked until its expiry.
func (r *MemoryTokenRevoker) Revoke(token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	r.tokens[token] = time.Now().Add(ttl)
	r.mu.Unlock()
	return nil
}

// IsRevoked checks if the token is revoked.
func (r *MemoryTokenRevoker) IsRevoked(token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[token]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.tokens, token)
		return false, nil
	}
	return true, nil
}

// RevokeUser invalidates all tokens for a user issued at or before since.
func (r *MemoryTokenRevoker) RevokeUser(userID string, since time.Time) error {
	r.mu.Lock()
	if existing, ok := r.cutoffs[userID]; !ok || since.After(existing) {
		r.cutoffs[userID] = since.UTC()
	}
	r.mu.Unlock()
	return nil
}

// RevokedAfter returns the user's revocation cutoff, zero when none is set.
func (r *MemoryTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	r.mu.Lock()
	cutoff := r.cutoffs[userID]
	r.mu.Unlock()
	return cutoff, nil
}

// RedisTokenRevoker stores revoked tokens in Redis with TTL.
type RedisTokenRevoker struct {
	client    *redis.Client
	userTTL   time.Duration
	opTimeout time.Duration
}

// NewRedisTokenRevoker builds a revoker on a shared Redis client.
// userTTL bounds how long per-user revocation cutoffs are kept; it should
// be at least the access token lifetime.
func NewRedisTokenRevoker(client *redis.Client, userTTL time.Duration) *RedisTokenRevoker {
	if userTTL <= 0 {
		userTTL = 24 * time.Hour
	}
	return &RedisTokenRevoker{
		client:    client,
		userTTL:   userTTL,
		opTimeout: 3 * time.Second,
	}
}

// Revoke marks a token as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()
	return r.client.Set(ctx, revocationKey(token), "1", ttl).Err()
}

// IsRevoked checks if the token is revoked.
func (r *RedisTokenRevoker) IsRevoked(token string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

// RevokeUser invalidates all tokens for a user issued at or before since.
func (r *RedisTokenRevoker) RevokeUser(userID string, since time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()
	value := strconv.FormatInt(since.UTC().UnixNano(), 10)
	// Keep the latest cutoff when revocations race.
	existing, err := r.client.Get(ctx, userRevocationKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if err == nil {
		if prev, parseErr := strconv.ParseInt(existing, 10, 64); parseErr == nil && prev >= since.UTC().UnixNano() {
			return nil
		}
	}
	return r.client.Set(ctx, userRevocationKey(userID), value, r.userTTL).Err()
}

// RevokedAfter returns the user's revocation cutoff, zero when none is set.
func (r *RedisTokenRevoker) RevokedAfter(userID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()
	raw, err := r.client.Get(ctx, userRevocationKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

func revocationKey(token string) string {
	return "revoked:" + token
}

func userRevocationKey(userID string) string {
	return "revoked_user:" + userID
}
