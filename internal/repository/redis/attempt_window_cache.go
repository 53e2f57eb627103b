package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"login-security/internal/client"
	"login-security/internal/util"
)

const (
	loginAttemptsPrefix = "login_attempts:"
	loginLockPrefix     = "login_lock:"
)

// AttemptWindowCache keeps the sliding window of failed-login timestamps and
// the lockout marker for each login identifier. Timestamps are stored as
// epoch-millis strings in a Redis list, newest first.
type AttemptWindowCache struct {
	client *client.RedisClient
}

func NewAttemptWindowCache(client *client.RedisClient) *AttemptWindowCache {
	return &AttemptWindowCache{client: client}
}

// RecordAttempt pushes a failure timestamp onto the identifier's window and
// refreshes the window TTL so idle identifiers expire on their own.
func (c *AttemptWindowCache) RecordAttempt(identifier string, at time.Time, window time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := loginAttemptsPrefix + identifier
	millis := strconv.FormatInt(at.UnixMilli(), 10)

	if err := c.client.LPush(ctx, key, millis); err != nil {
		util.Error("Failed to record login attempt", zap.String("identifier", identifier), zap.Error(err))
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	if err := c.client.Expire(ctx, key, window); err != nil {
		util.Warn("Failed to refresh attempt window TTL", zap.String("identifier", identifier), zap.Error(err))
	}
	return nil
}

// GetAttempts returns all recorded failure timestamps for the identifier.
// Entries that cannot be parsed are skipped.
func (c *AttemptWindowCache) GetAttempts(identifier string) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := loginAttemptsPrefix + identifier
	raw, err := c.client.LRange(ctx, key, 0, -1)
	if err != nil {
		util.Error("Failed to read login attempts", zap.String("identifier", identifier), zap.Error(err))
		return nil, fmt.Errorf("failed to read login attempts: %w", err)
	}

	attempts := make([]time.Time, 0, len(raw))
	for _, entry := range raw {
		millis, parseErr := strconv.ParseInt(entry, 10, 64)
		if parseErr != nil {
			util.Warn("Skipping malformed attempt entry", zap.String("identifier", identifier), zap.String("entry", entry))
			continue
		}
		attempts = append(attempts, time.UnixMilli(millis))
	}
	return attempts, nil
}

// ReplaceAttempts rewrites the window with only the given timestamps. Used
// after pruning expired entries so the list does not grow unbounded.
func (c *AttemptWindowCache) ReplaceAttempts(identifier string, attempts []time.Time, window time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := loginAttemptsPrefix + identifier

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(attempts) > 0 {
		values := make([]interface{}, 0, len(attempts))
		// LPush reverses order, so push oldest first to keep newest at head
		for i := len(attempts) - 1; i >= 0; i-- {
			values = append(values, strconv.FormatInt(attempts[i].UnixMilli(), 10))
		}
		pipe.LPush(ctx, key, values...)
		pipe.Expire(ctx, key, window)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to rewrite attempt window", zap.String("identifier", identifier), zap.Error(err))
		return fmt.Errorf("failed to rewrite attempt window: %w", err)
	}
	return nil
}

// ClearAttempts drops the identifier's failure window entirely.
func (c *AttemptWindowCache) ClearAttempts(identifier string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, loginAttemptsPrefix+identifier); err != nil {
		util.Error("Failed to clear login attempts", zap.String("identifier", identifier), zap.Error(err))
		return fmt.Errorf("failed to clear login attempts: %w", err)
	}
	return nil
}

// SetLock marks the identifier locked until lockedUntil. The key value holds
// the expiry as epoch millis so callers can report the remaining duration.
func (c *AttemptWindowCache) SetLock(identifier string, lockedUntil time.Time, lockout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := loginLockPrefix + identifier
	millis := strconv.FormatInt(lockedUntil.UnixMilli(), 10)

	if err := c.client.Set(ctx, key, millis, lockout); err != nil {
		util.Error("Failed to set login lockout", zap.String("identifier", identifier), zap.Error(err))
		return fmt.Errorf("failed to set login lockout: %w", err)
	}
	util.Info("Login identifier locked out",
		zap.String("identifier", identifier),
		zap.Time("locked_until", lockedUntil),
	)
	return nil
}

// GetLock returns the lockout expiry for the identifier, or a zero time when
// no lockout is active.
func (c *AttemptWindowCache) GetLock(identifier string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := loginLockPrefix + identifier
	value, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return time.Time{}, nil
		}
		util.Error("Failed to read login lockout", zap.String("identifier", identifier), zap.Error(err))
		return time.Time{}, fmt.Errorf("failed to read login lockout: %w", err)
	}

	millis, parseErr := strconv.ParseInt(value, 10, 64)
	if parseErr != nil {
		// Malformed marker; treat as locked for the key's remaining TTL
		ttl, ttlErr := c.client.TTL(ctx, key)
		if ttlErr != nil || ttl <= 0 {
			return time.Time{}, nil
		}
		return time.Now().Add(ttl), nil
	}
	return time.UnixMilli(millis), nil
}

// ClearLock removes an active lockout, typically after manual review.
func (c *AttemptWindowCache) ClearLock(identifier string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, loginLockPrefix+identifier); err != nil {
		util.Error("Failed to clear login lockout", zap.String("identifier", identifier), zap.Error(err))
		return fmt.Errorf("failed to clear login lockout: %w", err)
	}
	return nil
}
