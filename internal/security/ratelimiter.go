package security

import (
	"time"

	"go.uber.org/zap"

	"login-security/internal/config"
	"login-security/internal/hashing"
	"login-security/internal/models"
	"login-security/internal/util"
)

// AttemptStore is the slice of the counter store the rate limiter needs.
type AttemptStore interface {
	RecordAttempt(identifier string, at time.Time, window time.Duration) error
	GetAttempts(identifier string) ([]time.Time, error)
	ReplaceAttempts(identifier string, attempts []time.Time, window time.Duration) error
	ClearAttempts(identifier string) error
	SetLock(identifier string, lockedUntil time.Time, lockout time.Duration) error
	GetLock(identifier string) (time.Time, error)
	ClearLock(identifier string) error
}

// RateLimitResult is the rate limiter's decision for one attempt.
type RateLimitResult struct {
	Allowed bool
	Reason  string
}

// IdentifierRateLimiter enforces a sliding-window attempt limit and a
// lockout per normalized login identifier. A store outage must never lock
// every user out, so read and record failures allow the attempt; only the
// already-made lockout decision survives a failed lock write.
type IdentifierRateLimiter struct {
	store       AttemptStore
	maxAttempts int
	window      time.Duration
	lockout     time.Duration
	now         func() time.Time
}

func NewIdentifierRateLimiter(store AttemptStore, cfg *config.SecurityConfig) *IdentifierRateLimiter {
	return &IdentifierRateLimiter{
		store:       store,
		maxAttempts: cfg.MaxLoginAttempts,
		window:      time.Duration(cfg.AttemptWindowSeconds) * time.Second,
		lockout:     time.Duration(cfg.LockoutDurationSeconds) * time.Second,
		now:         time.Now,
	}
}

// Check records the attempt and decides whether it may proceed. A bypass
// policy returns allowed without recording anything.
func (rl *IdentifierRateLimiter) Check(identifier string, policy models.RiskPolicy) RateLimitResult {
	if policy.Bypass {
		return RateLimitResult{Allowed: true}
	}

	identifier = hashing.NormalizeIdentifier(identifier)
	now := rl.now()

	lockedUntil, err := rl.store.GetLock(identifier)
	if err != nil {
		if absorb("rate_limit_check", err) {
			return RateLimitResult{Allowed: true}
		}
	}
	if !lockedUntil.IsZero() {
		if now.Before(lockedUntil) {
			return RateLimitResult{Allowed: false, Reason: "account temporarily locked"}
		}
		// Lock expired but the key outlived its TTL; clean it up
		if err := rl.store.ClearLock(identifier); err != nil {
			absorb("rate_limit_check", err)
		}
	}

	if err := rl.store.RecordAttempt(identifier, now, rl.window); err != nil {
		if absorb("rate_limit_record", err) {
			return RateLimitResult{Allowed: true}
		}
	}

	attempts, err := rl.store.GetAttempts(identifier)
	if err != nil {
		if absorb("rate_limit_check", err) {
			return RateLimitResult{Allowed: true}
		}
	}

	cutoff := now.Add(-rl.window)
	live := attempts[:0]
	pruned := false
	for _, at := range attempts {
		if at.After(cutoff) {
			live = append(live, at)
		} else {
			pruned = true
		}
	}
	if pruned {
		if err := rl.store.ReplaceAttempts(identifier, live, rl.window); err != nil {
			absorb("rate_limit_record", err)
		}
	}

	if len(live) > rl.maxAttempts {
		lockedUntil := now.Add(rl.lockout)
		if err := rl.store.SetLock(identifier, lockedUntil, rl.lockout); err != nil {
			// The threshold was already exceeded; a failed lock write does
			// not reopen the door
			util.Error("Failed to persist lockout, decision stands",
				zap.String("identifier", identifier),
				zap.Error(err))
		}
		util.Warn("Login identifier exceeded attempt limit",
			zap.String("identifier", identifier),
			zap.Int("attempts", len(live)),
			zap.Int("max_attempts", rl.maxAttempts))
		return RateLimitResult{Allowed: false, Reason: "too many login attempts"}
	}

	return RateLimitResult{Allowed: true}
}

// Clear drops the attempt window and any lockout for the identifier.
// Invoked on successful login; safe to call when neither key exists.
func (rl *IdentifierRateLimiter) Clear(identifier string) error {
	identifier = hashing.NormalizeIdentifier(identifier)

	if err := rl.store.ClearAttempts(identifier); err != nil {
		return err
	}
	return rl.store.ClearLock(identifier)
}
