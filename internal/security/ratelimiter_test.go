package security

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"login-security/internal/config"
	"login-security/internal/models"
)

type fakeAttemptStore struct {
	attempts map[string][]time.Time
	locks    map[string]time.Time
	failAll  bool
	failLock bool
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{
		attempts: make(map[string][]time.Time),
		locks:    make(map[string]time.Time),
	}
}

var errStoreDown = errors.New("store unavailable")

func (s *fakeAttemptStore) RecordAttempt(identifier string, at time.Time, window time.Duration) error {
	if s.failAll {
		return errStoreDown
	}
	s.attempts[identifier] = append([]time.Time{at}, s.attempts[identifier]...)
	return nil
}

func (s *fakeAttemptStore) GetAttempts(identifier string) ([]time.Time, error) {
	if s.failAll {
		return nil, errStoreDown
	}
	return s.attempts[identifier], nil
}

func (s *fakeAttemptStore) ReplaceAttempts(identifier string, attempts []time.Time, window time.Duration) error {
	if s.failAll {
		return errStoreDown
	}
	s.attempts[identifier] = attempts
	return nil
}

func (s *fakeAttemptStore) ClearAttempts(identifier string) error {
	if s.failAll {
		return errStoreDown
	}
	delete(s.attempts, identifier)
	return nil
}

func (s *fakeAttemptStore) SetLock(identifier string, lockedUntil time.Time, lockout time.Duration) error {
	if s.failAll || s.failLock {
		return errStoreDown
	}
	s.locks[identifier] = lockedUntil
	return nil
}

func (s *fakeAttemptStore) GetLock(identifier string) (time.Time, error) {
	if s.failAll {
		return time.Time{}, errStoreDown
	}
	return s.locks[identifier], nil
}

func (s *fakeAttemptStore) ClearLock(identifier string) error {
	if s.failAll {
		return errStoreDown
	}
	delete(s.locks, identifier)
	return nil
}

func testSecurityConfig() *config.SecurityConfig {
	return &config.SecurityConfig{
		MaxLoginAttempts:       5,
		AttemptWindowSeconds:   3600,
		LockoutDurationSeconds: 900,
		RiskScores: config.RiskScores{
			NewDevice:     30,
			CountryChange: 40,
			RegionChange:  20,
			CityChange:    10,
			VPNUsage:      25,
		},
		StepUpThreshold:   50,
		OTPExpiration:     5 * time.Minute,
		OTPMaxAttempts:    3,
		OTPCodeLength:     6,
		RestrictedRegions: []string{"New York"},
	}
}

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	store := newFakeAttemptStore()
	rl := NewIdentifierRateLimiter(store, testSecurityConfig())

	for i := 0; i < 5; i++ {
		result := rl.Check("user@test.com", models.RiskPolicy{})
		assert.True(t, result.Allowed, "attempt %d should be allowed", i+1)
	}
}

func TestRateLimiterBlocksSixthAttempt(t *testing.T) {
	store := newFakeAttemptStore()
	rl := NewIdentifierRateLimiter(store, testSecurityConfig())

	var result RateLimitResult
	for i := 0; i < 6; i++ {
		result = rl.Check("user@test.com", models.RiskPolicy{})
	}

	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "too many")
	assert.False(t, store.locks["user@test.com"].IsZero(), "lockout should be persisted")
}

func TestRateLimiterLockoutExpires(t *testing.T) {
	store := newFakeAttemptStore()
	cfg := testSecurityConfig()
	rl := NewIdentifierRateLimiter(store, cfg)

	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 6; i++ {
		rl.Check("user@test.com", models.RiskPolicy{})
	}
	result := rl.Check("user@test.com", models.RiskPolicy{})
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Reason, "locked")

	// Jump past the lockout and the attempt window
	now = now.Add(time.Duration(cfg.AttemptWindowSeconds+1) * time.Second)

	result = rl.Check("user@test.com", models.RiskPolicy{})
	assert.True(t, result.Allowed, "expired lockout should clear itself")
	assert.True(t, store.locks["user@test.com"].IsZero())
}

func TestRateLimiterPrunesStaleAttempts(t *testing.T) {
	store := newFakeAttemptStore()
	cfg := testSecurityConfig()
	rl := NewIdentifierRateLimiter(store, cfg)

	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		rl.Check("user@test.com", models.RiskPolicy{})
	}

	now = now.Add(time.Duration(cfg.AttemptWindowSeconds+1) * time.Second)

	for i := 0; i < 5; i++ {
		result := rl.Check("user@test.com", models.RiskPolicy{})
		assert.True(t, result.Allowed, "stale attempts must not count against the window")
	}
	assert.Len(t, store.attempts["user@test.com"], 5)
}

func TestRateLimiterBypassSkipsRecording(t *testing.T) {
	store := newFakeAttemptStore()
	rl := NewIdentifierRateLimiter(store, testSecurityConfig())

	result := rl.Check("user@test.com", models.RiskPolicy{Bypass: true})

	assert.True(t, result.Allowed)
	assert.Empty(t, store.attempts)
}

func TestRateLimiterNormalizesIdentifier(t *testing.T) {
	store := newFakeAttemptStore()
	rl := NewIdentifierRateLimiter(store, testSecurityConfig())

	rl.Check("User@Test.COM", models.RiskPolicy{})
	rl.Check("user@test.com ", models.RiskPolicy{})

	assert.Len(t, store.attempts["user@test.com"], 2)
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	store := newFakeAttemptStore()
	store.failAll = true
	rl := NewIdentifierRateLimiter(store, testSecurityConfig())

	result := rl.Check("user@test.com", models.RiskPolicy{})
	assert.True(t, result.Allowed, "store outage must not block logins")
}

func TestRateLimiterLockWriteFailureStillBlocks(t *testing.T) {
	store := newFakeAttemptStore()
	store.failLock = true
	rl := NewIdentifierRateLimiter(store, testSecurityConfig())

	var result RateLimitResult
	for i := 0; i < 6; i++ {
		result = rl.Check("user@test.com", models.RiskPolicy{})
	}

	assert.False(t, result.Allowed, "exceeded threshold blocks even when the lock write fails")
}

func TestRateLimiterClearIsIdempotent(t *testing.T) {
	store := newFakeAttemptStore()
	rl := NewIdentifierRateLimiter(store, testSecurityConfig())

	for i := 0; i < 3; i++ {
		rl.Check("user@test.com", models.RiskPolicy{})
	}

	require.NoError(t, rl.Clear("user@test.com"))
	require.NoError(t, rl.Clear("user@test.com"))

	assert.Empty(t, store.attempts)
	assert.Empty(t, store.locks)
}
