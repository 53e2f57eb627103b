package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"login-security/internal/models"
)

func testSession() *models.OTPSession {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.OTPSession{
		UserID:        "user-1",
		CodeHash:      "hash",
		CodeSalt:      "salt",
		PepperVersion: 1,
		Expiration:    now.Add(5 * time.Minute),
		Attempts:      0,
		MaskedContact: "ja***@example.com",
		CreatedAt:     now,
	}
}

func TestOTPSessionRoundTrip(t *testing.T) {
	redisClient, _ := newTestClient(t)
	cache := NewOTPSessionCache(redisClient)

	session := testSession()
	require.NoError(t, cache.SetSession("203.0.113.10", "fp-1", session, 5*time.Minute))

	got, err := cache.GetSession("203.0.113.10", "fp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.UserID, got.UserID)
	assert.Equal(t, session.CodeHash, got.CodeHash)
	assert.Equal(t, session.MaskedContact, got.MaskedContact)
	assert.True(t, session.Expiration.Equal(got.Expiration))
}

func TestOTPSessionMissingReturnsNil(t *testing.T) {
	redisClient, _ := newTestClient(t)
	cache := NewOTPSessionCache(redisClient)

	got, err := cache.GetSession("203.0.113.10", "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOTPSessionKeyedByDevice(t *testing.T) {
	redisClient, _ := newTestClient(t)
	cache := NewOTPSessionCache(redisClient)

	require.NoError(t, cache.SetSession("203.0.113.10", "fp-1", testSession(), 5*time.Minute))

	got, err := cache.GetSession("203.0.113.10", "fp-2")
	require.NoError(t, err)
	assert.Nil(t, got, "a different fingerprint must not see the session")

	got, err = cache.GetSession("198.51.100.7", "fp-1")
	require.NoError(t, err)
	assert.Nil(t, got, "a different IP must not see the session")
}

func TestOTPSessionUpdatePreservesTTL(t *testing.T) {
	redisClient, mr := newTestClient(t)
	cache := NewOTPSessionCache(redisClient)

	session := testSession()
	require.NoError(t, cache.SetSession("203.0.113.10", "fp-1", session, 5*time.Minute))

	mr.FastForward(2 * time.Minute)

	session.Attempts = 2
	require.NoError(t, cache.UpdateSession("203.0.113.10", "fp-1", session))

	got, err := cache.GetSession("203.0.113.10", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)

	ttl := mr.TTL("otp_session:203.0.113.10:fp-1")
	assert.LessOrEqual(t, ttl, 3*time.Minute, "update must not extend the code lifetime")
	assert.Greater(t, ttl, time.Duration(0))
}

func TestOTPSessionUpdateExpiredFails(t *testing.T) {
	redisClient, mr := newTestClient(t)
	cache := NewOTPSessionCache(redisClient)

	session := testSession()
	require.NoError(t, cache.SetSession("203.0.113.10", "fp-1", session, time.Second))

	mr.FastForward(2 * time.Second)

	err := cache.UpdateSession("203.0.113.10", "fp-1", session)
	assert.Error(t, err)
}

func TestOTPSessionDelete(t *testing.T) {
	redisClient, _ := newTestClient(t)
	cache := NewOTPSessionCache(redisClient)

	require.NoError(t, cache.SetSession("203.0.113.10", "fp-1", testSession(), 5*time.Minute))
	require.NoError(t, cache.DeleteSession("203.0.113.10", "fp-1"))
	require.NoError(t, cache.DeleteSession("203.0.113.10", "fp-1"))

	got, err := cache.GetSession("203.0.113.10", "fp-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOTPSessionExpiresNaturally(t *testing.T) {
	redisClient, mr := newTestClient(t)
	cache := NewOTPSessionCache(redisClient)

	require.NoError(t, cache.SetSession("203.0.113.10", "fp-1", testSession(), time.Second))

	mr.FastForward(2 * time.Second)

	got, err := cache.GetSession("203.0.113.10", "fp-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
