package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"login-security/internal/client"
	"login-security/internal/models"
	"login-security/internal/util"
)

const otpSessionPrefix = "otp_session:"

// OTPSessionCache stores pending step-up challenges keyed by the requesting
// device, so a verification from a different device never sees the session.
type OTPSessionCache struct {
	client *client.RedisClient
}

func NewOTPSessionCache(client *client.RedisClient) *OTPSessionCache {
	return &OTPSessionCache{client: client}
}

func sessionKey(clientIP, fingerprint string) string {
	return otpSessionPrefix + clientIP + ":" + fingerprint
}

// SetSession stores the challenge with a TTL matching the code expiry, so
// Redis reclaims abandoned sessions on its own.
func (c *OTPSessionCache) SetSession(clientIP, fingerprint string, session *models.OTPSession, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP session: %w", err)
	}

	key := sessionKey(clientIP, fingerprint)
	if err := c.client.Set(ctx, key, payload, ttl); err != nil {
		util.Error("Failed to store OTP session", zap.String("client_ip", clientIP), zap.Error(err))
		return fmt.Errorf("failed to store OTP session: %w", err)
	}
	util.Debug("OTP session stored", zap.String("client_ip", clientIP), zap.Duration("ttl", ttl))
	return nil
}

// GetSession returns the pending challenge for the device, or nil when none
// exists.
func (c *OTPSessionCache) GetSession(clientIP, fingerprint string) (*models.OTPSession, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := sessionKey(clientIP, fingerprint)
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, nil
		}
		util.Error("Failed to read OTP session", zap.String("client_ip", clientIP), zap.Error(err))
		return nil, fmt.Errorf("failed to read OTP session: %w", err)
	}

	var session models.OTPSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		util.Error("Failed to decode OTP session", zap.String("client_ip", clientIP), zap.Error(err))
		return nil, fmt.Errorf("failed to decode OTP session: %w", err)
	}
	return &session, nil
}

// UpdateSession rewrites the challenge in place, preserving the remaining
// TTL so retries never extend the code's lifetime.
func (c *OTPSessionCache) UpdateSession(clientIP, fingerprint string, session *models.OTPSession) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := sessionKey(clientIP, fingerprint)
	ttl, err := c.client.TTL(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read OTP session TTL: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("OTP session already expired")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP session: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, ttl); err != nil {
		util.Error("Failed to update OTP session", zap.String("client_ip", clientIP), zap.Error(err))
		return fmt.Errorf("failed to update OTP session: %w", err)
	}
	return nil
}

// DeleteSession removes the challenge after a terminal outcome.
func (c *OTPSessionCache) DeleteSession(clientIP, fingerprint string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, sessionKey(clientIP, fingerprint)); err != nil {
		util.Error("Failed to delete OTP session", zap.String("client_ip", clientIP), zap.Error(err))
		return fmt.Errorf("failed to delete OTP session: %w", err)
	}
	return nil
}
