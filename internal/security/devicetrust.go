package security

import (
	"context"
	"time"

	"go.uber.org/zap"

	"login-security/internal/bucketing"
	"login-security/internal/config"
	"login-security/internal/models"
	"login-security/internal/util"
)

// DeviceStore is the durable device table as the registry sees it.
type DeviceStore interface {
	GetDevice(userBucket int, userID, fingerprint string) (*models.Device, error)
	RegisterDevice(device *models.Device) error
	SetTrusted(userBucket int, userID, fingerprint string, trusted bool) error
	TouchLastLogin(userBucket int, userID, fingerprint string) error
}

// DeviceTrustRegistry recognizes (user, fingerprint) pairs and tracks their
// trust state. Recognition is keyed on the pair alone; changed metadata on a
// known fingerprint never resets trust.
type DeviceTrustRegistry struct {
	store    DeviceStore
	buckets  *bucketing.BucketingManager
	location *LocationRiskEvaluator
	scores   config.RiskScores
}

func NewDeviceTrustRegistry(store DeviceStore, buckets *bucketing.BucketingManager, location *LocationRiskEvaluator, cfg *config.SecurityConfig) *DeviceTrustRegistry {
	return &DeviceTrustRegistry{
		store:    store,
		buckets:  buckets,
		location: location,
		scores:   cfg.RiskScores,
	}
}

// Find returns the device for the pair, or nil when never seen.
func (dt *DeviceTrustRegistry) Find(userID, fingerprint string) (*models.Device, error) {
	return dt.store.GetDevice(dt.buckets.GetUserBucket(userID), userID, fingerprint)
}

// CheckDevice produces the device component of the risk score. An unknown
// fingerprint scores; a store failure scores nothing.
func (dt *DeviceTrustRegistry) CheckDevice(userID, fingerprint string) (int, string) {
	device, err := dt.Find(userID, fingerprint)
	if err != nil {
		if absorb("device_lookup", err) {
			return 0, ""
		}
	}
	if device == nil {
		return dt.scores.NewDevice, "new device"
	}
	return 0, ""
}

// UpsertOnLogin records a completed login from the device. A new fingerprint
// is created already trusted: it only reaches this point after the risk
// assessment passed or step-up verified. A known untrusted device is
// promoted and stamped.
func (dt *DeviceTrustRegistry) UpsertOnLogin(userID, fingerprint string, info models.DeviceInfo) (*models.Device, error) {
	userBucket := dt.buckets.GetUserBucket(userID)

	device, err := dt.store.GetDevice(userBucket, userID, fingerprint)
	if err != nil {
		return nil, err
	}

	if device == nil {
		now := time.Now().UTC()
		device = &models.Device{
			UserBucket:     userBucket,
			UserID:         userID,
			Fingerprint:    fingerprint,
			Name:           info.Name,
			DeviceType:     info.DeviceType,
			OS:             info.OS,
			Browser:        info.Browser,
			IsTrusted:      true,
			LastVerifiedAt: &now,
		}
		if err := dt.store.RegisterDevice(device); err != nil {
			return nil, err
		}
		return device, nil
	}

	if !device.IsTrusted {
		if err := dt.store.SetTrusted(userBucket, userID, fingerprint, true); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		device.IsTrusted = true
		device.LastVerifiedAt = &now
	}

	if err := dt.store.TouchLastLogin(userBucket, userID, fingerprint); err != nil {
		util.Warn("Failed to stamp device last login",
			zap.String("user_id", userID),
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
	}
	device.LastLogin = time.Now().UTC()

	return device, nil
}

// RegisterWithVerification registers a device outside the login flow,
// trusting it only when an out-of-band location check passes. A failed
// check falls back to an untrusted record and never fails the registration.
func (dt *DeviceTrustRegistry) RegisterWithVerification(ctx context.Context, userID, fingerprint, clientIP string, info models.DeviceInfo) (*models.Device, error) {
	userBucket := dt.buckets.GetUserBucket(userID)

	if existing, err := dt.store.GetDevice(userBucket, userID, fingerprint); err == nil && existing != nil {
		return existing, nil
	}

	trusted := false
	location, err := dt.location.GetCurrentLocation(ctx, userID, clientIP)
	if err != nil {
		util.Warn("Device verification location check failed, registering untrusted",
			zap.String("user_id", userID),
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
	} else if location != nil {
		score, _ := dt.location.CheckLocation(userID, location)
		trusted = score == 0 && !location.IsVPN
	}

	device := &models.Device{
		UserBucket:  userBucket,
		UserID:      userID,
		Fingerprint: fingerprint,
		Name:        info.Name,
		DeviceType:  info.DeviceType,
		OS:          info.OS,
		Browser:     info.Browser,
		IsTrusted:   trusted,
	}
	if trusted {
		now := time.Now().UTC()
		device.LastVerifiedAt = &now
	}

	if err := dt.store.RegisterDevice(device); err != nil {
		return nil, err
	}
	return device, nil
}
