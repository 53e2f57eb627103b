package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"login-security/internal/models"
)

func newRegistryFixture(t *testing.T) (*DeviceTrustRegistry, *fakeDeviceStore, *fakeLocationProvider, *fakeHistory) {
	t.Helper()

	cfg := testSecurityConfig()
	buckets := testBuckets(t)
	devices := newFakeDeviceStore()
	provider := &fakeLocationProvider{}
	history := &fakeHistory{}
	users := &fakeUserReader{user: &models.User{UserID: "user-1"}}

	evaluator := NewLocationRiskEvaluator(provider, &fakeBanList{}, history, users, buckets, cfg)
	return NewDeviceTrustRegistry(devices, buckets, evaluator, cfg), devices, provider, history
}

func TestCheckDeviceUnknownScores(t *testing.T) {
	registry, _, _, _ := newRegistryFixture(t)

	score, reason := registry.CheckDevice("user-1", "fp-1")

	assert.Equal(t, 30, score)
	assert.Equal(t, "new device", reason)
}

func TestCheckDeviceKnownRegardlessOfMetadata(t *testing.T) {
	registry, store, _, _ := newRegistryFixture(t)
	store.devices[deviceKey("user-1", "fp-1")] = &models.Device{
		UserID:      "user-1",
		Fingerprint: "fp-1",
		Name:        "old name",
		OS:          "old os",
	}

	score, reason := registry.CheckDevice("user-1", "fp-1")

	assert.Zero(t, score)
	assert.Empty(t, reason)
}

func TestUpsertOnLoginCreatesTrustedDevice(t *testing.T) {
	registry, store, _, _ := newRegistryFixture(t)

	device, err := registry.UpsertOnLogin("user-1", "fp-1", models.DeviceInfo{Name: "laptop", OS: "linux"})

	require.NoError(t, err)
	assert.True(t, device.IsTrusted)
	assert.NotNil(t, device.LastVerifiedAt)
	assert.Contains(t, store.devices, deviceKey("user-1", "fp-1"))
}

func TestUpsertOnLoginPromotesUntrustedDevice(t *testing.T) {
	registry, store, _, _ := newRegistryFixture(t)
	store.devices[deviceKey("user-1", "fp-1")] = &models.Device{
		UserID:      "user-1",
		Fingerprint: "fp-1",
		IsTrusted:   false,
	}

	device, err := registry.UpsertOnLogin("user-1", "fp-1", models.DeviceInfo{})

	require.NoError(t, err)
	assert.True(t, device.IsTrusted)
	assert.NotNil(t, device.LastVerifiedAt)
	assert.True(t, store.devices[deviceKey("user-1", "fp-1")].IsTrusted)
}

func TestRegisterWithVerificationTrustsCleanLocation(t *testing.T) {
	registry, _, provider, history := newRegistryFixture(t)
	provider.location = &models.LocationData{Country: "US", Region: "California", City: "San Jose"}
	history.last = &models.LoginEvent{Country: "US", Region: "California", City: "San Jose"}

	device, err := registry.RegisterWithVerification(context.Background(), "user-1", "fp-1", "203.0.113.10", models.DeviceInfo{})

	require.NoError(t, err)
	assert.True(t, device.IsTrusted)
}

func TestRegisterWithVerificationFallsBackUntrusted(t *testing.T) {
	registry, store, provider, _ := newRegistryFixture(t)
	provider.err = assert.AnError

	device, err := registry.RegisterWithVerification(context.Background(), "user-1", "fp-1", "203.0.113.10", models.DeviceInfo{})

	require.NoError(t, err, "verification failure never fails the registration")
	assert.False(t, device.IsTrusted)
	assert.Contains(t, store.devices, deviceKey("user-1", "fp-1"))
}
