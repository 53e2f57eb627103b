package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"login-security/internal/bucketing"
	"login-security/internal/config"
	"login-security/internal/models"
)

type fakeDeviceStore struct {
	devices map[string]*models.Device
	calls   int
}

func deviceKey(userID, fingerprint string) string {
	return userID + "/" + fingerprint
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[string]*models.Device)}
}

func (s *fakeDeviceStore) GetDevice(userBucket int, userID, fingerprint string) (*models.Device, error) {
	s.calls++
	return s.devices[deviceKey(userID, fingerprint)], nil
}

func (s *fakeDeviceStore) RegisterDevice(device *models.Device) error {
	s.devices[deviceKey(device.UserID, device.Fingerprint)] = device
	return nil
}

func (s *fakeDeviceStore) SetTrusted(userBucket int, userID, fingerprint string, trusted bool) error {
	if d := s.devices[deviceKey(userID, fingerprint)]; d != nil {
		d.IsTrusted = trusted
	}
	return nil
}

func (s *fakeDeviceStore) TouchLastLogin(userBucket int, userID, fingerprint string) error {
	return nil
}

type fakeLocationProvider struct {
	location *models.LocationData
	err      error
	calls    int
	lastRef  string
}

func (p *fakeLocationProvider) Lookup(ctx context.Context, ip, identityRef string) (*models.LocationData, error) {
	p.calls++
	p.lastRef = identityRef
	return p.location, p.err
}

type fakeBanList struct {
	banned map[string]*models.BannedCountry
	calls  int
}

func (b *fakeBanList) GetBannedCountries() (map[string]*models.BannedCountry, error) {
	b.calls++
	if b.banned == nil {
		return map[string]*models.BannedCountry{}, nil
	}
	return b.banned, nil
}

type fakeHistory struct {
	last *models.LoginEvent
	err  error
}

func (h *fakeHistory) GetLastKnownLocation(userBucket int, userID string) (*models.LoginEvent, error) {
	return h.last, h.err
}

type fakeUserReader struct {
	user *models.User
	err  error
}

func (u *fakeUserReader) GetUserByID(userID string) (*models.User, error) {
	return u.user, u.err
}

func testBuckets(t *testing.T) *bucketing.BucketingManager {
	t.Helper()
	return bucketing.NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{UserBuckets: 100, EventBuckets: 100},
	})
}

type riskFixture struct {
	aggregator *RiskAggregator
	devices    *fakeDeviceStore
	provider   *fakeLocationProvider
	bans       *fakeBanList
	history    *fakeHistory
	users      *fakeUserReader
}

func newRiskFixture(t *testing.T) *riskFixture {
	t.Helper()

	cfg := testSecurityConfig()
	buckets := testBuckets(t)

	devices := newFakeDeviceStore()
	provider := &fakeLocationProvider{}
	bans := &fakeBanList{}
	history := &fakeHistory{}
	users := &fakeUserReader{user: &models.User{UserID: "user-1"}}

	evaluator := NewLocationRiskEvaluator(provider, bans, history, users, buckets, cfg)
	registry := NewDeviceTrustRegistry(devices, buckets, evaluator, cfg)

	return &riskFixture{
		aggregator: NewRiskAggregator(registry, evaluator),
		devices:    devices,
		provider:   provider,
		bans:       bans,
		history:    history,
		users:      users,
	}
}

func defaultContext() models.SecurityContext {
	return models.SecurityContext{
		ClientIP:    "203.0.113.10",
		Fingerprint: "fp-1",
	}
}

func TestAssessKnownDeviceSameLocation(t *testing.T) {
	f := newRiskFixture(t)
	f.devices.devices[deviceKey("user-1", "fp-1")] = &models.Device{UserID: "user-1", Fingerprint: "fp-1"}
	f.provider.location = &models.LocationData{Country: "US", Region: "California", City: "San Jose"}
	f.history.last = &models.LoginEvent{Country: "US", Region: "California", City: "San Jose"}

	assessment, err := f.aggregator.Assess(context.Background(), "user-1", defaultContext(), models.RiskPolicy{})

	require.NoError(t, err)
	assert.Equal(t, 0, assessment.Score)
	assert.Empty(t, assessment.Reasons)
}

func TestAssessUnknownDeviceNewCountry(t *testing.T) {
	f := newRiskFixture(t)
	f.provider.location = &models.LocationData{Country: "DE", Region: "Berlin", City: "Berlin"}
	f.history.last = &models.LoginEvent{Country: "US", Region: "California", City: "San Jose"}

	assessment, err := f.aggregator.Assess(context.Background(), "user-1", defaultContext(), models.RiskPolicy{})

	require.NoError(t, err)
	assert.Equal(t, 70, assessment.Score)
	assert.Equal(t, []string{"new device", "new country (DE)"}, assessment.Reasons)
}

func TestAssessTierExclusive(t *testing.T) {
	f := newRiskFixture(t)
	f.devices.devices[deviceKey("user-1", "fp-1")] = &models.Device{UserID: "user-1", Fingerprint: "fp-1"}
	// Country, region, and city all differ; only the country tier may fire
	f.provider.location = &models.LocationData{Country: "DE", Region: "Berlin", City: "Berlin"}
	f.history.last = &models.LoginEvent{Country: "US", Region: "California", City: "San Jose"}

	assessment, err := f.aggregator.Assess(context.Background(), "user-1", defaultContext(), models.RiskPolicy{})

	require.NoError(t, err)
	assert.Equal(t, 40, assessment.Score)
	assert.Equal(t, []string{"new country (DE)"}, assessment.Reasons)
}

func TestAssessRegionChangeOnly(t *testing.T) {
	f := newRiskFixture(t)
	f.devices.devices[deviceKey("user-1", "fp-1")] = &models.Device{UserID: "user-1", Fingerprint: "fp-1"}
	f.provider.location = &models.LocationData{Country: "US", Region: "Oregon", City: "Portland"}
	f.history.last = &models.LoginEvent{Country: "US", Region: "California", City: "San Jose"}

	assessment, err := f.aggregator.Assess(context.Background(), "user-1", defaultContext(), models.RiskPolicy{})

	require.NoError(t, err)
	assert.Equal(t, 20, assessment.Score)
	assert.Equal(t, []string{"new region"}, assessment.Reasons)
}

func TestAssessVPNAddsToScore(t *testing.T) {
	f := newRiskFixture(t)
	f.devices.devices[deviceKey("user-1", "fp-1")] = &models.Device{UserID: "user-1", Fingerprint: "fp-1"}
	f.provider.location = &models.LocationData{Country: "US", Region: "California", City: "San Jose", IsVPN: true}
	f.history.last = &models.LoginEvent{Country: "US", Region: "California", City: "San Jose"}

	assessment, err := f.aggregator.Assess(context.Background(), "user-1", defaultContext(), models.RiskPolicy{})

	require.NoError(t, err)
	assert.Equal(t, 25, assessment.Score)
	assert.Equal(t, []string{"VPN usage detected"}, assessment.Reasons)
}

func TestAssessFirstLoginScoresZeroLocation(t *testing.T) {
	f := newRiskFixture(t)
	f.devices.devices[deviceKey("user-1", "fp-1")] = &models.Device{UserID: "user-1", Fingerprint: "fp-1"}
	f.provider.location = &models.LocationData{Country: "US", Region: "California", City: "San Jose"}
	f.history.last = nil

	assessment, err := f.aggregator.Assess(context.Background(), "user-1", defaultContext(), models.RiskPolicy{})

	require.NoError(t, err)
	assert.Equal(t, 0, assessment.Score)
}

func TestAssessBannedCountryPropagates(t *testing.T) {
	f := newRiskFixture(t)
	f.provider.location = &models.LocationData{Country: "KP"}
	f.bans.banned = map[string]*models.BannedCountry{
		"KP": {BanType: models.BanTypeCountry, Value: "KP", Reason: "sanctions"},
	}

	assessment, err := f.aggregator.Assess(context.Background(), "user-1", defaultContext(), models.RiskPolicy{})

	require.Error(t, err)
	assert.Nil(t, assessment)

	var banned *CountryBannedError
	require.ErrorAs(t, err, &banned)
	assert.Equal(t, "KP", banned.Country)
	assert.Equal(t, "sanctions", banned.Reason)
}

func TestAssessBypassSkipsAllLookups(t *testing.T) {
	f := newRiskFixture(t)

	assessment, err := f.aggregator.Assess(context.Background(), "user-1", defaultContext(), models.RiskPolicy{Bypass: true})

	require.NoError(t, err)
	assert.Equal(t, 0, assessment.Score)
	assert.Empty(t, assessment.Reasons)
	assert.Zero(t, f.provider.calls)
	assert.Zero(t, f.devices.calls)
}

func TestAssessProviderFailureScoresNothing(t *testing.T) {
	f := newRiskFixture(t)
	f.devices.devices[deviceKey("user-1", "fp-1")] = &models.Device{UserID: "user-1", Fingerprint: "fp-1"}
	f.provider.err = assert.AnError

	assessment, err := f.aggregator.Assess(context.Background(), "user-1", defaultContext(), models.RiskPolicy{})

	require.NoError(t, err)
	assert.Equal(t, 0, assessment.Score)
	assert.Nil(t, assessment.Location)
}

func TestAssessSingleProviderCall(t *testing.T) {
	f := newRiskFixture(t)
	f.provider.location = &models.LocationData{Country: "US", Region: "California", City: "San Jose", IsVPN: true}
	f.history.last = &models.LoginEvent{Country: "US", Region: "California", City: "San Jose"}

	_, err := f.aggregator.Assess(context.Background(), "user-1", defaultContext(), models.RiskPolicy{})

	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.calls, "location and VPN checks must share one fetch")
}
