package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"login-security/internal/models"
)

func newEvaluatorFixture(t *testing.T) (*LocationRiskEvaluator, *fakeLocationProvider, *fakeBanList, *fakeHistory, *fakeUserReader) {
	t.Helper()

	provider := &fakeLocationProvider{}
	bans := &fakeBanList{}
	history := &fakeHistory{}
	users := &fakeUserReader{user: &models.User{UserID: "user-1"}}

	evaluator := NewLocationRiskEvaluator(provider, bans, history, users, testBuckets(t), testSecurityConfig())
	return evaluator, provider, bans, history, users
}

func TestGetCurrentLocationStandardLookup(t *testing.T) {
	evaluator, provider, _, _, _ := newEvaluatorFixture(t)
	provider.location = &models.LocationData{Country: "US"}

	location, err := evaluator.GetCurrentLocation(context.Background(), "user-1", "203.0.113.10")

	require.NoError(t, err)
	require.NotNil(t, location)
	assert.Equal(t, "US", location.Country)
	assert.Empty(t, provider.lastRef)
}

func TestGetCurrentLocationIdentityBound(t *testing.T) {
	evaluator, provider, _, _, users := newEvaluatorFixture(t)
	users.user = &models.User{
		UserID:              "user-1",
		IdentityStatus:      models.IdentityStatusApproved,
		IdentityProviderRef: "kyc-ref-42",
	}
	provider.location = &models.LocationData{Country: "US"}

	_, err := evaluator.GetCurrentLocation(context.Background(), "user-1", "203.0.113.10")

	require.NoError(t, err)
	assert.Equal(t, "kyc-ref-42", provider.lastRef)
}

func TestGetCurrentLocationApprovedWithoutRef(t *testing.T) {
	evaluator, provider, _, _, users := newEvaluatorFixture(t)
	users.user = &models.User{
		UserID:         "user-1",
		IdentityStatus: models.IdentityStatusApproved,
	}

	location, err := evaluator.GetCurrentLocation(context.Background(), "user-1", "203.0.113.10")

	require.NoError(t, err)
	assert.Nil(t, location, "unverifiable identity yields no data")
	assert.Zero(t, provider.calls)
}

func TestGetCurrentLocationBanUsesDefaultReason(t *testing.T) {
	evaluator, provider, bans, _, _ := newEvaluatorFixture(t)
	provider.location = &models.LocationData{Country: "IR"}
	bans.banned = map[string]*models.BannedCountry{
		"IR": {BanType: models.BanTypeCountry, Value: "IR"},
	}

	_, err := evaluator.GetCurrentLocation(context.Background(), "user-1", "203.0.113.10")

	var banned *CountryBannedError
	require.ErrorAs(t, err, &banned)
	assert.Equal(t, "IR", banned.Country)
	assert.Equal(t, "regulatory restriction", banned.Reason)
}

func TestGetCurrentLocationProviderErrorAbsorbed(t *testing.T) {
	evaluator, provider, _, _, _ := newEvaluatorFixture(t)
	provider.err = assert.AnError

	location, err := evaluator.GetCurrentLocation(context.Background(), "user-1", "203.0.113.10")

	require.NoError(t, err)
	assert.Nil(t, location)
}

func TestCheckLocationNilCurrent(t *testing.T) {
	evaluator, _, _, _, _ := newEvaluatorFixture(t)

	score, reason := evaluator.CheckLocation("user-1", nil)

	assert.Zero(t, score)
	assert.Empty(t, reason)
}

func TestCheckLocationCityTier(t *testing.T) {
	evaluator, _, _, history, _ := newEvaluatorFixture(t)
	history.last = &models.LoginEvent{Country: "US", Region: "California", City: "San Jose"}

	score, reason := evaluator.CheckLocation("user-1", &models.LocationData{
		Country: "US", Region: "California", City: "Oakland",
	})

	assert.Equal(t, 10, score)
	assert.Equal(t, "new city", reason)
}

func TestCheckLocationHistoryErrorAbsorbed(t *testing.T) {
	evaluator, _, _, history, _ := newEvaluatorFixture(t)
	history.err = assert.AnError

	score, reason := evaluator.CheckLocation("user-1", &models.LocationData{Country: "DE"})

	assert.Zero(t, score)
	assert.Empty(t, reason)
}

func TestCheckVPN(t *testing.T) {
	evaluator, _, _, _, _ := newEvaluatorFixture(t)

	score, reason := evaluator.CheckVPN(&models.LocationData{IsVPN: true})
	assert.Equal(t, 25, score)
	assert.Equal(t, "VPN usage detected", reason)

	score, reason = evaluator.CheckVPN(&models.LocationData{})
	assert.Zero(t, score)
	assert.Empty(t, reason)

	score, reason = evaluator.CheckVPN(nil)
	assert.Zero(t, score)
	assert.Empty(t, reason)
}
