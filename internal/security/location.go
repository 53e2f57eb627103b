package security

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"login-security/internal/bucketing"
	"login-security/internal/config"
	"login-security/internal/models"
	"login-security/internal/util"
)

// LocationProvider is the external IP-geolocation/KYC service.
type LocationProvider interface {
	Lookup(ctx context.Context, ip, identityRef string) (*models.LocationData, error)
}

// BanList exposes the regulatory country-ban reference data.
type BanList interface {
	GetBannedCountries() (map[string]*models.BannedCountry, error)
}

// LocationHistory resolves a user's last known location from the login
// event log.
type LocationHistory interface {
	GetLastKnownLocation(userBucket int, userID string) (*models.LoginEvent, error)
}

// IdentityReader is the slice of the user store the evaluator needs to pick
// the lookup mode.
type IdentityReader interface {
	GetUserByID(userID string) (*models.User, error)
}

// LocationRiskEvaluator resolves the current location of a login attempt,
// scores how far it moved from the last known one, and enforces the
// compliance country-ban list. Provider failures are treated as no data;
// a ban is the one signal that always propagates.
type LocationRiskEvaluator struct {
	provider LocationProvider
	bans     BanList
	history  LocationHistory
	users    IdentityReader
	buckets  *bucketing.BucketingManager
	scores   config.RiskScores
}

func NewLocationRiskEvaluator(provider LocationProvider, bans BanList, history LocationHistory, users IdentityReader, buckets *bucketing.BucketingManager, cfg *config.SecurityConfig) *LocationRiskEvaluator {
	return &LocationRiskEvaluator{
		provider: provider,
		bans:     bans,
		history:  history,
		users:    users,
		buckets:  buckets,
		scores:   cfg.RiskScores,
	}
}

// GetCurrentLocation fetches the provider's view of the client IP. Users
// with an approved identity record are looked up through the identity-bound
// path; an approved record without a provider reference cannot be verified
// and yields no data. The returned error is non-nil only for a compliance
// ban.
func (le *LocationRiskEvaluator) GetCurrentLocation(ctx context.Context, userID, ip string) (*models.LocationData, error) {
	identityRef := ""
	user, err := le.users.GetUserByID(userID)
	if err != nil {
		if !absorb("location_lookup", err) {
			return nil, err
		}
	} else if user.IdentityStatus == models.IdentityStatusApproved {
		if user.IdentityProviderRef == "" {
			util.Warn("Approved identity without provider reference, skipping location",
				zap.String("user_id", userID))
			return nil, nil
		}
		identityRef = user.IdentityProviderRef
	}

	location, err := le.provider.Lookup(ctx, ip, identityRef)
	if err != nil {
		if absorb("location_lookup", err) {
			return nil, nil
		}
		return nil, err
	}
	if location == nil {
		return nil, nil
	}

	if location.Country != "" {
		if banErr := le.checkCountryBan(location.Country); banErr != nil {
			return nil, banErr
		}
	}

	return location, nil
}

func (le *LocationRiskEvaluator) checkCountryBan(country string) error {
	banned, err := le.bans.GetBannedCountries()
	if err != nil {
		if absorb("location_lookup", err) {
			return nil
		}
		return err
	}

	if ban, ok := banned[country]; ok {
		reason := ban.Reason
		if reason == "" {
			reason = "regulatory restriction"
		}
		util.Warn("Login attempt from banned country",
			zap.String("country", country),
			zap.String("reason", reason))
		return &CountryBannedError{Country: country, Reason: reason}
	}
	return nil
}

// CheckLocation scores the movement from the user's last known location.
// Tiers are exclusive: only the widest changed tier fires. No usable
// history means no comparison is possible and scores nothing.
func (le *LocationRiskEvaluator) CheckLocation(userID string, current *models.LocationData) (int, string) {
	if current == nil {
		return 0, ""
	}

	last, err := le.history.GetLastKnownLocation(le.buckets.GetUserBucket(userID), userID)
	if err != nil {
		if absorb("location_history", err) {
			return 0, ""
		}
	}
	if last == nil {
		// First login
		return 0, ""
	}

	switch {
	case current.Country != "" && current.Country != last.Country:
		return le.scores.CountryChange, fmt.Sprintf("new country (%s)", current.Country)
	case current.Region != "" && current.Region != last.Region:
		return le.scores.RegionChange, "new region"
	case current.City != "" && current.City != last.City:
		return le.scores.CityChange, "new city"
	default:
		return 0, ""
	}
}

// CheckVPN scores VPN usage. Missing location data is not a signal.
func (le *LocationRiskEvaluator) CheckVPN(current *models.LocationData) (int, string) {
	if current != nil && current.IsVPN {
		return le.scores.VPNUsage, "VPN usage detected"
	}
	return 0, ""
}
