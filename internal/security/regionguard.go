package security

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"login-security/internal/config"
	"login-security/internal/util"
)

// regionCheckCountries are the countries whose sub-national regions the
// guard evaluates. Region names are only meaningful within the US here.
var regionCheckCountries = map[string]bool{
	"US":            true,
	"USA":           true,
	"United States": true,
}

// RegionalAccessGuard blocks requests from hard-restricted regions before
// any user identity exists. Lookup unavailability never blocks a login;
// this guard runs independently of the compliance country-ban list.
type RegionalAccessGuard struct {
	provider         LocationProvider
	defaultRegions   []string
	defaultCountries []string
	defaultErrorType string
}

func NewRegionalAccessGuard(provider LocationProvider, cfg *config.SecurityConfig) *RegionalAccessGuard {
	return &RegionalAccessGuard{
		provider:         provider,
		defaultRegions:   cfg.RestrictedRegions,
		defaultCountries: cfg.RestrictedCountries,
		defaultErrorType: "REGION_RESTRICTED",
	}
}

// Validate checks the client IP against restricted countries and regions.
// Nil lists fall back to the configured defaults. Returns a
// *RegionRestrictedError naming every restricted value on a match, nil
// otherwise.
func (g *RegionalAccessGuard) Validate(ctx context.Context, clientIP string, restrictedRegions, restrictedCountries []string, customMessage, customType string) error {
	if restrictedRegions == nil {
		restrictedRegions = g.defaultRegions
	}
	if restrictedCountries == nil {
		restrictedCountries = g.defaultCountries
	}

	location, err := g.provider.Lookup(ctx, clientIP, "")
	if err != nil {
		if absorb("region_guard", err) {
			return nil
		}
		return err
	}
	if location == nil {
		util.Warn("Regional lookup returned no data, allowing request",
			zap.String("client_ip", clientIP))
		return nil
	}

	errorType := customType
	if errorType == "" {
		errorType = g.defaultErrorType
	}

	for _, country := range restrictedCountries {
		if strings.EqualFold(location.Country, country) {
			util.Warn("Request blocked by country restriction",
				zap.String("client_ip", clientIP),
				zap.String("country", location.Country))
			return &RegionRestrictedError{
				Restricted: restrictedCountries,
				Message:    customMessage,
				Type:       errorType,
			}
		}
	}

	if regionCheckCountries[location.Country] {
		for _, region := range restrictedRegions {
			if strings.EqualFold(location.Region, region) {
				util.Warn("Request blocked by region restriction",
					zap.String("client_ip", clientIP),
					zap.String("region", location.Region))
				return &RegionRestrictedError{
					Restricted: restrictedRegions,
					Message:    customMessage,
					Type:       errorType,
				}
			}
		}
	}

	return nil
}
