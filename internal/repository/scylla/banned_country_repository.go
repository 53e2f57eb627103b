package scylla

import (
	"fmt"

	"go.uber.org/zap"

	"login-security/internal/models"
	"login-security/internal/util"
)

// BannedCountryRepository reads the regulatory ban list. The table is
// maintained by the compliance pipeline; this engine never writes to it.
type BannedCountryRepository struct {
	client *ScyllaClient
}

func NewBannedCountryRepository(client *ScyllaClient) *BannedCountryRepository {
	return &BannedCountryRepository{client: client}
}

func (r *BannedCountryRepository) GetBans(banType string) ([]*models.BannedCountry, error) {
	iter := r.client.Prepared.GetBans.Bind(banType).Iter()

	var bans []*models.BannedCountry
	for {
		ban := &models.BannedCountry{}
		if !iter.Scan(&ban.BanType, &ban.Value, &ban.Reason) {
			break
		}
		bans = append(bans, ban)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to read ban list", zap.String("ban_type", banType), zap.Error(err))
		return nil, fmt.Errorf("failed to read ban list: %w", err)
	}

	return bans, nil
}

// GetBannedCountries returns country-level bans keyed by country name.
func (r *BannedCountryRepository) GetBannedCountries() (map[string]*models.BannedCountry, error) {
	bans, err := r.GetBans(models.BanTypeCountry)
	if err != nil {
		return nil, err
	}

	banned := make(map[string]*models.BannedCountry, len(bans))
	for _, ban := range bans {
		banned[ban.Value] = ban
	}
	return banned, nil
}
