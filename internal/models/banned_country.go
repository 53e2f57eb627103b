package models

const (
	BanTypeCountry = "country"
	BanTypeRegion  = "region"
)

// BannedCountry is regulatory reference data, read-only to the engine.
type BannedCountry struct {
	BanType string `db:"ban_type"`
	Value   string `db:"value"`
	Reason  string `db:"reason"`
}
