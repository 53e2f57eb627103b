package models

import "time"

// LoginEvent is an immutable append-only record written once per completed
// risk assessment. The most recent event with a non-empty country is the
// user's "last known location".
type LoginEvent struct {
	UserBucket int       `db:"user_bucket"`
	UserID     string    `db:"user_id"`
	EventTime  time.Time `db:"event_time"`
	EventID    string    `db:"event_id"`
	DeviceID   string    `db:"device_id"`
	IPAddress  string    `db:"ip_address"`
	City       string    `db:"city"`
	Region     string    `db:"region"`
	Country    string    `db:"country"`
	IsVPN      bool      `db:"is_vpn"`
	RiskScore  int       `db:"risk_score"`
}
