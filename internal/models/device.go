package models

import "time"

// Device is one (user, fingerprint) pairing. A row exists from the first time
// a fingerprint is seen for a user; trust is granted after a low-risk or
// OTP-verified login completes from it.
type Device struct {
	UserBucket     int        `db:"user_bucket"`
	UserID         string     `db:"user_id"`
	Fingerprint    string     `db:"fingerprint"`
	DeviceID       string     `db:"device_id"`
	Name           string     `db:"name"`
	DeviceType     string     `db:"device_type"`
	OS             string     `db:"os"`
	Browser        string     `db:"browser"`
	IsTrusted      bool       `db:"is_trusted"`
	LastVerifiedAt *time.Time `db:"last_verified_at"`
	LastLogin      time.Time  `db:"last_login"`
	CreatedAt      time.Time  `db:"created_at"`
}

// DeviceInfo carries caller-supplied device metadata from the login request.
type DeviceInfo struct {
	Name       string `json:"name,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	OS         string `json:"os,omitempty"`
	Browser    string `json:"browser,omitempty"`
}
