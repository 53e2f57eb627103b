package models

import "time"

const (
	IdentityStatusPending  = "pending"
	IdentityStatusApproved = "approved"
	IdentityStatusRejected = "rejected"
)

// User is the narrow slice of the account record this engine needs. Full
// account data lives in the account backend; the engine only reads identity
// verification state, contact details for OTP delivery, and the per-user
// restriction-exempt flag.
type User struct {
	UserBucket          int        `db:"user_bucket"`
	UserID              string     `db:"user_id"`
	IdentifierHash      string     `db:"identifier_hash"`
	ContactEncrypted    []byte     `db:"contact_encrypted"`
	ContactKeyID        string     `db:"contact_key_id"`
	ContactMasked       string     `db:"contact_masked"`
	ContactChannel      string     `db:"contact_channel"`
	IdentityStatus      string     `db:"identity_status"`
	IdentityProviderRef string     `db:"identity_provider_ref"`
	RestrictionsOff     bool       `db:"restrictions_disabled"`
	CreatedAt           time.Time  `db:"created_at"`
	LastLogin           *time.Time `db:"last_login"`
}
