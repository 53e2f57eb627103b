package models

import "time"

// OTPSession is the transient step-up state stored as a JSON blob under a
// single counter-store key per (client IP, device fingerprint). TTL on the
// key bounds its lifetime; Attempts is the only mutable field.
type OTPSession struct {
	UserID        string    `json:"user_id"`
	CodeHash      string    `json:"code_hash"`
	CodeSalt      string    `json:"code_salt"`
	PepperVersion int       `json:"pepper_version"`
	Expiration    time.Time `json:"expiration"`
	Attempts      int       `json:"attempts"`
	MaskedContact string    `json:"masked_contact"`
	CreatedAt     time.Time `json:"created_at"`
}
