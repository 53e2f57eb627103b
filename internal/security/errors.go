package security

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrOTPSessionNotFound   = errors.New("OTP session expired or not found")
	ErrOTPExpired           = errors.New("OTP has expired")
	ErrOTPAttemptsExhausted = errors.New("too many OTP attempts")
	ErrOTPInvalidCode       = errors.New("invalid OTP code")
	ErrNoOTPSession         = errors.New("no active OTP session")
)

// genericMaskedContact is shown when a rejection has no session to recover
// the real masked contact from, so failures never reveal which channel was
// in play.
const genericMaskedContact = "your registered contact"

// CountryBannedError is a compliance ban. It always propagates to the caller
// and is never absorbed as a transient failure.
type CountryBannedError struct {
	Country string
	Reason  string
}

func (e *CountryBannedError) Error() string {
	return fmt.Sprintf("access from %s is not permitted due to regulatory restrictions", e.Country)
}

// RegionRestrictedError is raised by the pre-authentication regional guard.
type RegionRestrictedError struct {
	Restricted []string
	Message    string
	Type       string
}

func (e *RegionRestrictedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("access is restricted in: %s", strings.Join(e.Restricted, ", "))
}

// OTPError wraps a step-up rejection with the masked contact the client
// should render. Unwrap exposes the underlying sentinel for errors.Is.
type OTPError struct {
	Err           error
	MaskedContact string
}

func (e *OTPError) Error() string {
	return e.Err.Error()
}

func (e *OTPError) Unwrap() error {
	return e.Err
}

func newOTPError(err error, maskedContact string) *OTPError {
	if maskedContact == "" {
		maskedContact = genericMaskedContact
	}
	return &OTPError{Err: err, MaskedContact: maskedContact}
}
