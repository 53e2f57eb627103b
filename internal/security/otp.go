package security

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"login-security/internal/config"
	"login-security/internal/hashing"
	"login-security/internal/models"
	"login-security/internal/util"
)

// SessionStore is the counter-store slice holding pending step-up sessions.
type SessionStore interface {
	GetSession(clientIP, fingerprint string) (*models.OTPSession, error)
	SetSession(clientIP, fingerprint string, session *models.OTPSession, ttl time.Duration) error
	UpdateSession(clientIP, fingerprint string, session *models.OTPSession) error
	DeleteSession(clientIP, fingerprint string) error
}

// ContactReader resolves users and opens their encrypted contact for
// delivery.
type ContactReader interface {
	GetUserByID(userID string) (*models.User, error)
	DecryptContact(ctx context.Context, user *models.User) (string, error)
}

// NotificationSender dispatches a templated message over a channel
// ("email" or "sms").
type NotificationSender interface {
	Send(ctx context.Context, channel, template string, payload map[string]string) error
}

// OtpStepUpFlow issues and verifies one-time codes when an attempt's risk
// crosses the step-up threshold. Sessions are keyed by the requesting
// (client IP, fingerprint) pair; the verified user is always resolved fresh
// from the session's embedded id, never from caller input.
type OtpStepUpFlow struct {
	sessions SessionStore
	users    ContactReader
	hasher   *hashing.Hasher
	sender   NotificationSender
	config   *config.SecurityConfig
}

func NewOtpStepUpFlow(sessions SessionStore, users ContactReader, hasher *hashing.Hasher, sender NotificationSender, cfg *config.SecurityConfig) *OtpStepUpFlow {
	return &OtpStepUpFlow{
		sessions: sessions,
		users:    users,
		hasher:   hasher,
		sender:   sender,
		config:   cfg,
	}
}

// Issue generates a code, stores the session, and dispatches the code to
// the user's contact. The session survives a failed dispatch so a resend
// can recover, but the dispatch error still surfaces to the caller.
func (f *OtpStepUpFlow) Issue(ctx context.Context, user *models.User, sc models.SecurityContext) (string, error) {
	code, err := f.generateCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP code: %w", err)
	}

	hashed, err := f.hasher.HashOTP(code)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP code: %w", err)
	}

	contact, err := f.users.DecryptContact(ctx, user)
	if err != nil {
		return "", fmt.Errorf("failed to resolve contact for OTP: %w", err)
	}

	masked := user.ContactMasked
	if masked == "" {
		masked = MaskContact(contact)
	}

	now := time.Now().UTC()
	session := &models.OTPSession{
		UserID:        user.UserID,
		CodeHash:      hashed.Hash,
		CodeSalt:      hashed.Salt,
		PepperVersion: hashed.PepperVersion,
		Expiration:    now.Add(f.config.OTPExpiration),
		Attempts:      0,
		MaskedContact: masked,
		CreatedAt:     now,
	}

	if err := f.sessions.SetSession(sc.ClientIP, sc.Fingerprint, session, f.config.OTPExpiration); err != nil {
		return "", fmt.Errorf("failed to store OTP session: %w", err)
	}

	channel := user.ContactChannel
	if channel == "" {
		channel = "email"
	}
	payload := map[string]string{
		"to":             contact,
		"code":           code,
		"expiry_minutes": fmt.Sprintf("%d", int(f.config.OTPExpiration.Minutes())),
	}
	if err := f.sender.Send(ctx, channel, "otp_code", payload); err != nil {
		util.Error("Failed to dispatch OTP code",
			zap.String("user_id", user.UserID),
			zap.String("channel", channel),
			zap.Error(err))
		return masked, fmt.Errorf("failed to dispatch OTP code: %w", err)
	}

	util.Info("OTP issued",
		zap.String("user_id", user.UserID),
		zap.String("channel", channel),
		zap.String("masked_contact", masked))

	return masked, nil
}

// Verify checks a submitted code against the pending session for this
// device. Every rejection carries a masked contact; terminal outcomes
// delete the session.
func (f *OtpStepUpFlow) Verify(ctx context.Context, code string, sc models.SecurityContext) (*models.User, error) {
	session, err := f.sessions.GetSession(sc.ClientIP, sc.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to load OTP session: %w", err)
	}
	if session == nil {
		return nil, newOTPError(ErrOTPSessionNotFound, "")
	}

	if time.Now().After(session.Expiration) {
		f.discardSession(sc)
		return nil, newOTPError(ErrOTPExpired, session.MaskedContact)
	}

	if session.Attempts >= f.config.OTPMaxAttempts {
		f.discardSession(sc)
		return nil, newOTPError(ErrOTPAttemptsExhausted, session.MaskedContact)
	}

	match, err := f.hasher.VerifyOTP(code, &hashing.HashResult{
		Hash:          session.CodeHash,
		Salt:          session.CodeSalt,
		PepperVersion: session.PepperVersion,
		Algorithm:     "argon2id-v1",
	})
	if err != nil || !match {
		session.Attempts++
		if updateErr := f.sessions.UpdateSession(sc.ClientIP, sc.Fingerprint, session); updateErr != nil {
			util.Warn("Failed to persist OTP attempt count",
				zap.String("user_id", session.UserID),
				zap.Error(updateErr))
		}
		return nil, newOTPError(ErrOTPInvalidCode, session.MaskedContact)
	}

	f.discardSession(sc)

	user, err := f.users.GetUserByID(session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve verified user: %w", err)
	}

	util.Info("OTP verified", zap.String("user_id", user.UserID))
	return user, nil
}

// Resend re-issues a code for an existing session, replacing it with a
// fresh expiration and attempt count.
func (f *OtpStepUpFlow) Resend(ctx context.Context, sc models.SecurityContext) (string, error) {
	session, err := f.sessions.GetSession(sc.ClientIP, sc.Fingerprint)
	if err != nil {
		return "", fmt.Errorf("failed to load OTP session: %w", err)
	}
	if session == nil {
		return "", newOTPError(ErrNoOTPSession, "")
	}

	user, err := f.users.GetUserByID(session.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user for resend: %w", err)
	}

	return f.Issue(ctx, user, sc)
}

func (f *OtpStepUpFlow) discardSession(sc models.SecurityContext) {
	if err := f.sessions.DeleteSession(sc.ClientIP, sc.Fingerprint); err != nil {
		util.Warn("Failed to delete OTP session",
			zap.String("client_ip", sc.ClientIP),
			zap.Error(err))
	}
}

func (f *OtpStepUpFlow) generateCode() (string, error) {
	digits := f.config.OTPCodeLength
	if digits <= 0 {
		digits = 6
	}

	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// MaskContact redacts an email or phone for user-facing messages. Emails
// keep the first two characters of the local part and the domain; phones
// keep the last two digits.
func MaskContact(contact string) string {
	if contact == "" {
		return genericMaskedContact
	}

	if at := strings.Index(contact, "@"); at > 0 {
		local := contact[:at]
		domain := contact[at:]
		visible := 2
		if len(local) < visible {
			visible = 1
		}
		return local[:visible] + "***" + domain
	}

	if len(contact) > 2 {
		return "***" + contact[len(contact)-2:]
	}
	return "***"
}
