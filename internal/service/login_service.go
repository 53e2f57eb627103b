package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"login-security/internal/bucketing"
	"login-security/internal/config"
	"login-security/internal/events"
	"login-security/internal/models"
	"login-security/internal/security"
	"login-security/internal/util"
)

var (
	ErrUserNotFound = errors.New("user not found")
)

// CredentialValidator checks an identifier/password pair against the
// account backend and returns the matching user id, or empty on rejection.
type CredentialValidator interface {
	Validate(ctx context.Context, identifier, password string) (string, error)
}

// UserStore is the slice of the user repository the orchestrator needs.
type UserStore interface {
	GetUserByID(userID string) (*models.User, error)
	GetUserByIdentifier(identifierHash string) (*models.User, error)
	DecryptContact(ctx context.Context, user *models.User) (string, error)
	UpdateLastLogin(userID string) error
}

// EventStore persists durable login events.
type EventStore interface {
	RecordEvent(event *models.LoginEvent) error
}

// IdentifierHasher produces the deterministic lookup hash for identifiers.
type IdentifierHasher interface {
	HashIdentifier(identifier string) string
}

// LoginResult is the orchestrator's answer for one attempt. Exactly one of
// Success, OtpRequired, LockedOut, RestrictedRegion, or a false Success
// with a Reason is set.
type LoginResult struct {
	Success          bool   `json:"success"`
	OtpRequired      bool   `json:"otp_required"`
	LockedOut        bool   `json:"locked_out"`
	RestrictedRegion bool   `json:"restricted_region"`
	MaskedContact    string `json:"masked_contact,omitempty"`
	Reason           string `json:"reason,omitempty"`
	UserID           string `json:"user_id,omitempty"`
}

// LoginService composes the regional guard, rate limiter, risk aggregator,
// and OTP flow into the full login decision pipeline.
type LoginService struct {
	guard       *security.RegionalAccessGuard
	rateLimiter *security.IdentifierRateLimiter
	aggregator  *security.RiskAggregator
	devices     *security.DeviceTrustRegistry
	otp         *security.OtpStepUpFlow
	credentials CredentialValidator
	users       UserStore
	loginEvents EventStore
	hasher      IdentifierHasher
	buckets     *bucketing.BucketingManager
	publisher   *events.Publisher
	notifier    security.NotificationSender
	config      *config.SecurityConfig
}

func NewLoginService(
	guard *security.RegionalAccessGuard,
	rateLimiter *security.IdentifierRateLimiter,
	aggregator *security.RiskAggregator,
	devices *security.DeviceTrustRegistry,
	otp *security.OtpStepUpFlow,
	credentials CredentialValidator,
	users UserStore,
	loginEvents EventStore,
	hasher IdentifierHasher,
	buckets *bucketing.BucketingManager,
	publisher *events.Publisher,
	notifier security.NotificationSender,
	cfg *config.SecurityConfig,
) *LoginService {
	return &LoginService{
		guard:       guard,
		rateLimiter: rateLimiter,
		aggregator:  aggregator,
		devices:     devices,
		otp:         otp,
		credentials: credentials,
		users:       users,
		loginEvents: loginEvents,
		hasher:      hasher,
		buckets:     buckets,
		publisher:   publisher,
		notifier:    notifier,
		config:      cfg,
	}
}

// Login runs the full decision pipeline for one authentication attempt.
func (s *LoginService) Login(ctx context.Context, identifier, password string, sc models.SecurityContext) (*LoginResult, error) {
	if err := s.guard.Validate(ctx, sc.ClientIP, nil, nil, "", ""); err != nil {
		var restricted *security.RegionRestrictedError
		if errors.As(err, &restricted) {
			return &LoginResult{RestrictedRegion: true, Reason: restricted.Error()}, nil
		}
		return nil, err
	}

	user, credentialsOK, err := s.validateCredentials(ctx, identifier, password)
	if err != nil {
		return nil, err
	}

	policy := models.RiskPolicy{Bypass: user != nil && user.RestrictionsOff}

	if result := s.rateLimiter.Check(identifier, policy); !result.Allowed {
		return &LoginResult{LockedOut: true, Reason: result.Reason}, nil
	}

	if !credentialsOK || user == nil {
		return &LoginResult{Reason: "invalid credentials"}, nil
	}

	assessment, err := s.aggregator.Assess(ctx, user.UserID, sc, policy)
	if err != nil {
		var banned *security.CountryBannedError
		if errors.As(err, &banned) {
			s.publisher.PublishAssessment(user.UserID, sc, nil, events.EventTypeLoginBlocked, "country_banned")
			return &LoginResult{RestrictedRegion: true, Reason: banned.Error()}, nil
		}
		return nil, err
	}

	s.recordLoginEvent(user, sc, assessment)

	if assessment.Score >= s.config.StepUpThreshold {
		return s.stepUp(ctx, user, sc, assessment)
	}

	return s.finalize(user, identifier, sc, assessment)
}

// VerifyOtp completes a step-up challenge. On success the device is
// promoted to trusted and the rate-limit window cleared.
func (s *LoginService) VerifyOtp(ctx context.Context, code string, sc models.SecurityContext) (*LoginResult, error) {
	user, err := s.otp.Verify(ctx, code, sc)
	if err != nil {
		var otpErr *security.OTPError
		if errors.As(err, &otpErr) {
			return &LoginResult{
				Reason:        otpErr.Error(),
				MaskedContact: otpErr.MaskedContact,
			}, nil
		}
		return nil, err
	}

	s.publisher.PublishAssessment(user.UserID, sc, nil, events.EventTypeOtpVerified, "verified")

	return s.finalize(user, "", sc, nil)
}

// ResendOtp re-issues the pending challenge for this device.
func (s *LoginService) ResendOtp(ctx context.Context, sc models.SecurityContext) (*LoginResult, error) {
	masked, err := s.otp.Resend(ctx, sc)
	if err != nil {
		var otpErr *security.OTPError
		if errors.As(err, &otpErr) {
			return &LoginResult{
				Reason:        otpErr.Error(),
				MaskedContact: otpErr.MaskedContact,
			}, nil
		}
		return nil, err
	}

	return &LoginResult{OtpRequired: true, MaskedContact: masked}, nil
}

func (s *LoginService) validateCredentials(ctx context.Context, identifier, password string) (*models.User, bool, error) {
	userID, err := s.credentials.Validate(ctx, identifier, password)
	if err != nil {
		return nil, false, fmt.Errorf("credential validation failed: %w", err)
	}

	if userID == "" {
		// Rejected pair; the user record, if any, still drives the bypass
		// flag for rate limiting
		user, lookupErr := s.users.GetUserByIdentifier(s.hasher.HashIdentifier(identifier))
		if lookupErr != nil {
			return nil, false, nil
		}
		return user, false, nil
	}

	user, err := s.users.GetUserByID(userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load authenticated user: %w", err)
	}
	return user, true, nil
}

func (s *LoginService) stepUp(ctx context.Context, user *models.User, sc models.SecurityContext, assessment *models.RiskAssessment) (*LoginResult, error) {
	masked, err := s.otp.Issue(ctx, user, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to issue step-up challenge: %w", err)
	}

	s.publisher.PublishAssessment(user.UserID, sc, assessment, events.EventTypeOtpIssued, "step_up")
	s.sendHighRiskAlert(user, assessment)

	util.Info("Step-up required",
		zap.String("user_id", user.UserID),
		zap.Int("risk_score", assessment.Score),
		zap.Strings("reasons", assessment.Reasons))

	return &LoginResult{
		OtpRequired:   true,
		MaskedContact: masked,
		UserID:        user.UserID,
	}, nil
}

func (s *LoginService) finalize(user *models.User, identifier string, sc models.SecurityContext, assessment *models.RiskAssessment) (*LoginResult, error) {
	if _, err := s.devices.UpsertOnLogin(user.UserID, sc.Fingerprint, sc.DeviceInfo); err != nil {
		util.Warn("Failed to record device on login",
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}

	if err := s.users.UpdateLastLogin(user.UserID); err != nil {
		util.Warn("Failed to stamp user last login",
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}

	if identifier != "" {
		if err := s.rateLimiter.Clear(identifier); err != nil {
			util.Warn("Failed to clear rate-limit window",
				zap.String("user_id", user.UserID),
				zap.Error(err))
		}
	}

	s.publisher.PublishAssessment(user.UserID, sc, assessment, events.EventTypeLoginAssessed, "success")

	return &LoginResult{Success: true, UserID: user.UserID}, nil
}

func (s *LoginService) recordLoginEvent(user *models.User, sc models.SecurityContext, assessment *models.RiskAssessment) {
	event := &models.LoginEvent{
		UserBucket: s.buckets.GetUserBucket(user.UserID),
		UserID:     user.UserID,
		EventTime:  time.Now().UTC(),
		IPAddress:  sc.ClientIP,
		RiskScore:  assessment.Score,
	}
	if assessment.Location != nil {
		event.City = assessment.Location.City
		event.Region = assessment.Location.Region
		event.Country = assessment.Location.Country
		event.IsVPN = assessment.Location.IsVPN
	}

	if err := s.loginEvents.RecordEvent(event); err != nil {
		util.Warn("Failed to persist login event",
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}
}

// sendHighRiskAlert notifies the user about an unusual sign-in. Strictly
// best-effort; a delivery failure never reaches the login response.
func (s *LoginService) sendHighRiskAlert(user *models.User, assessment *models.RiskAssessment) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		contact, err := s.users.DecryptContact(ctx, user)
		if err != nil {
			util.Warn("Failed to resolve contact for high-risk alert",
				zap.String("user_id", user.UserID),
				zap.Error(err))
			return
		}

		payload := map[string]string{
			"to":      contact,
			"reasons": strings.Join(assessment.Reasons, "; "),
		}
		if err := s.notifier.Send(ctx, "email", "high_risk_alert", payload); err != nil {
			util.Warn("Failed to send high-risk alert",
				zap.String("user_id", user.UserID),
				zap.Error(err))
		}
	}()
}
