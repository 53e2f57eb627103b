package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"login-security/internal/bucketing"
	"login-security/internal/config"
	"login-security/internal/events"
	"login-security/internal/hashing"
	"login-security/internal/models"
	"login-security/internal/security"
)

// ---- fakes ----

type memAttemptStore struct {
	attempts map[string][]time.Time
	locks    map[string]time.Time
}

func newMemAttemptStore() *memAttemptStore {
	return &memAttemptStore{
		attempts: make(map[string][]time.Time),
		locks:    make(map[string]time.Time),
	}
}

func (s *memAttemptStore) RecordAttempt(id string, at time.Time, w time.Duration) error {
	s.attempts[id] = append([]time.Time{at}, s.attempts[id]...)
	return nil
}
func (s *memAttemptStore) GetAttempts(id string) ([]time.Time, error) { return s.attempts[id], nil }
func (s *memAttemptStore) ReplaceAttempts(id string, a []time.Time, w time.Duration) error {
	s.attempts[id] = a
	return nil
}
func (s *memAttemptStore) ClearAttempts(id string) error { delete(s.attempts, id); return nil }
func (s *memAttemptStore) SetLock(id string, until time.Time, d time.Duration) error {
	s.locks[id] = until
	return nil
}
func (s *memAttemptStore) GetLock(id string) (time.Time, error) { return s.locks[id], nil }
func (s *memAttemptStore) ClearLock(id string) error            { delete(s.locks, id); return nil }

type memDeviceStore struct {
	devices map[string]*models.Device
}

func newMemDeviceStore() *memDeviceStore {
	return &memDeviceStore{devices: make(map[string]*models.Device)}
}

func (s *memDeviceStore) key(userID, fp string) string { return userID + "/" + fp }

func (s *memDeviceStore) GetDevice(b int, userID, fp string) (*models.Device, error) {
	return s.devices[s.key(userID, fp)], nil
}
func (s *memDeviceStore) RegisterDevice(d *models.Device) error {
	s.devices[s.key(d.UserID, d.Fingerprint)] = d
	return nil
}
func (s *memDeviceStore) SetTrusted(b int, userID, fp string, trusted bool) error {
	if d := s.devices[s.key(userID, fp)]; d != nil {
		d.IsTrusted = trusted
	}
	return nil
}
func (s *memDeviceStore) TouchLastLogin(b int, userID, fp string) error { return nil }

type memLocationProvider struct {
	location *models.LocationData
}

func (p *memLocationProvider) Lookup(ctx context.Context, ip, ref string) (*models.LocationData, error) {
	return p.location, nil
}

type memBanList struct {
	banned map[string]*models.BannedCountry
}

func (b *memBanList) GetBannedCountries() (map[string]*models.BannedCountry, error) {
	if b.banned == nil {
		return map[string]*models.BannedCountry{}, nil
	}
	return b.banned, nil
}

type memHistory struct {
	last *models.LoginEvent
}

func (h *memHistory) GetLastKnownLocation(b int, userID string) (*models.LoginEvent, error) {
	return h.last, nil
}

type memSessionStore struct {
	sessions map[string]*models.OTPSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*models.OTPSession)}
}

func (s *memSessionStore) key(ip, fp string) string { return ip + ":" + fp }

func (s *memSessionStore) GetSession(ip, fp string) (*models.OTPSession, error) {
	session, ok := s.sessions[s.key(ip, fp)]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}
func (s *memSessionStore) SetSession(ip, fp string, session *models.OTPSession, ttl time.Duration) error {
	copied := *session
	s.sessions[s.key(ip, fp)] = &copied
	return nil
}
func (s *memSessionStore) UpdateSession(ip, fp string, session *models.OTPSession) error {
	copied := *session
	s.sessions[s.key(ip, fp)] = &copied
	return nil
}
func (s *memSessionStore) DeleteSession(ip, fp string) error {
	delete(s.sessions, s.key(ip, fp))
	return nil
}

type memUsers struct {
	byID         map[string]*models.User
	byIdentifier map[string]*models.User
	lastLogins   []string
}

func (u *memUsers) GetUserByID(userID string) (*models.User, error) {
	if user, ok := u.byID[userID]; ok {
		return user, nil
	}
	return nil, ErrUserNotFound
}
func (u *memUsers) GetUserByIdentifier(hash string) (*models.User, error) {
	if user, ok := u.byIdentifier[hash]; ok {
		return user, nil
	}
	return nil, ErrUserNotFound
}
func (u *memUsers) DecryptContact(ctx context.Context, user *models.User) (string, error) {
	return "jane.doe@example.com", nil
}
func (u *memUsers) UpdateLastLogin(userID string) error {
	u.lastLogins = append(u.lastLogins, userID)
	return nil
}

type memCredentials struct {
	valid map[string]string // identifier -> user id
}

func (c *memCredentials) Validate(ctx context.Context, identifier, password string) (string, error) {
	if password != "correct-horse" {
		return "", nil
	}
	return c.valid[identifier], nil
}

type memEventStore struct {
	events []*models.LoginEvent
}

func (s *memEventStore) RecordEvent(e *models.LoginEvent) error {
	s.events = append(s.events, e)
	return nil
}

type memSender struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (s *memSender) Send(ctx context.Context, channel, template string, payload map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, payload)
	return nil
}

// lastCode returns the most recently dispatched OTP code. The high-risk
// alert goroutine also writes to sent, so scan instead of indexing.
func (s *memSender) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if code := s.sent[i]["code"]; code != "" {
			return code
		}
	}
	return ""
}

// ---- fixture ----

type pipelineFixture struct {
	service  *LoginService
	provider *memLocationProvider
	bans     *memBanList
	history  *memHistory
	devices  *memDeviceStore
	attempts *memAttemptStore
	users    *memUsers
	eventLog *memEventStore
	sender   *memSender
	sessions *memSessionStore
}

func newPipeline(t *testing.T) *pipelineFixture {
	t.Helper()

	appCfg := &config.Config{
		Hashing:   config.HashingConfig{Argon2MemoryCost: 8192, Argon2TimeCost: 1, Argon2Parallelism: 1},
		Bucketing: config.BucketingConfig{UserBuckets: 100, EventBuckets: 100},
		Security: config.SecurityConfig{
			MaxLoginAttempts:       5,
			AttemptWindowSeconds:   3600,
			LockoutDurationSeconds: 900,
			RiskScores: config.RiskScores{
				NewDevice:     30,
				CountryChange: 40,
				RegionChange:  20,
				CityChange:    10,
				VPNUsage:      25,
			},
			StepUpThreshold:   50,
			OTPExpiration:     5 * time.Minute,
			OTPMaxAttempts:    3,
			OTPCodeLength:     6,
			RestrictedRegions: []string{"New York"},
		},
	}
	cfg := &appCfg.Security

	hasher := hashing.NewHasher(appCfg)
	buckets := bucketing.NewBucketingManager(appCfg)

	user := &models.User{
		UserID:         "user-1",
		IdentifierHash: hasher.HashIdentifier("user@test.com"),
		ContactMasked:  "ja***@example.com",
		ContactChannel: "email",
	}

	provider := &memLocationProvider{location: &models.LocationData{Country: "US", Region: "California", City: "San Jose"}}
	bans := &memBanList{}
	history := &memHistory{last: &models.LoginEvent{Country: "US", Region: "California", City: "San Jose"}}
	devices := newMemDeviceStore()
	attempts := newMemAttemptStore()
	sessions := newMemSessionStore()
	sender := &memSender{}
	eventLog := &memEventStore{}

	users := &memUsers{
		byID:         map[string]*models.User{"user-1": user},
		byIdentifier: map[string]*models.User{user.IdentifierHash: user},
	}

	evaluator := security.NewLocationRiskEvaluator(provider, bans, history, users, buckets, cfg)
	registry := security.NewDeviceTrustRegistry(devices, buckets, evaluator, cfg)
	aggregator := security.NewRiskAggregator(registry, evaluator)
	guard := security.NewRegionalAccessGuard(provider, cfg)
	rateLimiter := security.NewIdentifierRateLimiter(attempts, cfg)
	otpFlow := security.NewOtpStepUpFlow(sessions, users, hasher, sender, cfg)
	publisher := events.NewPublisher(nil, nil, nil, appCfg)

	credentials := &memCredentials{valid: map[string]string{"user@test.com": "user-1"}}

	svc := NewLoginService(
		guard, rateLimiter, aggregator, registry, otpFlow,
		credentials, users, eventLog, hasher, buckets,
		publisher, sender, cfg,
	)

	return &pipelineFixture{
		service:  svc,
		provider: provider,
		bans:     bans,
		history:  history,
		devices:  devices,
		attempts: attempts,
		users:    users,
		eventLog: eventLog,
		sender:   sender,
		sessions: sessions,
	}
}

func knownDevice(f *pipelineFixture) {
	f.devices.devices["user-1/fp-1"] = &models.Device{
		UserID:      "user-1",
		Fingerprint: "fp-1",
		IsTrusted:   true,
	}
}

func requestContext() models.SecurityContext {
	return models.SecurityContext{ClientIP: "203.0.113.10", Fingerprint: "fp-1"}
}

// ---- tests ----

func TestLoginSuccessLowRisk(t *testing.T) {
	f := newPipeline(t)
	knownDevice(f)

	result, err := f.service.Login(context.Background(), "user@test.com", "correct-horse", requestContext())

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.OtpRequired)
	assert.Equal(t, "user-1", result.UserID)

	assert.Empty(t, f.attempts.attempts["user@test.com"], "window cleared on success")
	assert.Contains(t, f.users.lastLogins, "user-1")
	require.Len(t, f.eventLog.events, 1)
	assert.Equal(t, "US", f.eventLog.events[0].Country)
	assert.Zero(t, f.eventLog.events[0].RiskScore)
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newPipeline(t)
	knownDevice(f)

	result, err := f.service.Login(context.Background(), "user@test.com", "wrong", requestContext())

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "invalid credentials", result.Reason)
	assert.Len(t, f.attempts.attempts["user@test.com"], 1, "failed attempt recorded")
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	f := newPipeline(t)
	knownDevice(f)

	var result *LoginResult
	var err error
	for i := 0; i < 6; i++ {
		result, err = f.service.Login(context.Background(), "user@test.com", "wrong", requestContext())
		require.NoError(t, err)
	}

	assert.True(t, result.LockedOut)
	assert.Contains(t, result.Reason, "too many")

	// Correct password is still rejected while locked
	result, err = f.service.Login(context.Background(), "user@test.com", "correct-horse", requestContext())
	require.NoError(t, err)
	assert.True(t, result.LockedOut)
}

func TestLoginStepUpAndVerify(t *testing.T) {
	f := newPipeline(t)
	// Unknown device + new country: 30 + 40 crosses the threshold
	f.provider.location = &models.LocationData{Country: "DE", Region: "Berlin", City: "Berlin"}

	result, err := f.service.Login(context.Background(), "user@test.com", "correct-horse", requestContext())

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.OtpRequired)
	assert.Equal(t, "ja***@example.com", result.MaskedContact)
	require.Len(t, f.eventLog.events, 1, "login event recorded at assessment time")
	assert.Equal(t, 70, f.eventLog.events[0].RiskScore)

	code := f.sender.lastCode()
	require.NotEmpty(t, code)

	verified, err := f.service.VerifyOtp(context.Background(), code, requestContext())
	require.NoError(t, err)
	assert.True(t, verified.Success)
	assert.Equal(t, "user-1", verified.UserID)

	device := f.devices.devices["user-1/fp-1"]
	require.NotNil(t, device, "device registered after step-up")
	assert.True(t, device.IsTrusted)
}

func TestLoginVerifyOtpWrongCode(t *testing.T) {
	f := newPipeline(t)
	f.provider.location = &models.LocationData{Country: "DE", Region: "Berlin", City: "Berlin"}

	_, err := f.service.Login(context.Background(), "user@test.com", "correct-horse", requestContext())
	require.NoError(t, err)

	result, err := f.service.VerifyOtp(context.Background(), "000000", requestContext())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "invalid")
	assert.Equal(t, "ja***@example.com", result.MaskedContact)
}

func TestLoginRestrictedRegionBlocksPreAuth(t *testing.T) {
	f := newPipeline(t)
	f.provider.location = &models.LocationData{Country: "US", Region: "New York", City: "New York"}

	result, err := f.service.Login(context.Background(), "user@test.com", "correct-horse", requestContext())

	require.NoError(t, err)
	assert.True(t, result.RestrictedRegion)
	assert.Empty(t, f.attempts.attempts, "no attempt recorded for blocked region")
}

func TestLoginBannedCountry(t *testing.T) {
	f := newPipeline(t)
	knownDevice(f)
	f.provider.location = &models.LocationData{Country: "KP"}
	f.bans.banned = map[string]*models.BannedCountry{
		"KP": {BanType: models.BanTypeCountry, Value: "KP", Reason: "sanctions"},
	}

	result, err := f.service.Login(context.Background(), "user@test.com", "correct-horse", requestContext())

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.RestrictedRegion)
	assert.Contains(t, result.Reason, "KP")
	assert.Empty(t, f.eventLog.events, "no login event for a banned assessment")
}

func TestLoginBypassSkipsRiskChecks(t *testing.T) {
	f := newPipeline(t)
	f.users.byID["user-1"].RestrictionsOff = true
	// High-risk signals everywhere; bypass must ignore them all
	f.provider.location = &models.LocationData{Country: "DE", IsVPN: true}

	result, err := f.service.Login(context.Background(), "user@test.com", "correct-horse", requestContext())

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.OtpRequired)
	assert.Empty(t, f.attempts.attempts, "bypass skips rate-limit recording")
}

func TestResendOtpWithoutSession(t *testing.T) {
	f := newPipeline(t)

	result, err := f.service.ResendOtp(context.Background(), requestContext())

	require.NoError(t, err)
	assert.False(t, result.OtpRequired)
	assert.Contains(t, result.Reason, "no active OTP session")
}

func TestResendOtpRestartsSession(t *testing.T) {
	f := newPipeline(t)
	f.provider.location = &models.LocationData{Country: "DE", Region: "Berlin", City: "Berlin"}

	_, err := f.service.Login(context.Background(), "user@test.com", "correct-horse", requestContext())
	require.NoError(t, err)

	result, err := f.service.ResendOtp(context.Background(), requestContext())
	require.NoError(t, err)
	assert.True(t, result.OtpRequired)
	assert.Equal(t, "ja***@example.com", result.MaskedContact)

	code := f.sender.lastCode()
	verified, err := f.service.VerifyOtp(context.Background(), code, requestContext())
	require.NoError(t, err)
	assert.True(t, verified.Success)
}
