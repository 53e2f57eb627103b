package scylla

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"login-security/internal/models"
	"login-security/internal/util"
)

type DeviceRepository struct {
	client *ScyllaClient
}

func NewDeviceRepository(client *ScyllaClient) *DeviceRepository {
	return &DeviceRepository{client: client}
}

// GetDevice returns the device row for the (user, fingerprint) pair, or nil
// when the fingerprint has never been seen for this user.
func (r *DeviceRepository) GetDevice(userBucket int, userID, fingerprint string) (*models.Device, error) {
	device := &models.Device{}

	query := r.client.Prepared.GetDevice.Bind(userBucket, userID, fingerprint)

	err := r.client.ScanWithRetry(query,
		&device.UserBucket, &device.UserID, &device.Fingerprint, &device.DeviceID,
		&device.Name, &device.DeviceType, &device.OS, &device.Browser,
		&device.IsTrusted, &device.LastVerifiedAt, &device.LastLogin, &device.CreatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to get device",
			zap.String("user_id", userID),
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return device, nil
}

// RegisterDevice inserts a new untrusted device row for a fingerprint seen
// for the first time.
func (r *DeviceRepository) RegisterDevice(device *models.Device) error {
	if device.DeviceID == "" {
		device.DeviceID = uuid.New().String()
	}

	now := time.Now().UTC()
	device.CreatedAt = now
	device.LastLogin = now

	query := r.client.Prepared.UpsertDevice.Bind(
		device.UserBucket, device.UserID, device.Fingerprint, device.DeviceID,
		device.Name, device.DeviceType, device.OS, device.Browser,
		device.IsTrusted, device.LastVerifiedAt, device.LastLogin, device.CreatedAt)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to register device",
			zap.String("user_id", device.UserID),
			zap.String("fingerprint", device.Fingerprint),
			zap.Error(err))
		return fmt.Errorf("failed to register device: %w", err)
	}

	util.Info("Device registered",
		zap.String("user_id", device.UserID),
		zap.String("device_id", device.DeviceID),
		zap.Bool("is_trusted", device.IsTrusted))

	return nil
}

// SetTrusted flips the trust flag and stamps the verification time.
func (r *DeviceRepository) SetTrusted(userBucket int, userID, fingerprint string, trusted bool) error {
	now := time.Now().UTC()

	query := r.client.Prepared.SetDeviceTrust.Bind(trusted, &now, userBucket, userID, fingerprint)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to update device trust",
			zap.String("user_id", userID),
			zap.String("fingerprint", fingerprint),
			zap.Bool("trusted", trusted),
			zap.Error(err))
		return fmt.Errorf("failed to update device trust: %w", err)
	}

	util.Info("Device trust updated",
		zap.String("user_id", userID),
		zap.String("fingerprint", fingerprint),
		zap.Bool("trusted", trusted))

	return nil
}

// TouchLastLogin updates the device's last-login timestamp.
func (r *DeviceRepository) TouchLastLogin(userBucket int, userID, fingerprint string) error {
	query := r.client.Prepared.TouchDevice.Bind(time.Now().UTC(), userBucket, userID, fingerprint)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Warn("Failed to update device last login",
			zap.String("user_id", userID),
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		return fmt.Errorf("failed to update device last login: %w", err)
	}
	return nil
}

// ListDevices returns every device registered for the user.
func (r *DeviceRepository) ListDevices(userBucket int, userID string) ([]*models.Device, error) {
	iter := r.client.Prepared.GetDevicesByUser.Bind(userBucket, userID).Iter()

	var devices []*models.Device
	for {
		device := &models.Device{}
		ok := iter.Scan(
			&device.UserBucket, &device.UserID, &device.Fingerprint, &device.DeviceID,
			&device.Name, &device.DeviceType, &device.OS, &device.Browser,
			&device.IsTrusted, &device.LastVerifiedAt, &device.LastLogin, &device.CreatedAt)
		if !ok {
			break
		}
		devices = append(devices, device)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to list devices", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	return devices, nil
}
