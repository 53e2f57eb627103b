package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"login-security/internal/bucketing"
	"login-security/internal/encryption"
	"login-security/internal/models"
	"login-security/internal/util"
)

type UserRepository struct {
	client     *ScyllaClient
	buckets    *bucketing.BucketingManager
	encryption *encryption.EncryptionManager
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.BucketingManager, em *encryption.EncryptionManager) *UserRepository {
	return &UserRepository{
		client:     client,
		buckets:    buckets,
		encryption: em,
	}
}

func (r *UserRepository) GetUserByID(userID string) (*models.User, error) {
	user := &models.User{}
	userBucket := r.buckets.GetUserBucket(userID)

	query := r.client.Prepared.GetUserByID.Bind(userBucket, userID)

	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.IdentifierHash, &user.ContactEncrypted,
		&user.ContactKeyID, &user.ContactMasked, &user.ContactChannel, &user.IdentityStatus,
		&user.IdentityProviderRef, &user.RestrictionsOff, &user.CreatedAt, &user.LastLogin)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("user not found with ID: %s", userID)
		}
		util.Error("Failed to get user by ID",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetUserByIdentifier resolves a normalized login identifier hash through
// the identifier_to_user mapping, then loads the user row.
func (r *UserRepository) GetUserByIdentifier(identifierHash string) (*models.User, error) {
	var userBucket int
	var userID string

	query := r.client.Prepared.GetUserByIdentifier.Bind(identifierHash)

	err := r.client.ScanWithRetry(query, &userBucket, &userID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("user not found for identifier")
		}
		util.Error("Failed to resolve identifier", zap.Error(err))
		return nil, fmt.Errorf("failed to resolve identifier: %w", err)
	}

	return r.GetUserByID(userID)
}

// DecryptContact opens the envelope-encrypted contact for OTP delivery.
// Callers must never log or return the plaintext.
func (r *UserRepository) DecryptContact(ctx context.Context, user *models.User) (string, error) {
	if len(user.ContactEncrypted) == 0 {
		return "", fmt.Errorf("user %s has no contact on file", user.UserID)
	}

	var envelope encryption.EncryptedData
	if err := json.Unmarshal(user.ContactEncrypted, &envelope); err != nil {
		return "", fmt.Errorf("failed to decode contact envelope: %w", err)
	}

	contact, err := r.encryption.DecryptField(ctx, &envelope)
	if err != nil {
		util.Error("Failed to decrypt user contact",
			zap.String("user_id", user.UserID),
			zap.String("key_id", user.ContactKeyID),
			zap.Error(err))
		return "", fmt.Errorf("failed to decrypt user contact: %w", err)
	}
	return contact, nil
}

// UpdateRestrictionFlag flips the per-user exemption from regional
// restriction rules.
func (r *UserRepository) UpdateRestrictionFlag(userID string, disabled bool) error {
	userBucket := r.buckets.GetUserBucket(userID)

	query := r.client.Prepared.UpdateRestrictions.Bind(disabled, userBucket, userID)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to update restriction flag",
			zap.String("user_id", userID),
			zap.Bool("disabled", disabled),
			zap.Error(err))
		return fmt.Errorf("failed to update restriction flag: %w", err)
	}

	util.Info("Restriction flag updated",
		zap.String("user_id", userID),
		zap.Bool("disabled", disabled))

	return nil
}

func (r *UserRepository) UpdateLastLogin(userID string) error {
	userBucket := r.buckets.GetUserBucket(userID)
	now := time.Now().UTC()

	query := r.client.Prepared.UpdateUserLastLogin.Bind(&now, userBucket, userID)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Warn("Failed to update user last login",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to update user last login: %w", err)
	}
	return nil
}
