package scylla

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"login-security/internal/models"
	"login-security/internal/util"
)

// lastLocationScanLimit bounds how far back we look for an event that
// carries a country. Events with an empty country (location provider was
// down) are skipped, not treated as a location.
const lastLocationScanLimit = 50

type LoginEventRepository struct {
	client *ScyllaClient
}

func NewLoginEventRepository(client *ScyllaClient) *LoginEventRepository {
	return &LoginEventRepository{client: client}
}

// RecordEvent appends one login event. Events are immutable once written.
func (r *LoginEventRepository) RecordEvent(event *models.LoginEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}

	query := r.client.Prepared.InsertLoginEvent.Bind(
		event.UserBucket, event.UserID, event.EventTime, event.EventID,
		event.DeviceID, event.IPAddress, event.City, event.Region,
		event.Country, event.IsVPN, event.RiskScore)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to record login event",
			zap.String("user_id", event.UserID),
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return fmt.Errorf("failed to record login event: %w", err)
	}

	util.Debug("Login event recorded",
		zap.String("user_id", event.UserID),
		zap.String("event_id", event.EventID),
		zap.Int("risk_score", event.RiskScore))

	return nil
}

// GetRecentEvents returns up to limit events, newest first.
func (r *LoginEventRepository) GetRecentEvents(userBucket int, userID string, limit int) ([]*models.LoginEvent, error) {
	iter := r.client.Prepared.GetRecentEvents.Bind(userBucket, userID, limit).Iter()

	var events []*models.LoginEvent
	for {
		event := &models.LoginEvent{}
		ok := iter.Scan(
			&event.UserBucket, &event.UserID, &event.EventTime, &event.EventID,
			&event.DeviceID, &event.IPAddress, &event.City, &event.Region,
			&event.Country, &event.IsVPN, &event.RiskScore)
		if !ok {
			break
		}
		events = append(events, event)
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to get recent login events", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get recent login events: %w", err)
	}

	return events, nil
}

// GetLastKnownLocation returns the newest event whose country is non-empty,
// or nil when the user has no usable location history.
func (r *LoginEventRepository) GetLastKnownLocation(userBucket int, userID string) (*models.LoginEvent, error) {
	events, err := r.GetRecentEvents(userBucket, userID, lastLocationScanLimit)
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		if event.Country != "" {
			return event, nil
		}
	}
	return nil, nil
}
