package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"login-security/internal/client"
	"login-security/internal/config"
	"login-security/internal/models"
	"login-security/internal/util"
)

// SecurityEvent is the envelope fanned out to the event stream and the
// analytics sinks after every completed risk assessment.
type SecurityEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	UserID      string    `json:"user_id"`
	ClientIP    string    `json:"client_ip"`
	Fingerprint string    `json:"fingerprint"`
	Country     string    `json:"country,omitempty"`
	Region      string    `json:"region,omitempty"`
	City        string    `json:"city,omitempty"`
	IsVPN       bool      `json:"is_vpn"`
	RiskScore   int       `json:"risk_score"`
	Reasons     []string  `json:"reasons,omitempty"`
	Outcome     string    `json:"outcome"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const (
	EventTypeLoginAssessed = "login.assessed"
	EventTypeLoginBlocked  = "login.blocked"
	EventTypeOtpIssued     = "otp.issued"
	EventTypeOtpVerified   = "otp.verified"
)

// Publisher fans security events out to Kafka, ClickHouse, and
// Elasticsearch. Every sink is best-effort: a sink failure is logged and
// never reaches the login path. Any sink may be nil when not configured.
type Publisher struct {
	kafka      *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
	topic      string
	riskIndex  string
}

func NewPublisher(kafka *client.KafkaProducer, ch *client.ClickHouseClient, es *client.ESClient, cfg *config.Config) *Publisher {
	return &Publisher{
		kafka:      kafka,
		clickhouse: ch,
		es:         es,
		topic:      cfg.Kafka.SecurityEventTopic,
		riskIndex:  cfg.Elasticsearch.RiskIndex,
	}
}

// PublishAssessment emits the outcome of one login attempt. Runs in the
// request goroutine up to the Kafka async enqueue; the analytics sinks are
// written in the background so the login response never waits on them.
func (p *Publisher) PublishAssessment(userID string, sc models.SecurityContext, assessment *models.RiskAssessment, eventType, outcome string) {
	event := &SecurityEvent{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		UserID:      userID,
		ClientIP:    sc.ClientIP,
		Fingerprint: sc.Fingerprint,
		Outcome:     outcome,
		OccurredAt:  time.Now().UTC(),
	}
	if assessment != nil {
		event.RiskScore = assessment.Score
		event.Reasons = assessment.Reasons
		if assessment.Location != nil {
			event.Country = assessment.Location.Country
			event.Region = assessment.Location.Region
			event.City = assessment.Location.City
			event.IsVPN = assessment.Location.IsVPN
		}
	}

	p.publishKafka(event)
	go p.publishAnalytics(event)
}

func (p *Publisher) publishKafka(event *SecurityEvent) {
	if p.kafka == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("Failed to marshal security event", zap.Error(err))
		return
	}

	headers := map[string]string{"event_type": event.EventType}
	if err := p.kafka.ProduceMessage(ctx, p.topic, []byte(event.UserID), payload, headers); err != nil {
		util.Warn("Failed to enqueue security event",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}

func (p *Publisher) publishAnalytics(event *SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if p.clickhouse != nil {
		err := p.clickhouse.Exec(ctx, `
            INSERT INTO login_events
                (event_id, event_type, user_id, client_ip, fingerprint,
                 country, region, city, is_vpn, risk_score, outcome, occurred_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.EventID, event.EventType, event.UserID, event.ClientIP,
			event.Fingerprint, event.Country, event.Region, event.City,
			event.IsVPN, event.RiskScore, event.Outcome, event.OccurredAt)
		if err != nil {
			util.Warn("Failed to write event to analytics store",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}

	if p.es != nil {
		if _, err := p.es.IndexDocument(ctx, p.riskIndex, event.EventID, event); err != nil {
			util.Warn("Failed to index risk event",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}
}

// RecentRiskyLogins returns the latest indexed events at or above minScore,
// newest first. Serves the fraud-review read path; requires the audit index.
func (p *Publisher) RecentRiskyLogins(ctx context.Context, minScore, limit int) ([]*SecurityEvent, error) {
	if p.es == nil {
		return nil, errors.New("risk audit index is not configured")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"occurred_at": map[string]string{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"risk_score": map[string]int{"gte": minScore},
			},
		},
	}

	res, err := p.es.Search(ctx, p.riskIndex, query)
	if err != nil {
		return nil, fmt.Errorf("risk audit search failed: %w", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source *SecurityEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := p.es.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("risk audit search failed: %w", err)
	}

	events := make([]*SecurityEvent, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		if hit.Source != nil {
			events = append(events, hit.Source)
		}
	}
	return events, nil
}
