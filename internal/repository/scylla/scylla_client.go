package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"login-security/internal/config"
	"login-security/internal/util"
)

// PreparedStatements holds prepared statements that are actually used by the repositories
type PreparedStatements struct {
	UpsertDevice        *gocql.Query
	GetDevice           *gocql.Query
	GetDevicesByUser    *gocql.Query
	SetDeviceTrust      *gocql.Query
	TouchDevice         *gocql.Query
	InsertLoginEvent    *gocql.Query
	GetRecentEvents     *gocql.Query
	GetBans             *gocql.Query
	GetUserByID         *gocql.Query
	GetUserByIdentifier *gocql.Query
	UpdateRestrictions  *gocql.Query
	UpdateUserLastLogin *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.UpsertDevice = s.Session.Query(`
        INSERT INTO devices (
            user_bucket, user_id, fingerprint, device_id, name, device_type,
            os, browser, is_trusted, last_verified_at, last_login, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetDevice = s.Session.Query(`
        SELECT user_bucket, user_id, fingerprint, device_id, name, device_type,
            os, browser, is_trusted, last_verified_at, last_login, created_at
        FROM devices WHERE user_bucket = ? AND user_id = ? AND fingerprint = ?`)

	prepared.GetDevicesByUser = s.Session.Query(`
        SELECT user_bucket, user_id, fingerprint, device_id, name, device_type,
            os, browser, is_trusted, last_verified_at, last_login, created_at
        FROM devices WHERE user_bucket = ? AND user_id = ?`)

	prepared.SetDeviceTrust = s.Session.Query(`
        UPDATE devices SET is_trusted = ?, last_verified_at = ?
        WHERE user_bucket = ? AND user_id = ? AND fingerprint = ?`)

	prepared.TouchDevice = s.Session.Query(`
        UPDATE devices SET last_login = ?
        WHERE user_bucket = ? AND user_id = ? AND fingerprint = ?`)

	prepared.InsertLoginEvent = s.Session.Query(`
        INSERT INTO login_events (
            user_bucket, user_id, event_time, event_id, device_id, ip_address,
            city, region, country, is_vpn, risk_score
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetRecentEvents = s.Session.Query(`
        SELECT user_bucket, user_id, event_time, event_id, device_id, ip_address,
            city, region, country, is_vpn, risk_score
        FROM login_events WHERE user_bucket = ? AND user_id = ? LIMIT ?`)

	prepared.GetBans = s.Session.Query(`
        SELECT ban_type, value, reason FROM banned_countries WHERE ban_type = ?`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, user_id, identifier_hash, contact_encrypted,
            contact_key_id, contact_masked, contact_channel, identity_status,
            identity_provider_ref, restrictions_disabled, created_at, last_login
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetUserByIdentifier = s.Session.Query(`
        SELECT user_bucket, user_id FROM identifier_to_user WHERE identifier_hash = ?`)

	prepared.UpdateRestrictions = s.Session.Query(`
        UPDATE users SET restrictions_disabled = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateUserLastLogin = s.Session.Query(`
        UPDATE users SET last_login = ? WHERE user_bucket = ? AND user_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("Selected ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
