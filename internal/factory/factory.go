package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/sync/errgroup"

	"login-security/internal/bucketing"
	"login-security/internal/client"
	"login-security/internal/config"
	"login-security/internal/encryption"
	"login-security/internal/events"
	"login-security/internal/hashing"
	"login-security/internal/notify"
	redisrepo "login-security/internal/repository/redis"
	"login-security/internal/repository/scylla"
	"login-security/internal/security"
	"login-security/internal/service"
	"login-security/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	locationClient   *client.LocationClient
	credentialClient *client.CredentialClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Repositories
	attemptCache    *redisrepo.AttemptWindowCache
	otpSessionCache *redisrepo.OTPSessionCache
	deviceRepo      *scylla.DeviceRepository
	loginEventRepo  *scylla.LoginEventRepository
	bannedRepo      *scylla.BannedCountryRepository
	userRepo        *scylla.UserRepository

	// Engine components
	rateLimiter  *security.IdentifierRateLimiter
	locationEval *security.LocationRiskEvaluator
	deviceTrust  *security.DeviceTrustRegistry
	aggregator   *security.RiskAggregator
	otpFlow      *security.OtpStepUpFlow
	regionGuard  *security.RegionalAccessGuard

	sender       *notify.Sender
	publisher    *events.Publisher
	loginService *service.LoginService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("ses_enabled", cfg.SES.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without risk index", util.ErrorField(err))
	} else {
		f.esClient = esClient
		if err := f.esClient.HealthCheck(); err != nil {
			util.Warn("Elasticsearch health check failed", util.ErrorField(err))
		} else {
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed - proceeding without analytics sink", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			util.Warn("ClickHouse health check failed", util.ErrorField(err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	f.locationClient = client.NewLocationClient(f.config)
	f.credentialClient = client.NewCredentialClient(f.config)

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("KMS configuration failed, falling back to local keys", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	if f.config.IsProduction() {
		f.hasher.StartPepperRotation()
	}
}

// ==============================
// Repositories
// ==============================

func (f *Factory) AttemptWindowCache() *redisrepo.AttemptWindowCache {
	if f.attemptCache == nil {
		f.attemptCache = redisrepo.NewAttemptWindowCache(f.redisClient)
	}
	return f.attemptCache
}

func (f *Factory) OTPSessionCache() *redisrepo.OTPSessionCache {
	if f.otpSessionCache == nil {
		f.otpSessionCache = redisrepo.NewOTPSessionCache(f.redisClient)
	}
	return f.otpSessionCache
}

func (f *Factory) DeviceRepository() *scylla.DeviceRepository {
	if f.deviceRepo == nil {
		f.deviceRepo = scylla.NewDeviceRepository(f.scyllaClient)
	}
	return f.deviceRepo
}

func (f *Factory) LoginEventRepository() *scylla.LoginEventRepository {
	if f.loginEventRepo == nil {
		f.loginEventRepo = scylla.NewLoginEventRepository(f.scyllaClient)
	}
	return f.loginEventRepo
}

func (f *Factory) BannedCountryRepository() *scylla.BannedCountryRepository {
	if f.bannedRepo == nil {
		f.bannedRepo = scylla.NewBannedCountryRepository(f.scyllaClient)
	}
	return f.bannedRepo
}

func (f *Factory) UserRepository() *scylla.UserRepository {
	if f.userRepo == nil {
		f.userRepo = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager, f.encryptionManager)
	}
	return f.userRepo
}

// ==============================
// Engine components
// ==============================

func (f *Factory) RateLimiter() *security.IdentifierRateLimiter {
	if f.rateLimiter == nil {
		f.rateLimiter = security.NewIdentifierRateLimiter(f.AttemptWindowCache(), &f.config.Security)
	}
	return f.rateLimiter
}

func (f *Factory) LocationEvaluator() *security.LocationRiskEvaluator {
	if f.locationEval == nil {
		f.locationEval = security.NewLocationRiskEvaluator(
			f.locationClient,
			f.BannedCountryRepository(),
			f.LoginEventRepository(),
			f.UserRepository(),
			f.bucketingManager,
			&f.config.Security,
		)
	}
	return f.locationEval
}

func (f *Factory) DeviceTrust() *security.DeviceTrustRegistry {
	if f.deviceTrust == nil {
		f.deviceTrust = security.NewDeviceTrustRegistry(
			f.DeviceRepository(),
			f.bucketingManager,
			f.LocationEvaluator(),
			&f.config.Security,
		)
	}
	return f.deviceTrust
}

func (f *Factory) RiskAggregator() *security.RiskAggregator {
	if f.aggregator == nil {
		f.aggregator = security.NewRiskAggregator(f.DeviceTrust(), f.LocationEvaluator())
	}
	return f.aggregator
}

func (f *Factory) OtpFlow() (*security.OtpStepUpFlow, error) {
	if f.otpFlow == nil {
		sender, err := f.Sender()
		if err != nil {
			return nil, err
		}
		f.otpFlow = security.NewOtpStepUpFlow(
			f.OTPSessionCache(),
			f.UserRepository(),
			f.hasher,
			sender,
			&f.config.Security,
		)
	}
	return f.otpFlow, nil
}

func (f *Factory) RegionGuard() *security.RegionalAccessGuard {
	if f.regionGuard == nil {
		f.regionGuard = security.NewRegionalAccessGuard(f.locationClient, &f.config.Security)
	}
	return f.regionGuard
}

func (f *Factory) Sender() (*notify.Sender, error) {
	if f.sender == nil {
		sender, err := notify.NewSender(f.config)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize notification sender: %w", err)
		}
		f.sender = sender
	}
	return f.sender, nil
}

func (f *Factory) Publisher() *events.Publisher {
	if f.publisher == nil {
		f.publisher = events.NewPublisher(f.kafkaProducer, f.clickhouseClient, f.esClient, f.config)
	}
	return f.publisher
}

func (f *Factory) LoginService() (*service.LoginService, error) {
	if f.loginService == nil {
		otpFlow, err := f.OtpFlow()
		if err != nil {
			return nil, err
		}
		sender, err := f.Sender()
		if err != nil {
			return nil, err
		}
		f.loginService = service.NewLoginService(
			f.RegionGuard(),
			f.RateLimiter(),
			f.RiskAggregator(),
			f.DeviceTrust(),
			otpFlow,
			f.credentialClient,
			f.UserRepository(),
			f.LoginEventRepository(),
			f.hasher,
			f.bucketingManager,
			f.Publisher(),
			sender,
			&f.config.Security,
		)
	}
	return f.loginService, nil
}

// ==============================
// Health checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)
	var mu sync.Mutex

	record := func(name string, err error) {
		mu.Lock()
		healthErrors[name] = err
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if f.redisClient == nil {
			record("redis", fmt.Errorf("redis client not initialized"))
		} else if err := f.redisClient.HealthCheck(gctx); err != nil {
			record("redis", err)
		}
		return nil
	})
	g.Go(func() error {
		if f.scyllaClient == nil {
			record("scylla", fmt.Errorf("scylla client not initialized"))
		} else if err := f.scyllaClient.HealthCheck(); err != nil {
			record("scylla", err)
		}
		return nil
	})
	g.Go(func() error {
		if f.esClient != nil {
			if err := f.esClient.HealthCheck(); err != nil {
				record("elasticsearch", err)
			}
		}
		return nil
	})
	g.Go(func() error {
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.HealthCheck(gctx); err != nil {
				record("clickhouse", err)
			}
		}
		return nil
	})
	g.Go(func() error {
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.HealthCheck(gctx); err != nil {
				record("kafka", err)
			}
		}
		return nil
	})

	g.Wait()

	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}
	if f.bucketingManager == nil {
		healthErrors["bucketing"] = fmt.Errorf("bucketing manager not initialized")
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

// ==============================
// Lifecycle
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
