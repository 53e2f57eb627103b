package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	SES           SESConfig
	Location      LocationConfig
	Security      SecurityConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	AccountBackendURL string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers            []string
	SecurityEventTopic string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL       string
	Username  string
	Password  string
	RiskIndex string
}

type KMSConfig struct {
	Enabled bool
	Region  string
	KeyID   string
}

type SESConfig struct {
	Enabled     bool
	Region      string
	FromAddress string
}

type LocationConfig struct {
	ProviderURL string
	APIKey      string
	Timeout     time.Duration
}

// SecurityConfig is the immutable snapshot handed to the login security engine
// at construction time. Nothing in the engine re-reads the environment.
type SecurityConfig struct {
	MaxLoginAttempts       int
	AttemptWindowSeconds   int
	LockoutDurationSeconds int

	RiskScores      RiskScores
	StepUpThreshold int

	OTPExpiration  time.Duration
	OTPMaxAttempts int
	OTPCodeLength  int

	RestrictedCountries []string
	RestrictedRegions   []string
}

type RiskScores struct {
	NewDevice     int
	CountryChange int
	RegionChange  int
	CityChange    int
	VPNUsage      int
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperRotationDays int
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment (and a .env file when
// present) and returns a single snapshot used for the life of the process.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AccountBackendURL: getEnv("ACCOUNT_BACKEND_URL", "http://localhost:8081"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "login_security"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:            getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			SecurityEventTopic: getEnv("KAFKA_SECURITY_EVENT_TOPIC", "security-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Database: getEnv("CLICKHOUSE_DATABASE", "login_analytics"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:       getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:  getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:  getEnv("ELASTICSEARCH_PASSWORD", ""),
			RiskIndex: getEnv("ELASTICSEARCH_RISK_INDEX", "risk-assessments"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			Region:  getEnv("KMS_REGION", "us-east-1"),
			KeyID:   getEnv("KMS_KEY_ID", ""),
		},
		SES: SESConfig{
			Enabled:     getEnvBool("SES_ENABLED", false),
			Region:      getEnv("SES_REGION", "us-east-1"),
			FromAddress: getEnv("SES_FROM_ADDRESS", "security@localhost"),
		},
		Location: LocationConfig{
			ProviderURL: getEnv("LOCATION_PROVIDER_URL", "http://localhost:8090"),
			APIKey:      getEnv("LOCATION_PROVIDER_API_KEY", ""),
			Timeout:     getEnvDuration("LOCATION_PROVIDER_TIMEOUT", 3*time.Second),
		},
		Security: SecurityConfig{
			MaxLoginAttempts:       getEnvInt("SECURITY_MAX_LOGIN_ATTEMPTS", 5),
			AttemptWindowSeconds:   getEnvInt("SECURITY_ATTEMPT_WINDOW_SECONDS", 3600),
			LockoutDurationSeconds: getEnvInt("SECURITY_LOCKOUT_DURATION_SECONDS", 900),
			RiskScores: RiskScores{
				NewDevice:     getEnvInt("RISK_SCORE_NEW_DEVICE", 30),
				CountryChange: getEnvInt("RISK_SCORE_COUNTRY_CHANGE", 40),
				RegionChange:  getEnvInt("RISK_SCORE_REGION_CHANGE", 20),
				CityChange:    getEnvInt("RISK_SCORE_CITY_CHANGE", 10),
				VPNUsage:      getEnvInt("RISK_SCORE_VPN_USAGE", 25),
			},
			StepUpThreshold:     getEnvInt("RISK_STEP_UP_THRESHOLD", 50),
			OTPExpiration:       getEnvDuration("OTP_EXPIRATION", 5*time.Minute),
			OTPMaxAttempts:      getEnvInt("OTP_MAX_ATTEMPTS", 3),
			OTPCodeLength:       getEnvInt("OTP_CODE_LENGTH", 6),
			RestrictedCountries: getEnvSlice("SECURITY_RESTRICTED_COUNTRIES", nil),
			RestrictedRegions:   getEnvSlice("SECURITY_RESTRICTED_REGIONS", []string{"New York"}),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_COST", 65536),
			Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 2),
			PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 30),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  getEnvInt("USER_BUCKETS", 128),
			EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
