package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Settlement   SettlementConfig
	Webhooks     WebhooksConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"SETTLEMENT_APP_ENV" required:"true"`
	Port         string   `envconfig:"SETTLEMENT_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"SETTLEMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"SETTLEMENT_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"SETTLEMENT_CORS_ALLOWED_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SETTLEMENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SETTLEMENT_DB_DSN"`
	Driver string `envconfig:"SETTLEMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SETTLEMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"SETTLEMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SETTLEMENT_DB_USER"`
	LegacyPassword string `envconfig:"SETTLEMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SETTLEMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SETTLEMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SETTLEMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SETTLEMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SETTLEMENT_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SETTLEMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SETTLEMENT_REDIS_ADDR"`
	Password     string        `envconfig:"SETTLEMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SETTLEMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SETTLEMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SETTLEMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SETTLEMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the user management service.
type JWTConfig struct {
	Secret string `envconfig:"SETTLEMENT_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"SETTLEMENT_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SETTLEMENT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SETTLEMENT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"SETTLEMENT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL   time.Duration `envconfig:"SETTLEMENT_HTTP_IDEMPOTENCY_TTL" default:"24h"`
	ClaimLease           time.Duration `envconfig:"SETTLEMENT_EVENTING_CLAIM_LEASE" default:"5m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SETTLEMENT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SETTLEMENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SETTLEMENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersSubscription     string `envconfig:"SETTLEMENT_PUBSUB_ORDERS_SUBSCRIPTION" default:"settlement-order-placed-sub"`
	NotificationTopic      string `envconfig:"SETTLEMENT_PUBSUB_NOTIFICATION_TOPIC" default:"settlement-notification-events"`
	SettlementTopic        string `envconfig:"SETTLEMENT_PUBSUB_SETTLEMENT_TOPIC" default:"settlement-events"`
	SettlementSubscription string `envconfig:"SETTLEMENT_PUBSUB_SETTLEMENT_SUBSCRIPTION" default:"settlement-events-analytics-sub"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"SETTLEMENT_BIGQUERY_DATASET" default:"settlement"`
	SettlementTable  string `envconfig:"SETTLEMENT_BIGQUERY_SETTLEMENT_TABLE" default:"settlement_events"`
	InsertTimeoutSec int    `envconfig:"SETTLEMENT_BIGQUERY_INSERT_TIMEOUT_SEC" default:"10"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SETTLEMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"SETTLEMENT_OUTBOX_RETENTION" default:"720h"`
	DLQRetention   time.Duration `envconfig:"SETTLEMENT_OUTBOX_DLQ_RETENTION" default:"2160h"`
	PurgeBatchSize int           `envconfig:"SETTLEMENT_OUTBOX_PURGE_BATCH_SIZE" default:"1000"`
}

// SettlementConfig tunes the confirmation window and the two background schedules.
type SettlementConfig struct {
	GraceWindow              time.Duration `envconfig:"SETTLEMENT_CONFIRMATION_GRACE_WINDOW" default:"120h"`
	AutoConfirmBatchSize     int           `envconfig:"SETTLEMENT_AUTO_CONFIRM_BATCH_SIZE" default:"100"`
	AutoConfirmInterval      time.Duration `envconfig:"SETTLEMENT_AUTO_CONFIRM_INTERVAL" default:"5m"`
	AutoConfirmLockTTL       time.Duration `envconfig:"SETTLEMENT_AUTO_CONFIRM_LOCK_TTL" default:"10m"`
	PayoutPeriod             time.Duration `envconfig:"SETTLEMENT_PAYOUT_PERIOD" default:"168h"`
	PayoutSweepInterval      time.Duration `envconfig:"SETTLEMENT_PAYOUT_SWEEP_INTERVAL" default:"1h"`
	PayoutSweepLockTTL       time.Duration `envconfig:"SETTLEMENT_PAYOUT_SWEEP_LOCK_TTL" default:"5m"`
	StaleVersionMaxRetries   uint64        `envconfig:"SETTLEMENT_STALE_VERSION_MAX_RETRIES" default:"3"`
	StaleVersionRetryBackoff time.Duration `envconfig:"SETTLEMENT_STALE_VERSION_RETRY_BACKOFF" default:"25ms"`
}

func (s SettlementConfig) validate() error {
	if s.GraceWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvGraceWindow)
	}
	if s.PayoutPeriod < time.Hour {
		return fmt.Errorf("%s must be at least 1h", EnvPayoutPeriod)
	}
	return nil
}

type WebhooksConfig struct {
	PayoutSecret string `envconfig:"SETTLEMENT_PAYOUT_WEBHOOK_SECRET"`
}

// RateLimitConfig sets fixed-window budgets. A zero limit disables the policy.
type RateLimitConfig struct {
	Window       time.Duration `envconfig:"SETTLEMENT_RATE_LIMIT_WINDOW" default:"1m"`
	WebhookPerIP int           `envconfig:"SETTLEMENT_RATE_LIMIT_WEBHOOK_PER_IP" default:"120"`
	APIPerActor  int           `envconfig:"SETTLEMENT_RATE_LIMIT_API_PER_ACTOR" default:"600"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
