package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Cron          CronConfig
	Stripe        StripeConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	BigQuery      BigQueryConfig
	Outbox        OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RENTLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"RENTLEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RENTLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RENTLEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RENTLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RENTLEDGER_DB_DSN"`
	Driver string `envconfig:"RENTLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RENTLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"RENTLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RENTLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"RENTLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"RENTLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"RENTLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RENTLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RENTLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RENTLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RENTLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RENTLEDGER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RENTLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"RENTLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"RENTLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RENTLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RENTLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RENTLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RENTLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RENTLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"RENTLEDGER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"RENTLEDGER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"RENTLEDGER_JWT_EXPIRATION_MINUTES" required:"true"`
}

// AuthRateLimitConfig throttles token-refresh traffic per source IP.
type AuthRateLimitConfig struct {
	RefreshWindow  time.Duration `envconfig:"RENTLEDGER_AUTH_REFRESH_WINDOW" default:"5m"`
	RefreshIPLimit int           `envconfig:"RENTLEDGER_AUTH_REFRESH_IP_LIMIT" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"RENTLEDGER_AUTO_MIGRATE" default:"false"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"RENTLEDGER_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"RENTLEDGER_CRON_LOCK_TTL" default:"2h"`
}

type StripeConfig struct {
	APIKey string `envconfig:"RENTLEDGER_STRIPE_API_KEY"`
	Secret string `envconfig:"RENTLEDGER_STRIPE_SECRET"`
	Env    string `envconfig:"RENTLEDGER_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RENTLEDGER_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"RENTLEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RENTLEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic              string `envconfig:"RENTLEDGER_PUBSUB_DOMAIN_TOPIC" required:"true"`
	DomainSubscription       string `envconfig:"RENTLEDGER_PUBSUB_DOMAIN_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"RENTLEDGER_PUBSUB_NOTIFICATION_TOPIC" default:"rl-notification-events"`
	AnalyticsTopic           string `envconfig:"RENTLEDGER_PUBSUB_ANALYTICS_TOPIC"`
	AnalyticsSubscription    string `envconfig:"RENTLEDGER_PUBSUB_ANALYTICS_SUBSCRIPTION"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"RENTLEDGER_BIGQUERY_DATASET" default:"rentledger"`
	PaymentEventsTable string `envconfig:"RENTLEDGER_BIGQUERY_PAYMENT_EVENTS_TABLE" default:"payment_events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"RENTLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"RENTLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"RENTLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"RENTLEDGER_OUTBOX_IDEMPOTENCY_TTL" default:"720h"`
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
