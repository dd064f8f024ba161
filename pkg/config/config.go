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
	HTTP         HTTPConfig
	FeatureFlags FeatureFlagsConfig
	Ledger       LedgerConfig
	Pricing      PricingConfig
	Assignment   AssignmentConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"RENTFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"RENTFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RENTFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RENTFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RENTFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RENTFLOW_DB_DSN"`
	Driver string `envconfig:"RENTFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RENTFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"RENTFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RENTFLOW_DB_USER"`
	LegacyPassword string `envconfig:"RENTFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"RENTFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"RENTFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RENTFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RENTFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RENTFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RENTFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver targets an embedded sqlite file.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"RENTFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RENTFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"RENTFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"RENTFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RENTFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RENTFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RENTFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RENTFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RENTFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"RENTFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"RENTFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"RENTFLOW_JWT_EXPIRATION_MINUTES" required:"true"`
}

// HTTPConfig covers the API edge: CORS and per-caller throttling.
type HTTPConfig struct {
	CORSAllowedOrigins []string      `envconfig:"RENTFLOW_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	RateLimitWindow    time.Duration `envconfig:"RENTFLOW_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitIP        int           `envconfig:"RENTFLOW_RATE_LIMIT_IP" default:"600"`
	RateLimitSubject   int           `envconfig:"RENTFLOW_RATE_LIMIT_SUBJECT" default:"240"`
	ReadTimeout        time.Duration `envconfig:"RENTFLOW_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout       time.Duration `envconfig:"RENTFLOW_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"RENTFLOW_HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RENTFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RENTFLOW_AUTO_MIGRATE" default:"false"`
}

type LedgerConfig struct {
	MaxAttempts int `envconfig:"RENTFLOW_LEDGER_MAX_ATTEMPTS" default:"5"`
}

type PricingConfig struct {
	CacheTTL     time.Duration `envconfig:"RENTFLOW_PRICING_CACHE_TTL" default:"15m"`
	CacheEnabled bool          `envconfig:"RENTFLOW_PRICING_CACHE_ENABLED" default:"true"`
}

type AssignmentConfig struct {
	OfferTTL      time.Duration `envconfig:"RENTFLOW_ASSIGNMENT_OFFER_TTL" default:"30m"`
	MaxActiveJobs int           `envconfig:"RENTFLOW_ASSIGNMENT_MAX_ACTIVE_JOBS" default:"5"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"RENTFLOW_CRON_INTERVAL" default:"30s"`
	LockTTL             time.Duration `envconfig:"RENTFLOW_CRON_LOCK_TTL" default:"5m"`
	ExpiryBatchSize     int           `envconfig:"RENTFLOW_CRON_EXPIRY_BATCH_SIZE" default:"100"`
	OutboxRetentionDays int           `envconfig:"RENTFLOW_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RENTFLOW_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"RENTFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RENTFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"RENTFLOW_PUBSUB_NOTIFICATION_TOPIC" default:"rf-notification-events"`
	JobsTopic         string `envconfig:"RENTFLOW_PUBSUB_JOBS_TOPIC" default:"rf-job-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"RENTFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"RENTFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"RENTFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
