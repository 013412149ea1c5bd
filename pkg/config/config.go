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
	Billing      BillingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BACKOFFICE_APP_ENV" required:"true"`
	Port         string `envconfig:"BACKOFFICE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BACKOFFICE_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"BACKOFFICE_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"BACKOFFICE_LOG_WARN_STACK" default:"false"`
	// MetricsAddr is where worker binaries expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"BACKOFFICE_METRICS_ADDR"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `envconfig:"BACKOFFICE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind     string `envconfig:"BACKOFFICE_SERVICE_KIND" default:"api"`
	WorkerID string `envconfig:"BACKOFFICE_WORKER_ID" default:"worker-0"`
}

type DBConfig struct {
	DSN    string `envconfig:"BACKOFFICE_DB_DSN"`
	Driver string `envconfig:"BACKOFFICE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BACKOFFICE_DB_HOST"`
	LegacyPort     int    `envconfig:"BACKOFFICE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BACKOFFICE_DB_USER"`
	LegacyPassword string `envconfig:"BACKOFFICE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BACKOFFICE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BACKOFFICE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BACKOFFICE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BACKOFFICE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BACKOFFICE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BACKOFFICE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BACKOFFICE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BACKOFFICE_REDIS_ADDR"`
	Password     string        `envconfig:"BACKOFFICE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BACKOFFICE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BACKOFFICE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BACKOFFICE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BACKOFFICE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BACKOFFICE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BACKOFFICE_REDIS_WRITE_TIMEOUT" default:"5s"`
	// IdempotencyTTL bounds how long a replayable response is kept.
	IdempotencyTTL time.Duration `envconfig:"BACKOFFICE_IDEMPOTENCY_TTL" default:"24h"`
}

type JWTConfig struct {
	Secret string `envconfig:"BACKOFFICE_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"BACKOFFICE_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BACKOFFICE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BACKOFFICE_AUTO_MIGRATE" default:"false"`
	// ProofCheck toggles the object existence probe for payment proofs.
	ProofCheck bool `envconfig:"BACKOFFICE_PROOF_CHECK" default:"true"`
}

// BillingConfig carries the catalog policy knobs for subscriptions.
type BillingConfig struct {
	FreePlanCode string `envconfig:"BACKOFFICE_FREE_PLAN_CODE" default:"GRATIS"`
}

func (b BillingConfig) validate() error {
	if strings.TrimSpace(b.FreePlanCode) == "" {
		return fmt.Errorf("%s must not be empty", EnvFreePlanCode)
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BACKOFFICE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BACKOFFICE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BACKOFFICE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	ProofBucket  string        `envconfig:"BACKOFFICE_GCS_PROOF_BUCKET" required:"true"`
	ProbeTimeout time.Duration `envconfig:"BACKOFFICE_GCS_PROBE_TIMEOUT" default:"5s"`
}

type PubSubConfig struct {
	BillingTopic string `envconfig:"BACKOFFICE_PUBSUB_BILLING_TOPIC" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"BACKOFFICE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"BACKOFFICE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"BACKOFFICE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"BACKOFFICE_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"BACKOFFICE_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"BACKOFFICE_CRON_LOCK_TTL" default:"30m"`
	// RefreshBatchSize is the page size of the entitlement sweep.
	RefreshBatchSize int `envconfig:"BACKOFFICE_CRON_REFRESH_BATCH_SIZE" default:"500"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = DefaultSQLiteDSN
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
