package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable consumed by the services.
const EnvPrefix = "SUBCYCLE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Gateway      GatewayConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Renewals     RenewalsConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUBCYCLE_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBCYCLE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SUBCYCLE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBCYCLE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SUBCYCLE_SERVICE_KIND" default:"renewal-worker"`
}

type DBConfig struct {
	DSN             string        `envconfig:"SUBCYCLE_DB_DSN" required:"true"`
	MaxOpenConns    int           `envconfig:"SUBCYCLE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBCYCLE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBCYCLE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBCYCLE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBCYCLE_REDIS_URL"`
	Address      string        `envconfig:"SUBCYCLE_REDIS_ADDR"`
	Password     string        `envconfig:"SUBCYCLE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBCYCLE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBCYCLE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUBCYCLE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUBCYCLE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBCYCLE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBCYCLE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// GatewayConfig holds the payment gateway credentials.
type GatewayConfig struct {
	AccessToken string        `envconfig:"SUBCYCLE_GATEWAY_ACCESS_TOKEN"`
	Env         string        `envconfig:"SUBCYCLE_GATEWAY_ENV" default:"sandbox"`
	LocationID  string        `envconfig:"SUBCYCLE_GATEWAY_LOCATION_ID"`
	Timeout     time.Duration `envconfig:"SUBCYCLE_GATEWAY_TIMEOUT" default:"15s"`
}

func (g GatewayConfig) Environment() string {
	return strings.ToLower(strings.TrimSpace(g.Env))
}

type GCPConfig struct {
	ProjectID       string `envconfig:"SUBCYCLE_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"SUBCYCLE_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"SUBCYCLE_PUBSUB_DOMAIN_TOPIC" default:"subcycle-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SUBCYCLE_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval   time.Duration `envconfig:"SUBCYCLE_OUTBOX_POLL_INTERVAL" default:"500ms"`
	MaxAttempts    int           `envconfig:"SUBCYCLE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	PublishTimeout time.Duration `envconfig:"SUBCYCLE_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
}

// RenewalsConfig tunes the renewal sweep job.
type RenewalsConfig struct {
	Interval  time.Duration `envconfig:"SUBCYCLE_RENEWALS_INTERVAL" default:"1h"`
	BatchSize int           `envconfig:"SUBCYCLE_RENEWALS_BATCH_SIZE" default:"250"`
	Workers   int           `envconfig:"SUBCYCLE_RENEWALS_WORKERS" default:"8"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SUBCYCLE_AUTO_MIGRATE" default:"false"`
}
