package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	id "crowdledger/pkg/domain"
)

// EnvPrefix is prepended to every variable name below.
const EnvPrefix = "CROWDLEDGER_"

// Config is the server configuration, read from the environment.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	PlatformOwner   id.Identity   `env:"PLATFORM_OWNER,required,notEmpty"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	JWT         JWTConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	Idempotency IdempotencyConfig
	OTel        OTelConfig
}

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	SigningKey string        `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	Issuer     string        `env:"JWT_ISSUER" envDefault:"crowdledger"`
	Audience   string        `env:"JWT_AUDIENCE" envDefault:"crowdledger-api"`
	TokenTTL   time.Duration `env:"JWT_TOKEN_TTL" envDefault:"1h"`
}

// DatabaseConfig selects the Postgres ledger store. An empty URL keeps the
// ledger in memory.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig configures the shared idempotency cache. An empty URL keeps the
// cache in process.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig configures the event sink. No brokers means events are relayed
// to the log only.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"crowdledger.events"`
}

type OutboxConfig struct {
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
}

type IdempotencyConfig struct {
	TTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}

// OTelConfig enables trace export when Endpoint is set.
type OTelConfig struct {
	Endpoint    string `env:"OTEL_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"crowdledger"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field rules env tags cannot express.
func (c Config) Validate() error {
	if c.PlatformOwner.IsNil() {
		return errors.New("platform owner must not be the zero address")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	if c.JWT.SigningKey == "" {
		return errors.New("jwt signing key is required")
	}
	if c.Outbox.BatchSize <= 0 {
		return errors.New("outbox batch size must be positive")
	}
	if c.Outbox.PollInterval <= 0 {
		return errors.New("outbox poll interval must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}
	return nil
}
