// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"propertyhub/backend/internal/security"
	sessionrepo "propertyhub/backend/internal/session/repository"
)

// Session store backends selectable with SESSION_STORE.
const (
	StorePostgres = sessionrepo.BackendPostgres
	StoreRedis    = sessionrepo.BackendRedis
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN for users, audit logs and, with the postgres store, sessions.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SessionStore selects where refresh sessions live: "postgres" or "redis".
	SessionStore string `mapstructure:"SESSION_STORE"`
	// StoreTimeout bounds each session store mutation (e.g. "5s").
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`

	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	// JWTAccessSecret is the HMAC key for access credentials, inline or "file:<path>".
	JWTAccessSecret string `mapstructure:"JWT_ACCESS_SECRET"`
	// JWTRefreshSecret is the HMAC key for refresh credentials; must differ from the access key.
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	JWTIssuer        string `mapstructure:"JWT_ISSUER"`
	JWTAudience      string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access credential lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh credential lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint enables OTel export when set (host:port or URL).
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// SecurityKafkaBrokers is a comma-separated list of Kafka brokers. When set, security events
	// are also published to SecurityKafkaTopic.
	SecurityKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	SecurityKafkaTopic   string `mapstructure:"SECURITY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the security event worker (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the security event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	storeTimeout  time.Duration
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Missing, unreadable or identical
// JWT secrets and unparsable durations are errors.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_STORE", StorePostgres)
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "propertyhub")
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ISSUER", "propertyhub-auth")
	v.SetDefault("JWT_AUDIENCE", "propertyhub-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "propertyhub-backend")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_KAFKA_TOPIC", "propertyhub-security-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "propertyhub-security-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	switch cfg.SessionStore {
	case StorePostgres:
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("config: REDIS_ADDR must be set when SESSION_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("config: SESSION_STORE must be %q or %q, got %q", StorePostgres, StoreRedis, cfg.SessionStore)
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	var err error
	if cfg.accessTTL, err = positiveDuration("JWT_ACCESS_TTL", cfg.JWTAccessTTL); err != nil {
		return nil, err
	}
	if cfg.refreshTTL, err = positiveDuration("JWT_REFRESH_TTL", cfg.JWTRefreshTTL); err != nil {
		return nil, err
	}
	if cfg.storeTimeout, err = positiveDuration("STORE_TIMEOUT", cfg.StoreTimeout); err != nil {
		return nil, err
	}

	if cfg.accessSecret, err = security.LoadSecret(cfg.JWTAccessSecret); err != nil {
		return nil, fmt.Errorf("config: JWT_ACCESS_SECRET: %w", err)
	}
	if cfg.refreshSecret, err = security.LoadSecret(cfg.JWTRefreshSecret); err != nil {
		return nil, fmt.Errorf("config: JWT_REFRESH_SECRET: %w", err)
	}
	if string(cfg.accessSecret) == string(cfg.refreshSecret) {
		return nil, errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	return &cfg, nil
}

func positiveDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}

// AccessTTL is the parsed JWTAccessTTL.
func (c *Config) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL is the parsed JWTRefreshTTL.
func (c *Config) RefreshTTL() time.Duration { return c.refreshTTL }

// StoreTimeoutDuration is the parsed StoreTimeout.
func (c *Config) StoreTimeoutDuration() time.Duration { return c.storeTimeout }

// StoreConfig returns the session store selection and connection settings.
func (c *Config) StoreConfig() sessionrepo.StoreConfig {
	return sessionrepo.StoreConfig{
		Backend:       c.SessionStore,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		KeyPrefix:     c.RedisKeyPrefix,
		Timeout:       c.storeTimeout,
	}
}

// CodecConfig returns the token codec settings with resolved secrets.
func (c *Config) CodecConfig() security.CodecConfig {
	return security.CodecConfig{
		AccessSecret:  c.accessSecret,
		RefreshSecret: c.refreshSecret,
		Issuer:        c.JWTIssuer,
		Audience:      c.JWTAudience,
		AccessTTL:     c.accessTTL,
		RefreshTTL:    c.refreshTTL,
	}
}

// SecurityKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka producer.
func (c *Config) SecurityKafkaBrokersList() []string {
	if c == nil || c.SecurityKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.SecurityKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
