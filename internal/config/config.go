// Package config loads process settings from the environment. A .env file in
// the working directory is read first when present; real environment
// variables always win over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/lockswap/pkg/logger"
)

// Ledger backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the full set of settings for cmd/lockswap.
type Config struct {
	Logging LoggingConfig
	HTTP    HTTPConfig
	Ledger  LedgerConfig
	Keeper  KeeperConfig
	Escrow  EscrowConfig
	Auth    AuthConfig
	Limits  RateLimitConfig
	Gate    GateConfig
	Audit   AuditConfig
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=text"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=lockswap"`
}

type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=10s"`
	CORSOrigins     string        `env:"CORS_ALLOWED_ORIGINS"`
}

type LedgerConfig struct {
	Backend     string `env:"LEDGER_BACKEND,default=memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPrefix string `env:"REDIS_PREFIX,default=lockswap"`
	MaxAttempts int    `env:"MAX_ATTEMPTS,default=3"`
}

type EscrowConfig struct {
	HashAlgorithm string `env:"HASH_ALGORITHM,default=sha256"`
}

type KeeperConfig struct {
	Interval time.Duration `env:"KEEPER_INTERVAL,default=30s"`
	Disabled bool          `env:"KEEPER_DISABLED,default=false"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"JWT_ISSUER"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS,default=50"`
	Burst             int     `env:"RATE_LIMIT_BURST,default=100"`
}

type GateConfig struct {
	DenyListPath  string `env:"DENY_LIST_PATH"`
	NeoAddressing bool   `env:"NEO_ADDRESS_POLICY,default=false"`
}

type AuditConfig struct {
	Path string `env:"AUDIT_LOG_PATH"`
	Size int    `env:"AUDIT_LOG_SIZE,default=500"`
}

// Load reads .env (if any) and decodes the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv decodes the current environment without touching .env.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	cfg.Ledger.Backend = strings.ToLower(strings.TrimSpace(cfg.Ledger.Backend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints envdecode cannot express.
func (c Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Ledger.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Ledger.Backend)
	}
	if c.Ledger.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", c.Ledger.MaxAttempts)
	}
	if c.Limits.RequestsPerSecond < 0 || c.Limits.Burst < 0 {
		return errors.New("rate limits must not be negative")
	}
	return nil
}

// LoggerConfig adapts the logging section for pkg/logger.
func (c Config) LoggerConfig() logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Output:     c.Logging.Output,
		FilePrefix: c.Logging.FilePrefix,
	}
}
