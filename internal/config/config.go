package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/hengadev/errsx"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	RedisURL    string `mapstructure:"REDIS_URL"`
	CachePrefix string `mapstructure:"CACHE_PREFIX"`

	BlobBackend string `mapstructure:"BLOB_BACKEND"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	ProfileBackend      string `mapstructure:"PROFILE_BACKEND"`
	BackendURL          string `mapstructure:"BACKEND_URL"`
	BackendTokenURL     string `mapstructure:"BACKEND_TOKEN_URL"`
	BackendClientID     string `mapstructure:"BACKEND_CLIENT_ID"`
	BackendClientSecret string `mapstructure:"BACKEND_CLIENT_SECRET"`

	GrantSweepInterval time.Duration `mapstructure:"GRANT_SWEEP_INTERVAL"`

	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitWriteRPS   float64       `mapstructure:"RATE_LIMIT_WRITE_RPS"`
	RateLimitWriteBurst int           `mapstructure:"RATE_LIMIT_WRITE_BURST"`
	RateLimitIdleTTL    time.Duration `mapstructure:"RATE_LIMIT_IDLE_TTL"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"REDIS_URL", "CACHE_PREFIX",
	"BLOB_BACKEND", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"PROFILE_BACKEND", "BACKEND_URL", "BACKEND_TOKEN_URL", "BACKEND_CLIENT_ID", "BACKEND_CLIENT_SECRET",
	"GRANT_SWEEP_INTERVAL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "RATE_LIMIT_WRITE_RPS", "RATE_LIMIT_WRITE_BURST", "RATE_LIMIT_IDLE_TTL",
}

func Load() (*Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CACHE_PREFIX", "portal")
	v.SetDefault("BLOB_BACKEND", "memory")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("KAFKA_TOPIC", "portal.notifications")
	v.SetDefault("PROFILE_BACKEND", "postgres")
	v.SetDefault("GRANT_SWEEP_INTERVAL", "15m")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("RATE_LIMIT_WRITE_RPS", 5)
	v.SetDefault("RATE_LIMIT_WRITE_BURST", 20)
	v.SetDefault("RATE_LIMIT_IDLE_TTL", "3m")

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated lists arrive as a single string from the environment.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesRemoteProfiles reports whether profile reads and writes go to the
// remote REST backend instead of Postgres.
func (c *Config) UsesRemoteProfiles() bool {
	return c.ProfileBackend == "remote"
}

// Validate checks that the configuration is safe to run and reports every
// problem at once, keyed by setting name.
func (c *Config) Validate() error {
	var errs errsx.Map

	if !c.IsDev() && c.AuthSigningKey == "" {
		errs.Set("AUTH_SIGNING_KEY", fmt.Errorf("required outside development (ENV=%q)", c.Env))
	}
	if c.AuthSigningKey != "" {
		if key, err := hex.DecodeString(c.AuthSigningKey); err != nil {
			errs.Set("AUTH_SIGNING_KEY", fmt.Errorf("not valid hex: %w", err))
		} else if len(key) < 32 {
			errs.Set("AUTH_SIGNING_KEY", fmt.Errorf("must be at least 32 bytes, got %d", len(key)))
		}
	}

	switch c.BlobBackend {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			errs.Set("S3_BUCKET", fmt.Errorf("required when BLOB_BACKEND is \"s3\""))
		}
	default:
		errs.Set("BLOB_BACKEND", fmt.Errorf("must be \"memory\" or \"s3\", got %q", c.BlobBackend))
	}

	switch c.ProfileBackend {
	case "postgres":
	case "remote":
		if c.BackendURL == "" {
			errs.Set("BACKEND_URL", fmt.Errorf("required when PROFILE_BACKEND is \"remote\""))
		}
		if c.BackendTokenURL != "" && c.BackendClientID == "" {
			errs.Set("BACKEND_CLIENT_ID", fmt.Errorf("required when BACKEND_TOKEN_URL is set"))
		}
	default:
		errs.Set("PROFILE_BACKEND", fmt.Errorf("must be \"postgres\" or \"remote\", got %q", c.ProfileBackend))
	}

	if c.GrantSweepInterval < 0 {
		errs.Set("GRANT_SWEEP_INTERVAL", fmt.Errorf("must not be negative"))
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs.Set("RATE_LIMIT_RPS", fmt.Errorf("rate and burst must be positive, got %v/%d", c.RateLimitRPS, c.RateLimitBurst))
	}
	if c.RateLimitWriteRPS <= 0 || c.RateLimitWriteBurst <= 0 {
		errs.Set("RATE_LIMIT_WRITE_RPS", fmt.Errorf("rate and burst must be positive, got %v/%d", c.RateLimitWriteRPS, c.RateLimitWriteBurst))
	}

	return errs.AsError()
}
