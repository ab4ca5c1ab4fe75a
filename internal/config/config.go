package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	AvailabilityCacheTTL  int    `mapstructure:"AVAILABILITY_CACHE_TTL"`
	AvailabilityDaysAhead int    `mapstructure:"AVAILABILITY_DAYS_AHEAD"`
	SlotStrideMinutes     int    `mapstructure:"SLOT_STRIDE_MINUTES"`
	WarmCron              string `mapstructure:"WARM_CRON"`
	WarmServiceLimit      int    `mapstructure:"WARM_SERVICE_LIMIT"`

	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AVAILABILITY_CACHE_TTL", "AVAILABILITY_DAYS_AHEAD", "SLOT_STRIDE_MINUTES",
	"WARM_CRON", "WARM_SERVICE_LIMIT",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AVAILABILITY_CACHE_TTL", 60)
	v.SetDefault("AVAILABILITY_DAYS_AHEAD", 30)
	v.SetDefault("SLOT_STRIDE_MINUTES", 15)
	v.SetDefault("WARM_CRON", "")
	v.SetDefault("WARM_SERVICE_LIMIT", 50)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine; the environment alone is enough.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Env values arrive as one comma-separated string.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// CacheTTL is zero when caching is disabled.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.AvailabilityCacheTTL) * time.Second
}

func (c *Config) SlotStride() time.Duration {
	return time.Duration(c.SlotStrideMinutes) * time.Minute
}

// Validate checks that the configuration is safe to run. Outside development
// a token verification source is required.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}
	if c.SlotStrideMinutes <= 0 || c.SlotStrideMinutes > 60 {
		return fmt.Errorf("SLOT_STRIDE_MINUTES must be between 1 and 60, got %d", c.SlotStrideMinutes)
	}
	if c.AvailabilityDaysAhead <= 0 {
		return fmt.Errorf("AVAILABILITY_DAYS_AHEAD must be positive, got %d", c.AvailabilityDaysAhead)
	}
	if c.AvailabilityCacheTTL < 0 {
		return fmt.Errorf("AVAILABILITY_CACHE_TTL must not be negative, got %d", c.AvailabilityCacheTTL)
	}
	if c.WarmCron != "" {
		if _, err := cron.ParseStandard(c.WarmCron); err != nil {
			return fmt.Errorf("WARM_CRON is not a valid cron expression: %w", err)
		}
		if c.WarmServiceLimit <= 0 {
			return fmt.Errorf("WARM_SERVICE_LIMIT must be positive when WARM_CRON is set")
		}
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}
