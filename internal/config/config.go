package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultSite          string        `mapstructure:"DEFAULT_SITE"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL          string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	AlertRefreshInterval time.Duration `mapstructure:"ALERT_REFRESH_INTERVAL"`
	AlertChannel         string        `mapstructure:"ALERT_CHANNEL"`
}

// Load reads .env (if present) and the environment. DATABASE_URL is
// required; use LoadWithoutDatabase for commands that never connect.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// LoadWithoutDatabase is Load for commands that only need settings, such
// as resolving the default site before a connection is made.
func LoadWithoutDatabase() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_SITE", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ALERT_REFRESH_INTERVAL", "1m")
	v.SetDefault("ALERT_CHANNEL", "nucmed:alerts")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DEFAULT_SITE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("REDIS_URL")
	v.BindEnv("ALERT_REFRESH_INTERVAL")
	v.BindEnv("ALERT_CHANNEL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to serve with. Outside
// development a token issuer and a way to verify its signatures are
// required.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER must be set when ENV=%q", c.Env)
		}
		if c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("one of AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
		}
	}
	if c.AlertRefreshInterval <= 0 {
		return fmt.Errorf("ALERT_REFRESH_INTERVAL must be positive, got %s", c.AlertRefreshInterval)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
