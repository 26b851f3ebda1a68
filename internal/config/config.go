package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the process-wide settings
type Config struct {
	Env     string
	Addr    string
	LogMode string
	Store   string

	Database Database
	Redis    Redis
	Auth     Auth
	Quiz     Quiz
	Promo    Promo
	Admin    Admin

	UploadDir           string
	LeaderboardCacheTTL time.Duration
	PromocodeGating     bool
}

// Database holds the relational store connection settings
type Database struct {
	Endpoint   string
	Credential string
}

// Redis holds the Redis connection settings
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Auth holds the token settings
type Auth struct {
	SigningSecret string
	TokenLifetime time.Duration
}

// Quiz holds the quiz engine settings
type Quiz struct {
	PoolSampleSize int
}

// Admin is the administrator account ensured at startup; empty Email skips it
type Admin struct {
	Email    string
	Password string
}

// Promo holds the promocode redemption settings
type Promo struct {
	MaxRedeemRetries int
	RedeemRateLimit  int
}

const devSecret = "dev-only-secret-change-me"

// Load reads configuration from defaults, an optional .env file and the environment.
// Environment variables are prefixed with LMS_, e.g. LMS_DATABASE_ENDPOINT.
func Load() (*Config, error) {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("env", "dev")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_mode", "dev")
	v.SetDefault("store", "postgres")
	v.SetDefault("database_endpoint", "postgres://postgres@localhost:5432/ilm?sslmode=disable")
	v.SetDefault("database_credential", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("token_signing_secret", "")
	v.SetDefault("token_lifetime_minutes", 30)
	v.SetDefault("pool_sample_size", 10)
	v.SetDefault("max_redeem_retries", 3)
	v.SetDefault("redeem_rate_limit", 10)
	v.SetDefault("upload_dir", filepath.Join("uploads", "images"))
	v.SetDefault("leaderboard_cache_ttl", 30*time.Second)
	v.SetDefault("promocode_gating", false)
	v.SetDefault("admin_email", "")
	v.SetDefault("admin_password", "")

	env := strings.ToLower(os.Getenv("LMS_ENV"))
	if env == "" {
		env = "dev"
	}

	// load config/.env.<env> if it exists
	dotEnvPath := filepath.Join("config", ".env."+env)
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", dotEnvPath)
	}

	v.SetEnvPrefix("LMS")
	v.AutomaticEnv()

	cfg := &Config{
		Env:     v.GetString("env"),
		Addr:    v.GetString("http_addr"),
		LogMode: v.GetString("log_mode"),
		Store:   v.GetString("store"),
		Database: Database{
			Endpoint:   v.GetString("database_endpoint"),
			Credential: v.GetString("database_credential"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Auth: Auth{
			SigningSecret: v.GetString("token_signing_secret"),
			TokenLifetime: time.Duration(v.GetInt("token_lifetime_minutes")) * time.Minute,
		},
		Quiz: Quiz{
			PoolSampleSize: v.GetInt("pool_sample_size"),
		},
		Promo: Promo{
			MaxRedeemRetries: v.GetInt("max_redeem_retries"),
			RedeemRateLimit:  v.GetInt("redeem_rate_limit"),
		},
		Admin: Admin{
			Email:    v.GetString("admin_email"),
			Password: v.GetString("admin_password"),
		},
		UploadDir:           v.GetString("upload_dir"),
		LeaderboardCacheTTL: v.GetDuration("leaderboard_cache_ttl"),
		PromocodeGating:     v.GetBool("promocode_gating"),
	}

	if cfg.Auth.SigningSecret == "" && !cfg.IsProd() {
		cfg.Auth.SigningSecret = devSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProd reports whether the process runs in production mode
func (c *Config) IsProd() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}

// Validate checks the settings that have no safe fallback
func (c *Config) Validate() error {
	if c.Auth.SigningSecret == "" {
		return errors.New("config: token_signing_secret is required")
	}
	if c.Auth.TokenLifetime <= 0 {
		return errors.New("config: token_lifetime_minutes must be positive")
	}
	if c.Quiz.PoolSampleSize <= 0 {
		return errors.New("config: pool_sample_size must be positive")
	}
	if c.Promo.MaxRedeemRetries <= 0 {
		return errors.New("config: max_redeem_retries must be positive")
	}
	if c.Admin.Email != "" && c.Admin.Password == "" {
		return errors.New("config: admin_password is required with admin_email")
	}
	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	return nil
}

// DatabaseURL returns the connection string with the credential applied
func (c *Config) DatabaseURL() (string, error) {
	if c.Database.Credential == "" {
		return c.Database.Endpoint, nil
	}
	u, err := url.Parse(c.Database.Endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parsing database_endpoint")
	}
	username := "postgres"
	if u.User != nil && u.User.Username() != "" {
		username = u.User.Username()
	}
	u.User = url.UserPassword(username, c.Database.Credential)
	return u.String(), nil
}
