// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// PeachConfig carries the Peach Payments account and endpoint settings.
// SignatureMode selects how webhook signatures are canonicalized:
// "sorted_pairs" (default) or "raw_body". Never inferred at runtime.
type PeachConfig struct {
	AuthServiceURL   string        `yaml:"auth_service_url"`
	CheckoutEndpoint string        `yaml:"checkout_endpoint"`
	StatusEndpoint   string        `yaml:"status_endpoint"`
	ClientID         string        `yaml:"client_id"`
	ClientSecret     string        `yaml:"client_secret"`
	MerchantID       string        `yaml:"merchant_id"`
	EntityID         string        `yaml:"entity_id"`
	WebhookSecret    string        `yaml:"webhook_secret"`
	SignatureMode    string        `yaml:"signature_mode"`
	NotificationURL  string        `yaml:"notification_url"`
	ShopperResultURL string        `yaml:"shopper_result_url"`
	OriginDomain     string        `yaml:"origin_domain"`
	Timeout          time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	RenewalInterval   time.Duration `yaml:"renewal_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	PendingStaleAfter time.Duration `yaml:"pending_stale_after"`
	RenewInGrace      *bool         `yaml:"renew_in_grace"` // nil means default (true)
	Batch             int           `yaml:"batch"`
}

type SubscriptionConfig struct {
	GracePeriodDays    int `yaml:"grace_period_days"`
	MaxRenewalAttempts int `yaml:"max_renewal_attempts"`
}

type NotifyConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	Enabled       bool   `yaml:"enabled"`
}

// SecurityConfig controls encryption of stored gateway registration tokens.
// An empty key stores tokens as received.
type SecurityConfig struct {
	TokenEncryptionKey string `yaml:"token_encryption_key"` // 16, 24, or 32 bytes
}

type APIConfig struct {
	Addr           string        `yaml:"addr"`
	JWTSecret      string        `yaml:"jwt_secret"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Config struct {
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Peach        PeachConfig        `yaml:"peach"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Notify       NotifyConfig       `yaml:"notify"`
	Security     SecurityConfig     `yaml:"security"`
	API          APIConfig          `yaml:"api"`

	Runtime RuntimeConfig `yaml:"-"`
}

// RenewInGraceEnabled resolves the grace-renewal policy flag with its default.
func (c *Config) RenewInGraceEnabled() bool {
	if c.Scheduler.RenewInGrace == nil {
		return true
	}
	return *c.Scheduler.RenewInGrace
}

func LoadConfig() (*Config, error) {
	var configPath string = ""
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Peach.SignatureMode == "" {
		cfg.Peach.SignatureMode = "sorted_pairs"
	}
	if cfg.Peach.Timeout <= 0 {
		cfg.Peach.Timeout = 30 * time.Second
	}

	if cfg.Scheduler.RenewalInterval <= 0 {
		cfg.Scheduler.RenewalInterval = 24 * time.Hour
		if dev {
			cfg.Scheduler.RenewalInterval = time.Minute
		}
	}
	if cfg.Scheduler.ReconcileInterval <= 0 {
		cfg.Scheduler.ReconcileInterval = time.Minute
	}
	if cfg.Scheduler.PendingStaleAfter <= 0 {
		cfg.Scheduler.PendingStaleAfter = 10 * time.Minute
	}
	if cfg.Scheduler.Batch <= 0 {
		cfg.Scheduler.Batch = 200
	}

	if cfg.Subscription.GracePeriodDays <= 0 {
		cfg.Subscription.GracePeriodDays = 3
	}
	if cfg.Subscription.MaxRenewalAttempts <= 0 {
		cfg.Subscription.MaxRenewalAttempts = 5
	}

	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if cfg.API.SessionTTL <= 0 {
		cfg.API.SessionTTL = 30 * time.Minute
	}
	if cfg.API.RequestTimeout <= 0 {
		cfg.API.RequestTimeout = 15 * time.Second
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.API.JWTSecret == "" {
		return nil, errors.New("api.jwt_secret is required")
	}
	if cfg.Peach.WebhookSecret == "" {
		return nil, errors.New("peach.webhook_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
