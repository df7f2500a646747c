// Package config loads server configuration from config.toml and
// WORKSHOP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/oneshot/workshop-ledger/jobcard"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// WORKSHOP_COSTING_POLICY=WEIGHTED_AVERAGE.
const EnvPrefix = "WORKSHOP"

// Config holds all application configuration
type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Log      LogConfig
	Costing  CostingConfig
	Lock     LockConfig
	Events   EventsConfig
}

type HTTPConfig struct {
	Addr             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

type DatabaseConfig struct {
	Path string // SQLite file, or ":memory:"
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

type CostingConfig struct {
	// Policy is the default until one is saved through the API.
	Policy            inventory.CostingPolicy
	Restoration       jobcard.RestorationMode
	Retries           int
	LowStockThreshold decimal.Decimal
}

type LockConfig struct {
	Backend   string // local, redis
	RedisAddr string
	Prefix    string
	TTL       time.Duration
	Wait      time.Duration
}

type EventsConfig struct {
	Backend string // none, kafka
	Brokers []string
	Topic   string
}

// Load reads configuration. Priority (highest to lowest):
// 1. Environment variables with the WORKSHOP_ prefix
// 2. The config file (path, or config.toml in . and ./config)
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Parsed below, so they need their defaults before applyDefaults runs.
	v.SetDefault("costing.policy", string(inventory.PolicyFIFO))
	v.SetDefault("costing.restoration", string(jobcard.RestoreChargedCost))

	policy, err := inventory.ParseCostingPolicy(v.GetString("costing.policy"))
	if err != nil {
		return nil, fmt.Errorf("costing.policy: %w", err)
	}
	restoration, err := jobcard.ParseRestorationMode(v.GetString("costing.restoration"))
	if err != nil {
		return nil, fmt.Errorf("costing.restoration: %w", err)
	}
	var lowStock decimal.Decimal
	if raw := v.GetString("costing.low_stock_threshold"); raw != "" {
		if lowStock, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("costing.low_stock_threshold: %w", err)
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:             v.GetString("http.addr"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Costing: CostingConfig{
			Policy:            policy,
			Restoration:       restoration,
			Retries:           v.GetInt("costing.retries"),
			LowStockThreshold: lowStock,
		},
		Lock: LockConfig{
			Backend:   strings.ToLower(v.GetString("lock.backend")),
			RedisAddr: v.GetString("lock.redis_addr"),
			Prefix:    v.GetString("lock.prefix"),
			TTL:       v.GetDuration("lock.ttl"),
			Wait:      v.GetDuration("lock.wait"),
		},
		Events: EventsConfig{
			Backend: strings.ToLower(v.GetString("events.backend")),
			Brokers: v.GetStringSlice("events.brokers"),
			Topic:   v.GetString("events.topic"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		cfg.HTTP.CORSAllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/workshop.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Costing.Retries == 0 {
		cfg.Costing.Retries = inventory.DefaultRetries
	}
	if cfg.Costing.LowStockThreshold.IsZero() {
		cfg.Costing.LowStockThreshold = inventory.DefaultLowStockThreshold
	}
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = "local"
	}
	if cfg.Lock.Prefix == "" {
		cfg.Lock.Prefix = "workshop:lock:"
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = 30 * time.Second
	}
	if cfg.Lock.Wait == 0 {
		cfg.Lock.Wait = 5 * time.Second
	}
	if cfg.Events.Backend == "" {
		cfg.Events.Backend = "none"
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "workshop.events"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Costing.Retries < 1 {
		return fmt.Errorf("costing.retries must be at least 1")
	}
	if c.Costing.LowStockThreshold.IsNegative() {
		return fmt.Errorf("costing.low_stock_threshold must not be negative")
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required when lock.backend is redis")
		}
	default:
		return fmt.Errorf("lock.backend must be local or redis, got %q", c.Lock.Backend)
	}

	switch c.Events.Backend {
	case "none":
	case "kafka":
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events.brokers is required when events.backend is kafka")
		}
	default:
		return fmt.Errorf("events.backend must be none or kafka, got %q", c.Events.Backend)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}
