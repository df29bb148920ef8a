package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Telemetry      TelemetryConfig
	Reconciliation ReconciliationConfig
	Guard          GuardConfig
	Batch          BatchConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool    // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool    // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration
}

// ReconciliationConfig holds matching and allocation settings
type ReconciliationConfig struct {
	AmountTolerance float64 // tight amount band, fraction of the expected amount
	LooseTolerance  float64 // loose amount band
	CycleWindowDays int     // days around a billing date that count as on-cycle
	MaxSuggestions  int
	DefaultStrategy string // fifo, nearest_due, highest_interest
	MaxRetries      int    // attempts on optimistic lock conflicts
	StoreTimeout    time.Duration
}

// GuardConfig holds overpayment and duplicate guard thresholds
type GuardConfig struct {
	OutlierMultiplier   float64
	AbsoluteCeiling     float64
	OverpaymentHeadroom float64
	InvoiceVariance     float64
}

// BatchConfig holds batch reconciler settings
type BatchConfig struct {
	Workers           int
	PageSize          int
	LockTTL           time.Duration
	AllocateUnmatched bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with RECON_ prefix (e.g., RECON_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Reconciliation: ReconciliationConfig{
			AmountTolerance: v.GetFloat64("reconciliation.amount_tolerance"),
			LooseTolerance:  v.GetFloat64("reconciliation.loose_tolerance"),
			CycleWindowDays: v.GetInt("reconciliation.cycle_window_days"),
			MaxSuggestions:  v.GetInt("reconciliation.max_suggestions"),
			DefaultStrategy: v.GetString("reconciliation.default_strategy"),
			MaxRetries:      v.GetInt("reconciliation.max_retries"),
			StoreTimeout:    v.GetDuration("reconciliation.store_timeout"),
		},
		Guard: GuardConfig{
			OutlierMultiplier:   v.GetFloat64("guard.outlier_multiplier"),
			AbsoluteCeiling:     v.GetFloat64("guard.absolute_ceiling"),
			OverpaymentHeadroom: v.GetFloat64("guard.overpayment_headroom"),
			InvoiceVariance:     v.GetFloat64("guard.invoice_variance"),
		},
		Batch: BatchConfig{
			Workers:           v.GetInt("batch.workers"),
			PageSize:          v.GetInt("batch.page_size"),
			LockTTL:           v.GetDuration("batch.lock_ttl"),
			AllocateUnmatched: v.GetBool("batch.allocate_unmatched"),
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
	if cfg.App.Name == "" {
		cfg.App.Name = "reconciliation"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "reconciliation"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
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
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "reconciliation"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Reconciliation.AmountTolerance == 0 {
		cfg.Reconciliation.AmountTolerance = 0.05
	}
	if cfg.Reconciliation.LooseTolerance == 0 {
		cfg.Reconciliation.LooseTolerance = 0.20
	}
	if cfg.Reconciliation.CycleWindowDays == 0 {
		cfg.Reconciliation.CycleWindowDays = 7
	}
	if cfg.Reconciliation.MaxSuggestions == 0 {
		cfg.Reconciliation.MaxSuggestions = 10
	}
	if cfg.Reconciliation.DefaultStrategy == "" {
		cfg.Reconciliation.DefaultStrategy = "fifo"
	}
	if cfg.Reconciliation.MaxRetries == 0 {
		cfg.Reconciliation.MaxRetries = 3
	}
	if cfg.Guard.OutlierMultiplier == 0 {
		cfg.Guard.OutlierMultiplier = 10
	}
	if cfg.Guard.AbsoluteCeiling == 0 {
		cfg.Guard.AbsoluteCeiling = 25000
	}
	if cfg.Guard.OverpaymentHeadroom == 0 {
		cfg.Guard.OverpaymentHeadroom = 0.10
	}
	if cfg.Guard.InvoiceVariance == 0 {
		cfg.Guard.InvoiceVariance = 0.20
	}
	if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = 4
	}
	if cfg.Batch.PageSize == 0 {
		cfg.Batch.PageSize = 200
	}
	if cfg.Batch.LockTTL == 0 {
		cfg.Batch.LockTTL = 30 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	r := c.Reconciliation
	if r.AmountTolerance < 0 || r.AmountTolerance >= 1 {
		return fmt.Errorf("reconciliation.amount_tolerance must be in [0, 1), got %f", r.AmountTolerance)
	}
	if r.LooseTolerance < r.AmountTolerance || r.LooseTolerance >= 1 {
		return fmt.Errorf("reconciliation.loose_tolerance must be in [amount_tolerance, 1), got %f", r.LooseTolerance)
	}
	if r.CycleWindowDays < 0 || r.CycleWindowDays > 31 {
		return fmt.Errorf("reconciliation.cycle_window_days must be between 0 and 31, got %d", r.CycleWindowDays)
	}
	if r.MaxSuggestions < 0 {
		return fmt.Errorf("reconciliation.max_suggestions cannot be negative")
	}
	switch r.DefaultStrategy {
	case "fifo", "nearest_due", "highest_interest":
	default:
		return fmt.Errorf("reconciliation.default_strategy must be one of fifo, nearest_due, highest_interest, got %q", r.DefaultStrategy)
	}
	if r.MaxRetries < 1 {
		return fmt.Errorf("reconciliation.max_retries must be at least 1")
	}

	g := c.Guard
	if g.OutlierMultiplier < 0 || g.AbsoluteCeiling < 0 || g.OverpaymentHeadroom < 0 || g.InvoiceVariance < 0 {
		return fmt.Errorf("guard thresholds cannot be negative")
	}

	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1")
	}
	if c.Batch.PageSize < 1 {
		return fmt.Errorf("batch.page_size must be at least 1")
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis host:port address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
