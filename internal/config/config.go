// Package config provides configuration management for the change service.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Change    ChangeConfig    `mapstructure:"change"`
	Provision ProvisionConfig `mapstructure:"provision"`
	River     RiverConfig     `mapstructure:"river"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// A single pgxpool is shared by the repositories and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// ChangeConfig contains change-session settings.
type ChangeConfig struct {
	// SessionTimeout is the grace window after which an idle session is no
	// longer considered in use and may be expired by the cleanup job.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// NeedChangeForWrite requires an active change session for any write
	// permission outside the change app itself.
	NeedChangeForWrite bool `mapstructure:"need_change_for_write"`

	// ValueMaxLength bounds stored old/new diff values. Longer values are
	// truncated, a known limitation of the diff store.
	ValueMaxLength int `mapstructure:"value_max_length"`
}

// ProvisionConfig contains deployment pipeline settings.
type ProvisionConfig struct {
	// WorkerURL is the base URL of the external provisioning worker.
	WorkerURL string `mapstructure:"worker_url"`

	// WorkerArgs are extra arguments forwarded to the worker's prepare call.
	WorkerArgs []string `mapstructure:"worker_args"`

	// LogDir holds the live output log files of running provisions.
	LogDir string `mapstructure:"log_dir"`

	// DiffCommand and CommitCommand are the phase A and phase B executables
	// with their fixed argument lists.
	DiffCommand   []string `mapstructure:"diff_command"`
	CommitCommand []string `mapstructure:"commit_command"`
}

// RiverConfig contains River queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize   int `mapstructure:"general_pool_size"`
	ProvisionPoolSize int `mapstructure:"provision_pool_size"`
}

// SecurityConfig contains auth settings.
type SecurityConfig struct {
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	JWTExpiresIn  time.Duration `mapstructure:"jwt_expires_in"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/netbox-change")

	// No prefix: standard names like DATABASE_URL, SERVER_PORT, LOG_LEVEL.
	// Nested config maps as provision.worker_url → PROVISION_WORKER_URL.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Security.JWTSigningKey == "" {
		return fmt.Errorf("security.jwt_signing_key must not be empty")
	}
	if len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters")
	}
	if c.Change.ValueMaxLength <= 0 {
		return fmt.Errorf("change.value_max_length must be positive")
	}
	if len(c.Provision.DiffCommand) == 0 || len(c.Provision.CommitCommand) == 0 {
		return fmt.Errorf("provision.diff_command and provision.commit_command must be set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "netbox")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "netbox")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Change sessions
	v.SetDefault("change.session_timeout", "30m")
	v.SetDefault("change.need_change_for_write", true)
	v.SetDefault("change.value_max_length", 150)

	// Provisioning
	v.SetDefault("provision.worker_url", "http://localhost:8001")
	v.SetDefault("provision.worker_args", []string{})
	v.SetDefault("provision.log_dir", "/tmp")
	v.SetDefault("provision.diff_command", []string{"ansible-playbook", "--check", "--diff", "site.yaml"})
	v.SetDefault("provision.commit_command", []string{"ansible-playbook", "site.yaml"})

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 50)
	v.SetDefault("worker.provision_pool_size", 4)

	// Security
	v.SetDefault("security.jwt_issuer", "netbox-change")
	v.SetDefault("security.jwt_expires_in", "24h")
}
