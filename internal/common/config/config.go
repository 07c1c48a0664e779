// Package config provides configuration management for cohort.
// It supports loading configuration from environment variables, config files,
// and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cohort-dev/cohort/internal/common/logger"
)

// Config holds all configuration sections for cohort.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Logging      logger.Config      `mapstructure:"logging"`
	Store        StoreConfig        `mapstructure:"store"`
	Supervisor   SupervisorConfig   `mapstructure:"supervisor"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	Skills       SkillsConfig       `mapstructure:"skills"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
	BaseURL      string `mapstructure:"baseUrl"`      // optional base URL for outbound HTTP
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, sqlite, memory
	URL      string `mapstructure:"url"`    // postgres connection string
	Path     string `mapstructure:"path"`   // sqlite file path
	MaxConns int    `mapstructure:"maxConns"`
}

// NATSConfig holds event bus configuration. An empty URL selects the
// in-memory bus.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// StoreConfig carries the session store tunables. Every buffer cap and
// threshold the store uses lives here rather than in scattered constants.
type StoreConfig struct {
	HistorySoftCap    int           `mapstructure:"historySoftCap"`    // per-session history entries
	PendingCap        int           `mapstructure:"pendingCap"`        // per-session buffered SSE updates
	FlushThreshold    int           `mapstructure:"flushThreshold"`    // chars of buffered prose before a trace flush
	SweepInterval     time.Duration `mapstructure:"sweepInterval"`     // how often the sweeper runs
	IdleTTL           time.Duration `mapstructure:"idleTtl"`           // idle time before a session is evictable
	VCSSnapshotBudget time.Duration `mapstructure:"vcsSnapshotBudget"` // git snapshot time budget
}

// SupervisorConfig holds subprocess supervision tunables.
type SupervisorConfig struct {
	SpawnTimeout time.Duration `mapstructure:"spawnTimeout"`
	CloseGrace   time.Duration `mapstructure:"closeGrace"`
}

// OrchestratorConfig holds delegation settings.
type OrchestratorConfig struct {
	MaxParallelDelegations int    `mapstructure:"maxParallelDelegations"`
	SpecialistsFile        string `mapstructure:"specialistsFile"`
}

// WorkerConfig holds background worker cadences.
type WorkerConfig struct {
	DispatchInterval   time.Duration `mapstructure:"dispatchInterval"`
	CompletionInterval time.Duration `mapstructure:"completionInterval"`
}

// ProvidersConfig maps provider identifiers to launch commands.
// The command is resolved at spawn time; auth tokens come from
// <PROVIDER>_AUTH_TOKEN environment variables.
type ProvidersConfig struct {
	Commands map[string][]string `mapstructure:"commands"`
}

// SkillsConfig locates named skill documents.
type SkillsConfig struct {
	Dir string `mapstructure:"dir"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns "json" for production-like environments and
// "text" for terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("COHORT_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.baseUrl", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "")
	v.SetDefault("database.path", "./cohort.db")
	v.SetDefault("database.maxConns", 25)

	// Empty URL means use the in-memory event bus.
	v.SetDefault("nats.url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("store.historySoftCap", 500)
	v.SetDefault("store.pendingCap", 100)
	v.SetDefault("store.flushThreshold", 100)
	v.SetDefault("store.sweepInterval", 5*time.Minute)
	v.SetDefault("store.idleTtl", time.Hour)
	v.SetDefault("store.vcsSnapshotBudget", 5*time.Second)

	v.SetDefault("supervisor.spawnTimeout", 120*time.Second)
	v.SetDefault("supervisor.closeGrace", 5*time.Second)

	v.SetDefault("orchestrator.maxParallelDelegations", 1)
	v.SetDefault("orchestrator.specialistsFile", "")

	v.SetDefault("worker.dispatchInterval", 5*time.Second)
	v.SetDefault("worker.completionInterval", 15*time.Second)

	v.SetDefault("skills.dir", "./skills")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix COHORT_ with snake_case
// naming; the config file is config.yaml in the current directory or
// /etc/cohort/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("COHORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env vars whose names differ from the config keys.
	_ = v.BindEnv("server.port", "SERVER_PORT", "COHORT_SERVER_PORT")
	_ = v.BindEnv("database.driver", "COHORT_DB_DRIVER")
	_ = v.BindEnv("database.url", "COHORT_DB_URL", "DATABASE_URL")
	_ = v.BindEnv("database.path", "COHORT_DB_PATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/cohort/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.URL == "" {
			errs = append(errs, "database.url is required for the postgres driver")
		}
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database.driver: %s", cfg.Database.Driver))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Orchestrator.MaxParallelDelegations < 1 {
		errs = append(errs, "orchestrator.maxParallelDelegations must be at least 1")
	}

	if cfg.Store.HistorySoftCap < 1 || cfg.Store.PendingCap < 1 {
		errs = append(errs, "store caps must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
