// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the negotiator service.
type Config struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	API       APIConfig       `mapstructure:"api"`
	History   HistoryConfig   `mapstructure:"history"`
	Tuning    TuningConfig    `mapstructure:"tuning"`
	Ensemble  EnsembleConfig  `mapstructure:"ensemble"`
	Events    EventsConfig    `mapstructure:"events"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AuthKey, when set, is required in the X-API-Key header for all
	// mutating operations.
	AuthKey string `mapstructure:"auth_key"`
}

// HistoryConfig holds outcome store configuration.
type HistoryConfig struct {
	DBPath        string `mapstructure:"db_path"`
	RetentionRows int    `mapstructure:"retention_rows"`
}

// TuningConfig holds weight tuner and scheduler configuration.
type TuningConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	IntervalSec  int     `mapstructure:"interval_sec"`
	SampleLimit  int     `mapstructure:"sample_limit"`
	LearningRate float64 `mapstructure:"learning_rate"`
	L2Lambda     float64 `mapstructure:"l2_lambda"`
}

// Interval returns the tuning interval as a duration.
func (c *TuningConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// EnsembleConfig holds initial ensemble weights.
type EnsembleConfig struct {
	HeuristicWeightInit float64 `mapstructure:"heuristic_weight_init"`
	MLWeightInit        float64 `mapstructure:"ml_weight_init"`
}

// EventsConfig holds Kafka outcome event publishing configuration.
type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TelemetryConfig holds OpenTelemetry tracing configuration.
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("NEG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind env vars: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8085)
	v.SetDefault("api.read_timeout", 15*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.request_timeout", 30*time.Second)
	v.SetDefault("api.shutdown_timeout", 10*time.Second)

	v.SetDefault("history.db_path", "./negotiator.db")
	v.SetDefault("history.retention_rows", 1_000_000)

	v.SetDefault("tuning.enabled", true)
	v.SetDefault("tuning.interval_sec", 300)
	v.SetDefault("tuning.sample_limit", 100)
	v.SetDefault("tuning.learning_rate", 0.05)
	v.SetDefault("tuning.l2_lambda", 1e-3)

	v.SetDefault("ensemble.heuristic_weight_init", 0.6)
	v.SetDefault("ensemble.ml_weight_init", 0.4)

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.topic", "deployment.outcomes")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.insecure", true)
}

// bindEnvVars binds dotted keys to NEG_-prefixed variables, plus the bare
// aliases the deployment tooling already exports.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"env",
		"log_level",
		"api.host",
		"api.port",
		"api.read_timeout",
		"api.write_timeout",
		"api.request_timeout",
		"api.shutdown_timeout",
		"api.auth_key",
		"history.db_path",
		"history.retention_rows",
		"tuning.enabled",
		"tuning.interval_sec",
		"tuning.sample_limit",
		"tuning.learning_rate",
		"tuning.l2_lambda",
		"ensemble.heuristic_weight_init",
		"ensemble.ml_weight_init",
		"events.enabled",
		"events.brokers",
		"events.topic",
		"metrics.enabled",
		"metrics.path",
		"telemetry.enabled",
		"telemetry.endpoint",
		"telemetry.insecure",
	}

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	aliases := map[string][]string{
		"history.db_path":                {"HISTORY_DB_PATH"},
		"tuning.enabled":                 {"ENABLE_TUNING"},
		"tuning.interval_sec":            {"TUNING_INTERVAL_SEC"},
		"ensemble.heuristic_weight_init": {"HEURISTIC_WEIGHT_INIT"},
		"ensemble.ml_weight_init":        {"ML_WEIGHT_INIT"},
		"api.auth_key":                   {"API_AUTH_KEY"},
	}

	for key, envs := range aliases {
		args := append([]string{key, "NEG_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("failed to bind alias for %s: %w", key, err)
		}
	}

	return nil
}

// normalize fixes up values that arrive in degenerate shapes: a non-positive
// tuning interval and initial weights that do not sum to 1.
func (c *Config) normalize() {
	if c.Tuning.IntervalSec <= 0 {
		c.Tuning.IntervalSec = 300
	}
	if c.Tuning.SampleLimit <= 0 {
		c.Tuning.SampleLimit = 100
	}

	sum := c.Ensemble.HeuristicWeightInit + c.Ensemble.MLWeightInit
	if math.Abs(sum-1.0) > 1e-9 ||
		c.Ensemble.HeuristicWeightInit < 0 || c.Ensemble.MLWeightInit < 0 {
		c.Ensemble.HeuristicWeightInit = 0.6
		c.Ensemble.MLWeightInit = 0.4
	}
}

// Address returns the API server address.
func (c *APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
