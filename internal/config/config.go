// Package config loads tracker configuration from files, environment
// variables, and runtime overrides.
//
// Precedence: runtime overrides > environment > config file > defaults.
// Environment variables use the COSTSENTRY_ prefix with underscores for
// nesting (e.g., COSTSENTRY_QUEUES_WORK_URL).
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	AWS     AWSConfig     `mapstructure:"aws"`
	Tables  TablesConfig  `mapstructure:"tables"`
	Queues  QueuesConfig  `mapstructure:"queues"`
	Params  ParamsConfig  `mapstructure:"params"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`

	// TestMode routes evaluation through the smoke-test coin flip. Never
	// enable against production queues.
	TestMode bool `mapstructure:"test_mode"`
}

// AWSConfig selects region, profile, and optional static credentials.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
}

// TablesConfig names the DynamoDB tables.
type TablesConfig struct {
	Control string `mapstructure:"control"`
	Results string `mapstructure:"results"`
}

// QueuesConfig holds the SQS queue URLs.
type QueuesConfig struct {
	WorkURL       string `mapstructure:"work_url"`
	CompletionURL string `mapstructure:"completion_url"`
}

// ParamsConfig configures runtime parameter resolution.
type ParamsConfig struct {
	// Prefix is the SSM Parameter Store path prefix.
	Prefix string `mapstructure:"prefix"`

	// OverridesFile is an optional YAML file whose entries shadow SSM.
	OverridesFile string `mapstructure:"overrides_file"`
}

// WorkerConfig tunes the work-item processors.
type WorkerConfig struct {
	// Concurrency bounds parallel items per received batch.
	Concurrency int `mapstructure:"concurrency"`

	// RateLimit caps Cost Explorer calls per second. Zero disables pacing.
	RateLimit float64 `mapstructure:"rate_limit"`

	// PollWait is the SQS long-poll duration.
	PollWait time.Duration `mapstructure:"poll_wait"`
}

// ServerConfig configures the health endpoint listener.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

var (
	configMu  sync.Mutex
	appConfig *Config
)

// Load reads configuration and stores the result for GetConfig. Optional
// runtime overrides (nested maps keyed like the config file) win over every
// other source.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	configMu.Lock()
	defer configMu.Unlock()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COSTSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("costsentry")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/costsentry")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No file is fine; env and defaults carry the day.
	}

	// Explicit Set sits above env vars in viper's precedence; a merged
	// config map would not.
	for _, override := range overrides {
		applyOverrides(v, "", override)
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	appConfig = &cfg
	return &cfg, nil
}

func applyOverrides(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			applyOverrides(v, path, nested)
			continue
		}
		v.Set(path, value)
	}
}

// GetConfig returns the most recently loaded config, or nil before Load.
func GetConfig() *Config {
	configMu.Lock()
	defer configMu.Unlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default so environment variables reach Unmarshal.
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.endpoint", "")

	v.SetDefault("tables.control", "BillingAnomalyControl")
	v.SetDefault("tables.results", "BillingAnomalyResults")

	v.SetDefault("queues.work_url", "")
	v.SetDefault("queues.completion_url", "")

	v.SetDefault("params.prefix", "/Billing/BAT")
	v.SetDefault("params.overrides_file", "")

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.rate_limit", 0.0)
	v.SetDefault("worker.poll_wait", "20s")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("test_mode", false)
}

// Validate checks the settings the long-running commands cannot start without.
func (c *Config) Validate(needWorkQueue, needCompletionQueue bool) error {
	if needWorkQueue && c.Queues.WorkURL == "" {
		return errors.New("config: queues.work_url is required")
	}
	if needCompletionQueue && c.Queues.CompletionURL == "" {
		return errors.New("config: queues.completion_url is required")
	}
	if c.Tables.Control == "" || c.Tables.Results == "" {
		return errors.New("config: tables.control and tables.results are required")
	}
	return nil
}
