// Package config provides configuration loading and validation for the
// telemetry pipeline. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the telemetry pipeline.
type Config struct {
	Env string `koanf:"env"`

	// Storage. An empty DatabaseURL selects the in-memory store.
	DatabaseURL string `koanf:"database_url"`

	// Redis profile cache. Optional; empty disables caching.
	RedisAddr string `koanf:"redis_addr"`

	// Offline-queue spill file. Optional; empty disables spilling.
	SpillPath string `koanf:"spill_path"`

	// Tracking tunables
	MinViewDurationMS     int  `koanf:"min_view_duration_ms"`
	SessionSaveThrottleMS int  `koanf:"session_save_throttle_ms"`
	DetailedTracking      bool `koanf:"detailed_tracking"`

	// Queue tunables
	QueueCapacity   int  `koanf:"queue_capacity"`
	BatchSize       int  `koanf:"batch_size"`
	FlushIntervalMS int  `koanf:"flush_interval_ms"`
	OfflineQueue    bool `koanf:"offline_queue"`

	// Tracing
	TracingEnabled     bool    `koanf:"tracing_enabled"`
	TracingExporter    string  `koanf:"tracing_exporter"`
	OTLPEndpoint       string  `koanf:"otlp_endpoint"`
	TracingSampleRate  float64 `koanf:"tracing_sample_rate"`
	TracingServiceName string  `koanf:"tracing_service_name"`
}

// Configuration validation errors.
var (
	ErrInvalidQueueCapacity   = errors.New("QUEUE_CAPACITY must be a positive integer")
	ErrInvalidBatchSize       = errors.New("BATCH_SIZE must be a positive integer")
	ErrInvalidFlushInterval   = errors.New("FLUSH_INTERVAL_MS must be a positive integer")
	ErrInvalidMinViewDuration = errors.New("MIN_VIEW_DURATION_MS must not be negative")
	ErrInvalidSampleRate      = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidInteger         = errors.New("value must be a valid integer")
)

// Default values.
const (
	DefaultEnv                   = "development"
	DefaultMinViewDurationMS     = 1000
	DefaultSessionSaveThrottleMS = 5000
	DefaultDetailedTracking      = true
	DefaultQueueCapacity         = 100
	DefaultBatchSize             = 1
	DefaultFlushIntervalMS       = 3000
	DefaultOfflineQueue          = true
	DefaultTracingExporter       = "otlp-grpc"
	DefaultTracingSampleRate     = 1.0
	DefaultTracingServiceName    = "readpulse"
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	minView, err := getEnvIntOrDefault("READPULSE_MIN_VIEW_DURATION_MS", k.Int("min_view_duration_ms"), DefaultMinViewDurationMS)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	saveThrottle, err := getEnvIntOrDefault("READPULSE_SESSION_SAVE_THROTTLE_MS", k.Int("session_save_throttle_ms"), DefaultSessionSaveThrottleMS)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	capacity, err := getEnvIntOrDefault("READPULSE_QUEUE_CAPACITY", k.Int("queue_capacity"), DefaultQueueCapacity)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	batchSize, err := getEnvIntOrDefault("READPULSE_BATCH_SIZE", k.Int("batch_size"), DefaultBatchSize)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	flushInterval, err := getEnvIntOrDefault("READPULSE_FLUSH_INTERVAL_MS", k.Int("flush_interval_ms"), DefaultFlushIntervalMS)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	sampleRate, err := getEnvFloatOrDefault("READPULSE_TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Env:                   getEnvOrDefault("READPULSE_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:           getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:             getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		SpillPath:             getEnvOrKoanf("READPULSE_SPILL_PATH", k, "spill_path"),
		MinViewDurationMS:     minView,
		SessionSaveThrottleMS: saveThrottle,
		DetailedTracking:      getEnvBoolOrDefault("READPULSE_DETAILED_TRACKING", k, "detailed_tracking", DefaultDetailedTracking),
		QueueCapacity:         capacity,
		BatchSize:             batchSize,
		FlushIntervalMS:       flushInterval,
		OfflineQueue:          getEnvBoolOrDefault("READPULSE_OFFLINE_QUEUE", k, "offline_queue", DefaultOfflineQueue),
		TracingEnabled:        getEnvBoolOrDefault("READPULSE_TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporter:       getEnvOrDefault("READPULSE_TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		OTLPEndpoint:          getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSampleRate:     sampleRate,
		TracingServiceName:    getEnvOrDefault("READPULSE_TRACING_SERVICE_NAME", k.String("tracing_service_name"), DefaultTracingServiceName),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// Validate checks that all configuration values are in range.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.QueueCapacity <= 0 {
		errs = append(errs, ErrInvalidQueueCapacity)
	}
	if c.BatchSize <= 0 {
		errs = append(errs, ErrInvalidBatchSize)
	}
	if c.FlushIntervalMS <= 0 {
		errs = append(errs, ErrInvalidFlushInterval)
	}
	if c.MinViewDurationMS < 0 {
		errs = append(errs, ErrInvalidMinViewDuration)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}

	return errs
}

// MinViewDuration returns the minimum view duration as a time.Duration.
func (c *Config) MinViewDuration() time.Duration {
	return time.Duration(c.MinViewDurationMS) * time.Millisecond
}

// SessionSaveThrottle returns the session-save throttle as a time.Duration.
func (c *Config) SessionSaveThrottle() time.Duration {
	return time.Duration(c.SessionSaveThrottleMS) * time.Millisecond
}

// FlushInterval returns the flush interval as a time.Duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidInteger)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault returns the environment variable as bool if set, otherwise
// the koanf value if present in the file, or default.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}
