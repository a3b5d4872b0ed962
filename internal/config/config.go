// Package config loads the coordinator configuration from defaults, an
// optional YAML file, and WARDSYNC_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wardsync/internal/coordinator"
	"wardsync/internal/notify"
)

// Storage selects and parameterizes the operation-log backend.
type Storage struct {
	Driver      string `yaml:"driver"`
	PostgresURL string `yaml:"postgres_url"`
	MaxConns    int32  `yaml:"max_conns"`
}

// MQTT configures the optional broker bridge for change notifications.
type MQTT struct {
	Enabled          bool   `yaml:"enabled"`
	Broker           string `yaml:"broker"`
	ClientID         string `yaml:"client_id"`
	TopicPrefix      string `yaml:"topic_prefix"`
	PublishTimeoutMS int    `yaml:"publish_timeout_ms"`
}

// Config holds the coordinator node configuration.
type Config struct {
	NodeID      string `yaml:"node_id"`
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	HealthAddr  string `yaml:"health_addr"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MaxBatchSize      int    `yaml:"max_batch_size"`
	MergeRetryLimit   int    `yaml:"merge_retry_limit"`
	RetrySlotMS       int    `yaml:"retry_slot_ms"`
	RetryMaxMS        int    `yaml:"retry_max_ms"`
	StaleLagThreshold uint64 `yaml:"stale_lag_threshold"`
	DedupeCacheSize   int    `yaml:"dedupe_cache_size"`

	Storage Storage `yaml:"storage"`
	MQTT    MQTT    `yaml:"mqtt"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		NodeID:            "coordinator-1",
		ListenAddr:        ":8080",
		MetricsAddr:       ":9090",
		HealthAddr:        ":8086",
		LogLevel:          "info",
		LogFormat:         "json",
		MaxBatchSize:      coordinator.DefaultMaxBatch,
		MergeRetryLimit:   coordinator.DefaultRetryLimit,
		RetrySlotMS:       10,
		RetryMaxMS:        2000,
		StaleLagThreshold: 20,
		DedupeCacheSize:   coordinator.DefaultDedupeSize,
		Storage: Storage{
			Driver:   "memory",
			MaxConns: 8,
		},
		MQTT: MQTT{
			TopicPrefix:      "wardsync",
			PublishTimeoutMS: 5000,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if path is non-empty), then environment overrides. The result is
// validated before it is returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides individual settings from the environment. Setting
// WARDSYNC_MQTT_BROKER also enables the bridge.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WARDSYNC_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("WARDSYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("WARDSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WARDSYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("WARDSYNC_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("WARDSYNC_POSTGRES_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("WARDSYNC_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
}

// Validate checks the configuration for values the coordinator cannot run
// with. Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []error

	if c.NodeID == "" {
		errs = append(errs, errors.New("node_id cannot be empty"))
	}
	if strings.HasPrefix(c.NodeID, "_") {
		// Keys starting with underscore are reserved in serialized clocks.
		errs = append(errs, fmt.Errorf("node_id cannot start with underscore: %s", c.NodeID))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr cannot be empty"))
	}
	if c.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("max_batch_size must be positive, got %d", c.MaxBatchSize))
	}
	if c.MergeRetryLimit < 0 {
		errs = append(errs, fmt.Errorf("merge_retry_limit cannot be negative, got %d", c.MergeRetryLimit))
	}
	if c.RetrySlotMS < 0 || c.RetryMaxMS < 0 {
		errs = append(errs, errors.New("retry backoff durations cannot be negative"))
	}
	if c.DedupeCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("dedupe_cache_size must be positive, got %d", c.DedupeCacheSize))
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, errors.New("storage.postgres_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q (expected memory or postgres)", c.Storage.Driver))
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (expected json or console)", c.LogFormat))
	}
	return errors.Join(errs...)
}

// CoordinatorConfig converts the tuning knobs into the coordinator's
// runtime configuration.
func (c *Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		MaxBatch:   c.MaxBatchSize,
		RetryLimit: c.MergeRetryLimit,
		RetrySlot:  time.Duration(c.RetrySlotMS) * time.Millisecond,
		RetryMax:   time.Duration(c.RetryMaxMS) * time.Millisecond,
		StaleLag:   c.StaleLagThreshold,
		DedupeSize: c.DedupeCacheSize,
	}
}

// MQTTConfig converts the bridge settings into the notifier's
// configuration.
func (c *Config) MQTTConfig() notify.MQTTConfig {
	return notify.MQTTConfig{
		Broker:         c.MQTT.Broker,
		ClientID:       c.MQTT.ClientID,
		TopicPrefix:    c.MQTT.TopicPrefix,
		PublishTimeout: time.Duration(c.MQTT.PublishTimeoutMS) * time.Millisecond,
	}
}
