package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level replica configuration loaded from file/env.
type Config struct {
	ReplicaID    string             `json:"replicaId" mapstructure:"replicaId"`
	DataDir      string             `json:"dataDir" mapstructure:"dataDir"`
	Partitions   int                `json:"partitions" mapstructure:"partitions"`
	Storage      StorageConfig      `json:"storage" mapstructure:"storage"`
	Consumer     ConsumerConfig     `json:"consumer" mapstructure:"consumer"`
	Coordination CoordinationConfig `json:"coordination" mapstructure:"coordination"`
	Projection   ProjectionConfig   `json:"projection" mapstructure:"projection"`
	Relay        RelayConfig        `json:"relay" mapstructure:"relay"`
	Server       ServerConfig       `json:"server" mapstructure:"server"`
	Log          LogConfig          `json:"log" mapstructure:"log"`
}

// StorageConfig selects the shared store.
type StorageConfig struct {
	// Backend is "pebble" (single host) or "postgres".
	Backend     string `json:"backend" mapstructure:"backend"`
	PostgresDSN string `json:"postgresDsn" mapstructure:"postgresDsn"`
	// Fsync is the Pebble WAL policy: always, interval or never.
	Fsync string `json:"fsync" mapstructure:"fsync"`
}

// ConsumerConfig tunes the per-range feed consumers.
type ConsumerConfig struct {
	BatchSize        int `json:"batchSize" mapstructure:"batchSize"`
	PollWaitMs       int `json:"pollWaitMs" mapstructure:"pollWaitMs"`
	CommitIntervalMs int `json:"commitIntervalMs" mapstructure:"commitIntervalMs"`
	MaxAttempts      int `json:"maxAttempts" mapstructure:"maxAttempts"`
	BackoffBaseMs    int `json:"backoffBaseMs" mapstructure:"backoffBaseMs"`
	BackoffCapMs     int `json:"backoffCapMs" mapstructure:"backoffCapMs"`
	ShutdownGraceMs  int `json:"shutdownGraceMs" mapstructure:"shutdownGraceMs"`
}

// CoordinationConfig tunes the lease, heartbeats and assignment.
type CoordinationConfig struct {
	LeaseTTLMs          int `json:"leaseTtlMs" mapstructure:"leaseTtlMs"`
	HeartbeatIntervalMs int `json:"heartbeatIntervalMs" mapstructure:"heartbeatIntervalMs"`
	EvictionTimeoutMs   int `json:"evictionTimeoutMs" mapstructure:"evictionTimeoutMs"`
	RebalanceIntervalMs int `json:"rebalanceIntervalMs" mapstructure:"rebalanceIntervalMs"`
	AssignmentPollMs    int `json:"assignmentPollMs" mapstructure:"assignmentPollMs"`
}

// ProjectionConfig tunes the completion projection.
type ProjectionConfig struct {
	MaxAttempts int `json:"maxAttempts" mapstructure:"maxAttempts"`
}

// RelayConfig configures the completion relay.
type RelayConfig struct {
	Enabled    bool     `json:"enabled" mapstructure:"enabled"`
	Kind       string   `json:"kind" mapstructure:"kind"`
	Filter     string   `json:"filter" mapstructure:"filter"`
	Brokers    []string `json:"brokers" mapstructure:"brokers"`
	Topic      string   `json:"topic" mapstructure:"topic"`
	URL        string   `json:"url" mapstructure:"url"`
	Exchange   string   `json:"exchange" mapstructure:"exchange"`
	RoutingKey string   `json:"routingKey" mapstructure:"routingKey"`
}

// ServerConfig holds the admin listen addresses. Empty disables a server.
type ServerConfig struct {
	HTTPAddr string `json:"httpAddr" mapstructure:"httpAddr"`
	GRPCAddr string `json:"grpcAddr" mapstructure:"grpcAddr"`
}

// LogConfig mirrors log.Config.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:    DefaultDataDir(),
		Partitions: 16,
		Storage:    StorageConfig{Backend: "pebble", Fsync: "interval"},
		Consumer: ConsumerConfig{
			BatchSize:        128,
			PollWaitMs:       1000,
			CommitIntervalMs: 1000,
			MaxAttempts:      5,
			BackoffBaseMs:    200,
			BackoffCapMs:     30000,
			ShutdownGraceMs:  5000,
		},
		Coordination: CoordinationConfig{
			LeaseTTLMs:          15000,
			HeartbeatIntervalMs: 2000,
			EvictionTimeoutMs:   10000,
			RebalanceIntervalMs: 5000,
			AssignmentPollMs:    1000,
		},
		Projection: ProjectionConfig{MaxAttempts: 5},
		Relay:      RelayConfig{Kind: "kafka", Topic: "docflow.completions", Exchange: "docflow.completions"},
		Server:     ServerConfig{HTTPAddr: ":8080", GRPCAddr: ":9090"},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) on top
// of the defaults. DOCFLOW_ prefixed environment variables named after the
// key path (DOCFLOW_CONSUMER_BATCHSIZE) override the file. If path is
// empty only defaults and environment apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("docflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("replicaId", d.ReplicaID)
	v.SetDefault("dataDir", d.DataDir)
	v.SetDefault("partitions", d.Partitions)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.postgresDsn", d.Storage.PostgresDSN)
	v.SetDefault("storage.fsync", d.Storage.Fsync)
	v.SetDefault("consumer.batchSize", d.Consumer.BatchSize)
	v.SetDefault("consumer.pollWaitMs", d.Consumer.PollWaitMs)
	v.SetDefault("consumer.commitIntervalMs", d.Consumer.CommitIntervalMs)
	v.SetDefault("consumer.maxAttempts", d.Consumer.MaxAttempts)
	v.SetDefault("consumer.backoffBaseMs", d.Consumer.BackoffBaseMs)
	v.SetDefault("consumer.backoffCapMs", d.Consumer.BackoffCapMs)
	v.SetDefault("consumer.shutdownGraceMs", d.Consumer.ShutdownGraceMs)
	v.SetDefault("coordination.leaseTtlMs", d.Coordination.LeaseTTLMs)
	v.SetDefault("coordination.heartbeatIntervalMs", d.Coordination.HeartbeatIntervalMs)
	v.SetDefault("coordination.evictionTimeoutMs", d.Coordination.EvictionTimeoutMs)
	v.SetDefault("coordination.rebalanceIntervalMs", d.Coordination.RebalanceIntervalMs)
	v.SetDefault("coordination.assignmentPollMs", d.Coordination.AssignmentPollMs)
	v.SetDefault("projection.maxAttempts", d.Projection.MaxAttempts)
	v.SetDefault("relay.enabled", d.Relay.Enabled)
	v.SetDefault("relay.kind", d.Relay.Kind)
	v.SetDefault("relay.filter", d.Relay.Filter)
	v.SetDefault("relay.brokers", d.Relay.Brokers)
	v.SetDefault("relay.topic", d.Relay.Topic)
	v.SetDefault("relay.url", d.Relay.URL)
	v.SetDefault("relay.exchange", d.Relay.Exchange)
	v.SetDefault("relay.routingKey", d.Relay.RoutingKey)
	v.SetDefault("server.httpAddr", d.Server.HTTPAddr)
	v.SetDefault("server.grpcAddr", d.Server.GRPCAddr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks invariants that would otherwise surface as runtime
// failures.
func (c Config) Validate() error {
	var errs []error
	if c.Partitions < 1 {
		errs = append(errs, fmt.Errorf("partitions must be >= 1"))
	}
	switch c.Storage.Backend {
	case "pebble":
		if c.DataDir == "" {
			errs = append(errs, fmt.Errorf("dataDir is required for the pebble backend"))
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("storage.postgresDsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be pebble or postgres, got %q", c.Storage.Backend))
	}
	if c.Consumer.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("consumer.batchSize must be >= 1"))
	}
	if c.Consumer.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("consumer.maxAttempts must be >= 1"))
	}
	if c.Projection.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("projection.maxAttempts must be >= 1"))
	}
	co := c.Coordination
	if co.LeaseTTLMs <= 0 || co.HeartbeatIntervalMs <= 0 || co.RebalanceIntervalMs <= 0 || co.AssignmentPollMs <= 0 {
		errs = append(errs, fmt.Errorf("coordination intervals must be positive"))
	}
	if co.EvictionTimeoutMs <= co.HeartbeatIntervalMs {
		errs = append(errs, fmt.Errorf("coordination.evictionTimeoutMs must exceed heartbeatIntervalMs"))
	}
	if c.Relay.Enabled && c.Relay.Kind != "kafka" && c.Relay.Kind != "amqp" {
		errs = append(errs, fmt.Errorf("relay.kind must be kafka or amqp, got %q", c.Relay.Kind))
	}
	return errors.Join(errs...)
}

// Write prints cfg as indented JSON with the password of the PostgreSQL
// DSN masked.
func Write(w io.Writer, cfg Config) error {
	if u, err := url.Parse(cfg.Storage.PostgresDSN); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			cfg.Storage.PostgresDSN = u.String()
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
