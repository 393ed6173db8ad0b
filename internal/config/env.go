package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays the short-form DOCFLOW_* environment variables used by
// container deployments onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("DOCFLOW_REPLICA_ID"); v != "" {
		cfg.ReplicaID = v
	}
	if v := os.Getenv("DOCFLOW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DOCFLOW_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Partitions = n
		}
	}
	if v := os.Getenv("DOCFLOW_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("DOCFLOW_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
		if os.Getenv("DOCFLOW_STORAGE_BACKEND") == "" {
			cfg.Storage.Backend = "postgres"
		}
	}
	if v := os.Getenv("DOCFLOW_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("DOCFLOW_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("DOCFLOW_RELAY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Relay.Enabled = b
		}
	}
	if v := os.Getenv("DOCFLOW_RELAY_BROKERS"); v != "" {
		cfg.Relay.Brokers = nil
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Relay.Brokers = append(cfg.Relay.Brokers, p)
			}
		}
	}
	if v := os.Getenv("DOCFLOW_RELAY_URL"); v != "" {
		cfg.Relay.URL = v
	}
	if v := os.Getenv("DOCFLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
