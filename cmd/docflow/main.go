package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/docflow/internal/cmd/client"
	serverrun "github.com/rzbill/docflow/internal/cmd/server"
	cfgpkg "github.com/rzbill/docflow/internal/config"
	logpkg "github.com/rzbill/docflow/pkg/log"
)

func main() {
	// Respect DOCFLOW_LOG_LEVEL for CLI output before a config is loaded.
	level := os.Getenv("DOCFLOW_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:           "docflow",
		Short:         "docflow document preparation tracker",
		Long:          "docflow consumes document-processing events across a group of replicas and emits SubmissionPreparationCompleted once per submission.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	replicaCmd := &cobra.Command{Use: "replica", Aliases: []string{"server"}, Short: "Replica commands"}
	replicaStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a replica with its HTTP and gRPC servers",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("replica error: %w", err)
			}
			return nil
		},
	}
	f := replicaStartCmd.Flags()
	f.String("config", os.Getenv("DOCFLOW_CONFIG"), "Config file (JSON or YAML)")
	f.String("replica-id", "", "Replica id (default <hostname>-<random>)")
	f.String("data-dir", "", "Data directory for the pebble backend")
	f.Int("partitions", 0, "Number of partition ranges")
	f.String("backend", "", "Storage backend: pebble|postgres")
	f.String("postgres-dsn", "", "PostgreSQL DSN for the postgres backend")
	f.String("fsync", "", "Fsync mode: always|interval|never")
	f.String("http", "", "HTTP listen address")
	f.String("grpc", "", "gRPC listen address")
	f.Bool("relay", false, "Publish completions to the configured broker")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	replicaCmd.AddCommand(replicaStartCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return cfgpkg.Write(cmd.OutOrStdout(), cfg)
		},
	}
	configCmd.Flags().AddFlagSet(replicaStartCmd.Flags())

	rootCmd.AddCommand(replicaCmd, configCmd)
	clientcmd.AddCommands(rootCmd, apiURL)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", logpkg.Err(err))
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, DOCFLOW_* environment
// variables and finally explicitly set flags.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, err
	}
	cfgpkg.FromEnv(&cfg)

	if f.Changed("replica-id") {
		cfg.ReplicaID, _ = f.GetString("replica-id")
	}
	if f.Changed("data-dir") {
		cfg.DataDir, _ = f.GetString("data-dir")
	}
	if f.Changed("partitions") {
		cfg.Partitions, _ = f.GetInt("partitions")
	}
	if f.Changed("backend") {
		cfg.Storage.Backend, _ = f.GetString("backend")
	}
	if f.Changed("postgres-dsn") {
		cfg.Storage.PostgresDSN, _ = f.GetString("postgres-dsn")
	}
	if f.Changed("fsync") {
		cfg.Storage.Fsync, _ = f.GetString("fsync")
	}
	if f.Changed("http") {
		cfg.Server.HTTPAddr, _ = f.GetString("http")
	}
	if f.Changed("grpc") {
		cfg.Server.GRPCAddr, _ = f.GetString("grpc")
	}
	if f.Changed("relay") {
		cfg.Relay.Enabled, _ = f.GetBool("relay")
	}
	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.Log.Format, _ = f.GetString("log-format")
	}
	return cfg, nil
}

func apiURL() string {
	if v := os.Getenv("DOCFLOW_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
