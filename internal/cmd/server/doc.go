// Package serverrun exposes the Run entrypoint used by the CLI to start a
// docflow replica together with its HTTP admin API and gRPC health service,
// handling lifecycle and shutdown.
//
// Example:
//
//	cfg, _ := config.Load("docflow.yaml")
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
