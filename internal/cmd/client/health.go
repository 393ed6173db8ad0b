package client

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewHealthCommand constructs the `health` command, a gRPC health probe.
func NewHealthCommand() *cobra.Command {
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the gRPC health service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			service, _ := cmd.Flags().GetString("service")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			if addr == "" {
				addr = grpcAddrFromEnv()
			}
			conn, err := dialGRPC(addr)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", res.GetStatus())
			if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%q is %s", service, res.GetStatus())
			}
			return nil
		},
	}
	healthCmd.Flags().String("addr", "", "gRPC address (default $DOCFLOW_GRPC or 127.0.0.1:9090)")
	healthCmd.Flags().String("service", "", "Health service name, e.g. docflow.Leader")
	healthCmd.Flags().Duration("timeout", 3*time.Second, "Probe timeout")
	return healthCmd
}
