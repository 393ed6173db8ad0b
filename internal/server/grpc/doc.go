// Package grpcserver hosts the standard gRPC health service for a docflow
// replica. Besides the overall status it reports docflow.Replica, serving
// while the replica runs, and docflow.Leader, serving only on the replica
// that holds the coordinator lease. Load balancers and orchestrators probe
// these with grpc_health_probe.
//
// Example:
//
//	s := grpcserver.New(rt, rep, logger)
//	_ = s.ListenAndServe(ctx, ":9090")
package grpcserver
