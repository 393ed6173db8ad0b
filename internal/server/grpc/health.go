package grpcserver

import (
	"context"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health service names. The empty name is the overall server status: backend
// reachable and, when a replica is attached, running.
const (
	ServiceReplica = "docflow.Replica"
	ServiceLeader  = "docflow.Leader"
)

// ReplicaStatus is what the health service reads from the local replica.
type ReplicaStatus interface {
	Running() bool
	IsLeader() bool
}

func (s *Server) setAll(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceReplica, st)
	s.health.SetServingStatus(ServiceLeader, st)
}

// Refresh recomputes every health status once.
func (s *Server) Refresh(ctx context.Context) {
	serving := healthpb.HealthCheckResponse_SERVING
	notServing := healthpb.HealthCheckResponse_NOT_SERVING

	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.rt.CheckHealth(cctx); err != nil {
		s.setAll(notServing)
		return
	}
	running, leader := s.status != nil && s.status.Running(), s.status != nil && s.status.IsLeader()
	overall, replica, lead := notServing, notServing, notServing
	if s.status == nil || running {
		overall = serving
	}
	if running {
		replica = serving
	}
	if running && leader {
		lead = serving
	}
	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(ServiceReplica, replica)
	s.health.SetServingStatus(ServiceLeader, lead)
}

func (s *Server) watch(ctx context.Context) {
	t := time.NewTicker(s.every)
	defer t.Stop()
	for {
		s.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
