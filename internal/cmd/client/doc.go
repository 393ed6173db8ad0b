// Package client provides the `docflow` command-line client.
//
// The CLI talks to the HTTP admin API of a replica to append events and
// inspect projections, coordination state and dead letters, and to the
// gRPC health service for probes.
//
// # Address configuration
//
// The HTTP base URL comes from the embedding application through a
// BaseURLFunc; the standalone binary reads DOCFLOW_HTTP and defaults to
// http://127.0.0.1:8080. The gRPC address is read from DOCFLOW_GRPC
// (default 127.0.0.1:9090).
//
// Usage
//
//	docflow events append --type SubmissionCreated --submission S1 \
//	    --data '{"userId":"u1","documents":["D1","D2"]}'
//	docflow events append --type DocumentClassified --submission S1 \
//	    --document D1 --data '{"label":"invoice"}'
//	docflow events append --file event.json
//
//	docflow submission get S1
//	docflow cluster assignment
//	docflow cluster cursor r-003
//	docflow deadletters list --range r-003 --limit 20
//	docflow health --service docflow.Leader
package client
