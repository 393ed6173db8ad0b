// Package coord spreads partition ranges over live replicas.
//
// Every replica runs three loops:
//
//   - Heartbeater writes {replicaId, lastSeenAt, status} on a fixed interval.
//   - Elector competes for a time-bounded leader lease. Each new holder gets
//     a larger fencing token; the leader renews before expiry or steps down.
//   - Supervisor polls the assignment table and starts or cancels one
//     consumer per owned range.
//
// While it holds the lease, a replica also runs the Coordinator, which
// recomputes a sticky, even assignment from the live heartbeats and writes
// it as a full replace guarded by the lease's fencing token. A write from a
// leader whose lease has since moved on fails with ErrFenced.
//
// Store implementations: PebbleStore (replicas sharing one process) and the
// PostgreSQL backend in internal/storage/postgres.
package coord
