// Package postgres stores the event log, cursors, submission records, dead
// letters and coordination tables in PostgreSQL so replicas on different
// hosts can share them.
//
// Appends to a range are serialized with a transaction-scoped advisory
// lock; every committed append issues a NOTIFY that wakes readers blocked
// in WaitForAppend. Version checks (projection records, cursor generations,
// lease and assignment fencing) are single conditional statements or
// row-locked transactions.
package postgres
