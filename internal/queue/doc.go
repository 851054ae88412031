// Package queue persists pipeline jobs in SQLite and exposes the lease-based
// operations workers use to drive them.
//
// The Store owns schema initialization, atomic leasing ordered by priority
// then enqueue sequence, lease heartbeats, expired-lease reclaim, per-type
// pause flags, counts, cleaning and retention trimming. Every update to an
// active job is guarded by the lease owner; a guard miss surfaces as
// ErrLeaseLost.
//
// The database is transient storage for the job pipeline rather than a
// long-term archive. Schema changes bump the version in schema.go; operators
// clear the database to adopt the new schema.
package queue
