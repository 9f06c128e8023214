// Package store provides SQLite-backed durable storage for session telemetry.
//
// The store holds the append-only session event log and everything derived
// from it:
//   - Sessions: lifecycle rows whose summary is written once, at end
//   - Session events: never updated or deleted, keyed for idempotency
//   - Adaptation decisions and Bhav evaluations: immutable records
//   - Audio chunks and stage score projections
//   - Webhook subscriptions and deliveries
//   - Daily business and ecosystem projections, practice progress
//
// # Idempotency
//
// Writes that may be retried by clients are insert-or-get on a UNIQUE
// constraint: INSERT ... ON CONFLICT DO NOTHING, and when no row was
// affected the winning row is read back. There is no check-then-insert.
//
// # Units of Work
//
// Every statement runs on a Tx obtained from Store.WithTx. Transactions
// begin IMMEDIATE so concurrent writers serialize at BEGIN, and aggregate
// rows (per-date projections, per-user progress) are single-statement
// upserts.
//
// # Time
//
// Timestamps are stored as fixed-width UTC text (see FormatTime). Lexical
// order is time order and substr(ts, 1, 10) is the date key.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
