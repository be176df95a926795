// Package tracedb provides SQLite-backed durable storage for lowering
// traces.
//
// A trace is an append-only log of rewrite steps: one session row per
// driver run, one rewrite row per applied or declined pattern attempt,
// with module fingerprints bracketing each step.
//
// # Critical Patterns
//
// CP-1: Logical Time Only
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - Replaying a lowering produces a byte-identical trace
//
// CP-2: Deterministic Query Results
//   - All queries include: ORDER BY seq ASC, id ASC COLLATE BINARY
//
// CP-3: Idempotent Writes
//   - Rewrite rows use ON CONFLICT(session_id, seq) DO NOTHING, so a
//     re-recorded trace never diverges from the first recording
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Fingerprints are module hashes computed in internal/ir using SHA-256
// with domain separation.
package tracedb
