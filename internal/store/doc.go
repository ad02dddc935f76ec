// Package store provides SQLite-backed durable storage for entities, the
// audit log, automation rules, senders and the communication outbox.
//
// # Tables
//
//   - entities: one row per (type_id, pk), field values as canonical JSON
//   - audit_entries: append-only; UPDATE and DELETE are rejected by triggers
//   - automation_rules / automation_actions: actions cascade with their rule
//   - senders / communications: outbound messaging configuration and outbox
//
// # Ordering
//
// Audit queries return newest first: ORDER BY timestamp DESC, id DESC.
// Rule queries return rules by name and actions by (action_order, id), so
// ties in action order are broken by insertion.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity (action cascade)
package store
