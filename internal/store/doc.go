// Package store provides SQLite-backed durable storage for diamondctl.
//
// The store keeps, per deployment id:
//   - Deployments: the DeployedDiamondData header (proxy, deployer, protocol version)
//   - Deployed facets: one row per live facet, selectors stored as JSON text
//   - Steps: the step ledger used by the remote execution strategy
//
// # Critical Patterns
//
// Atomic aggregate writes:
//   - SaveDeployedDiamondData replaces header and facet rows in one transaction
//   - A reader never observes a half-written aggregate
//
// Idempotent ledger upserts:
//   - UNIQUE(deployment_id, step_name)
//   - UpsertStep keeps the original row id so step order is the submission order
//
// Deterministic reads:
//   - Facets ORDER BY priority ASC, facet_name ASC
//   - Steps ORDER BY id ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The store provides no locking across processes beyond SQLite's own. Two
// runs against the same deployment id must be serialized by the caller.
package store
