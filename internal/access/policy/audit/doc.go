// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

// Package audit records access decisions.
//
// # Modes
//
//   - ModeOff: nothing is logged
//   - ModeMinimal: explicit denials and evaluation-error denials (sync)
//   - ModeDenialsOnly: every denial, including default deny (sync)
//   - ModeAll: denials sync, allows async
//
// # Writers
//
// SlogWriter emits one structured log record per decision. PostgresWriter
// inserts into decision_audit_log and batches async entries.
//
// When a sync write fails and a WAL path is configured, the entry is
// appended to the WAL as a JSON line. ReplayWAL re-sends those entries once
// the writer recovers.
//
// # Metrics
//
//   - rowguard_audit_channel_full_total
//   - rowguard_audit_failures_total{reason}
//   - rowguard_audit_wal_entries
package audit
