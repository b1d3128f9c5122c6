// Package store provides the SQLite-backed weave ledger.
//
// The ledger records, per weaving session:
//   - Sessions: assembly name, analyzer mode, input and output hashes
//   - Injections: every guard inserted, in session order
//   - Diagnostics: every Info/Warning/Error message, in session order
//   - Woven hashes: output hashes of error-free sessions
//
// Woven hashes back the double-weave guard: an assembly whose content hash
// equals a previous output has already been processed and must not be woven
// again.
//
// # Ordering
//
// All queries order by seq, the session's logical clock, never by wall time.
// Session ids are UUIDv7, so their embedded timestamp is available for
// display without a separate column.
//
// # Schema history
//
// The schema version lives in PRAGMA user_version:
//
//   - 0: sessions, injections, diagnostics and woven_hashes (schema.sql).
//     Deleting a session cascades to its guards, diagnostics and hash.
//   - 1: idx_injections_member, so history --member reads one index range
//     instead of scanning every session's guards.
//
// Open brings any older ledger up to the current version. A ledger written
// by a newer nullguard keeps its higher user_version and is read as is.
//
// The connection runs in WAL mode with foreign keys enforced, so history
// queries can read while a weave is recording.
package store
