// Package store provides SQLite-based persistence for docgate's local history.
//
// The store keeps two tables:
//
//   - attestation_runs: one row per pipeline run, upserted as the run advances
//   - audit_log: security events mirrored from the audit emitter
//
// # Usage
//
// Open a store with [Open] and close it when done:
//
//	db, err := store.Open(store.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
// # Thread Safety
//
// The store is safe for concurrent use. SQLite WAL mode enables readers and
// writers to operate simultaneously.
package store
