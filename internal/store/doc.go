// Package store provides SQLite-backed durable storage for the local
// workspace: the scene snapshot, the reusable library, binary assets
// and per-category version markers.
//
// Storage categories are independent: a write to one category bumps
// only that category's version marker, so a library save never makes
// another tab believe the scene went stale. Marker bumps happen in the
// same transaction as the write they stamp; a reader can never observe
// a new marker without the data that justified it.
//
// Binary assets are content-addressed (the id is derived from the
// payload bytes), which makes PutFile idempotent: re-importing an
// image that is already stored is a no-op and does not bump the files
// marker.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Reads use deterministic ordering (ORDER BY ... id COLLATE BINARY
// ASC) so repeated loads observe identical sequences.
package store
