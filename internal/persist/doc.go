// Package persist owns the durable side of the workspace: debounced
// background saves of the scene and library, queued binary asset
// writes, and the cross-tab freshness check built on per-category
// version markers.
//
// Every durable mutation goes through the Manager so marker bumps stay
// coupled to the writes that caused them. Saves are fire-and-forget;
// Flush runs everything still pending to completion and is the only
// write path a caller waits on (the unload contract). The store itself
// is shared across tabs, so staleness is detected by marker comparison
// on focus rather than prevented by locking.
package persist
