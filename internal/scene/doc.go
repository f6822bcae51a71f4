// Package scene defines the goclass document model: versioned visual
// elements, the ordered document that contains them, and the primitives
// the layers above build on (version clock, canonical serialization,
// content hashing).
//
// VERSIONING MODEL:
//
// Every element carries a (Version, VersionNonce) pair. Version is a
// per-id monotonic counter: no replica ever decreases it, and every local
// mutation increments it. VersionNonce is re-rolled on every local
// mutation and exists only to break ties between concurrent edits that
// landed on the same Version. UpdatedAt is wall-clock and advisory;
// it never participates in conflict resolution because replica clocks
// are unsynchronized and untrustworthy.
//
// Deleted elements remain in the document as tombstones. Dropping a
// tombstone too early would let a stale replica resurrect the element,
// so garbage collection is a policy decision made outside this package.
//
// CANONICAL SERIALIZATION:
//
// MarshalCanonical renders scene values with sorted object keys,
// NFC-normalized strings, no HTML escaping, and shortest round-trip
// numbers. Canonical bytes feed content hashing and golden tests. The
// encoding is deterministic for this implementation; it is not meant as
// a cross-language interchange format (the plain JSON codec in file.go
// serves that purpose).
package scene
