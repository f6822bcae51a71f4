// Package reconcile merges two revisions of a scene into one.
//
// The merge is a pure function over element sequences: no I/O, no
// shared state, no wall-clock reads. Winner selection per element id is
// last-writer-wins on (Version, VersionNonce) with two refinements:
// a tombstone always beats a live element at equal Version, and a full
// (Version, VersionNonce) collision falls back to comparing content
// hashes so every replica picks the same winner.
//
// Winner selection is commutative and idempotent, which is what makes
// convergence hold for any interleaving of peer updates. Output
// ordering is deliberately not commutative: the local sequence's
// relative order is preserved and remote-only elements are spliced in
// next to their remote neighbors, so repeated merges never make
// elements drift through the stacking order.
package reconcile
