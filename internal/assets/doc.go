// Package assets resolves binary files referenced by image elements
// through an ordered source chain: in-memory cache, then the durable
// local store, then whichever remote fits the current context (the
// collaboration peers' shared store during a session, the backend
// object store for an externally shared scene otherwise).
//
// An asset is saved only once its bytes are confirmed durable locally;
// until then it is pending, and pending assets block unload. A fetch
// that exhausts every source marks just that asset errored and leaves
// the rest of the document alone.
package assets
