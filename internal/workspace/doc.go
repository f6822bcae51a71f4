// Package workspace ties the sync core together for one open document:
// source resolution on load and navigation, debounced persistence,
// asset resolution, live collaboration, cross-tab freshness and the
// unload contract.
//
// A Workspace owns the current document. The editing surface pushes
// whole documents in through UpdateScene and receives merged documents
// back through Callbacks.OnDocument; it never sees partial states. All
// other inputs (remote updates, other tabs, navigations) go through the
// same reconciliation rules, so every path converges on the same scene.
package workspace
