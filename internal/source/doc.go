// Package source decides what document the workspace starts from. It
// inspects the addressable location for, in priority order, a share id
// query parameter, an inline encoded-document token, an external URL,
// and a room link, then produces the initial document plus where it
// came from.
//
// External sources are destructive, so a non-empty stored scene demands
// an explicit user decision before being replaced; room links are
// additive and never prompt. Decisions are never requested while the
// page is hidden: resolution suspends until visibility returns, then
// restarts from inspection. A location change supersedes any in-flight
// resolution; its late result is discarded by generation check.
package source
