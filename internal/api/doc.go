// Package api holds the HTTP clients for the two backend surfaces the
// workspace talks to: the object store that keeps sealed scenes and
// binary assets by share id, and the classroom service that finalizes
// collaborative sessions and serves contextual guidance.
//
// Both clients ride a transport with explicit dial, TLS and overall
// timeouts. The classroom client carries a bearer token; identity is
// read from the token's unverified claims because the server is the one
// that verifies, the client only shapes requests with the subject.
package api
