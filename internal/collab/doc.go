// Package collab runs one end of a collaboration room. A Session joins
// a relay, reconciles the room scene into the local document, then
// keeps both sides converging: local edits go out at a bounded rate
// with intermediate states coalesced, inbound updates are handed to the
// caller in arrival order for idempotent merging, and a periodic full
// sync repairs any delivery loss. Scene payloads never leave the
// process unsealed; the relay and anyone watching the wire see only
// ciphertext under the room key.
//
// A session failure always lands in StateDisconnected with local
// editing untouched. Nothing reconnects on its own; Reconnect retries
// with bounded backoff only when the caller asks.
package collab
