// Package relay implements the reference room relay the collaboration
// sessions speak to. It moves sealed payloads and presence between the
// members of a room and keeps a sealed snapshot for late joiners, all
// without ever holding a room key. One instance runs self-contained in
// memory; pointing several instances at the same Redis makes them serve
// a room together through pub/sub fanout and a shared roster.
package relay
