// Package presence tracks which identities are present in which room.
//
// The registry is pure state: it is mutated only by the collaboration hub in
// response to join and disconnect events, keys presence by identity with a
// per-connection reference count, and garbage-collects rooms that empty out.
// It is lost on restart; presence is inherently ephemeral.
package presence
