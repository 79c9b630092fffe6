// Package collab implements the realtime collaboration hub using the actor pattern.
//
// The Hub relays presence, cursor, and content events between connections joined
// to the same project room. Single goroutine + command channel (no mutexes at the
// call sites); per-connection write goroutines keep slow clients from blocking the
// room. The hub is a relay: nothing is persisted, nothing is merged, delivery is
// fire-and-forget.
package collab
