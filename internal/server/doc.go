// Package server provides the HTTP and WebSocket transport layer.
//
// Exposes the collaboration socket at /ws plus health, metrics, and version
// endpoints. Credential verification and connection limiting both happen
// before the WebSocket upgrade.
package server
