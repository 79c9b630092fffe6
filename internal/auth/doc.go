// Package auth verifies connection credentials at handshake time.
//
// Tokens are HMAC-signed JWTs issued by the account service. Verification
// happens once, before the WebSocket upgrade; the decoded Identity rides on
// the connection for its whole life.
package auth
