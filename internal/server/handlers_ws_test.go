package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kundan10424/loom/internal/auth"
	"github.com/Kundan10424/loom/internal/collab"
	"github.com/Kundan10424/loom/internal/config"
	"github.com/Kundan10424/loom/internal/presence"
)

const testSecret = "integration-test-secret"

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:              "development",
		Port:                "0",
		JWTSecret:           testSecret,
		MaxConnections:      100,
		MaxConnectionsPerIP: 100,
		ConnectionRate:      1000,
		ConnectionBurst:     1000,
	}
}

func testServer(t *testing.T, cfg *config.Config) (*Server, *presence.Registry, *httptest.Server) {
	t.Helper()

	registry := presence.NewRegistry()
	hub := collab.NewHub(registry, clockwork.NewRealClock())
	t.Cleanup(func() { hub.Stop() })

	srv := New(cfg, auth.NewVerifier(cfg.JWTSecret), hub)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(func() { ts.Close() })

	return srv, registry, ts
}

func signToken(t *testing.T, sub, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func wsURL(ts *httptest.Server, token string) string {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	_, _, ts := testServer(t, testConfig())

	_, resp, err := ws.DefaultDialer.Dial(wsURL(ts, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_RejectsInvalidToken(t *testing.T) {
	_, _, ts := testServer(t, testConfig())

	_, resp, err := ws.DefaultDialer.Dial(wsURL(ts, "not-a-real-token"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_RejectsExpiredToken(t *testing.T) {
	_, _, ts := testServer(t, testConfig())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, resp, err := ws.DefaultDialer.Dial(wsURL(ts, signed), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_AcceptsBearerHeader(t *testing.T) {
	_, registry, ts := testServer(t, testConfig())

	header := http.Header{}
	header.Set("Authorization", "Bearer "+signToken(t, "u1", "ada@example.com"))
	conn, _, err := ws.DefaultDialer.Dial(wsURL(ts, ""), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{"type":"join_room","room_id":"proj-1"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event map[string]any
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "user_joined", event["type"])
	assert.Equal(t, "ada@example.com", event["user"])
	assert.Equal(t, []string{"ada@example.com"}, registry.Snapshot("proj-1"))
}

func TestWebSocket_EndToEndRelay(t *testing.T) {
	_, registry, ts := testServer(t, testConfig())

	alice, _, err := ws.DefaultDialer.Dial(wsURL(ts, signToken(t, "u1", "alice@example.com")), nil)
	require.NoError(t, err)
	defer alice.Close()

	bob, _, err := ws.DefaultDialer.Dial(wsURL(ts, signToken(t, "u2", "bob@example.com")), nil)
	require.NoError(t, err)
	defer bob.Close()

	read := func(conn *ws.Conn) map[string]any {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var event map[string]any
		require.NoError(t, json.Unmarshal(msg, &event))
		return event
	}

	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte(`{"type":"join_room","room_id":"proj-1"}`)))
	read(alice) // own join

	require.NoError(t, bob.WriteMessage(ws.TextMessage, []byte(`{"type":"join_room","room_id":"proj-1"}`)))
	read(bob)                // own join
	event := read(alice)     // bob's join
	assert.Equal(t, "user_joined", event["type"])
	assert.Equal(t, "bob@example.com", event["user"])

	// Content change from bob reaches alice only.
	require.NoError(t, bob.WriteMessage(ws.TextMessage, []byte(`{"type":"content_update","room_id":"proj-1","file_id":"f1","content":"v2"}`)))
	event = read(alice)
	assert.Equal(t, "receive_content_change", event["type"])
	assert.Equal(t, "bob@example.com", event["user"])
	assert.Equal(t, "v2", event["content"])

	// Disconnect announces departure and clears presence.
	bob.Close()
	event = read(alice)
	assert.Equal(t, "user_left", event["type"])
	assert.Equal(t, "bob@example.com", event["user"])

	for i := 0; i < 100; i++ {
		if !registry.Present("proj-1", "bob@example.com") {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("bob never removed from registry")
}

func TestWebSocket_PerIPLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnectionsPerIP = 1
	_, _, ts := testServer(t, cfg)

	conn, _, err := ws.DefaultDialer.Dial(wsURL(ts, signToken(t, "u1", "")), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := ws.DefaultDialer.Dial(wsURL(ts, signToken(t, "u2", "")), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebSocket_GlobalLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	_, _, ts := testServer(t, cfg)

	conn, _, err := ws.DefaultDialer.Dial(wsURL(ts, signToken(t, "u1", "")), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := ws.DefaultDialer.Dial(wsURL(ts, signToken(t, "u2", "")), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebSocket_LimitSlotFreedAfterAuthFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	_, _, ts := testServer(t, cfg)

	// A rejected handshake must not leak its connection slot.
	_, resp, err := ws.DefaultDialer.Dial(wsURL(ts, "bogus"), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := ws.DefaultDialer.Dial(wsURL(ts, signToken(t, "u1", "")), nil)
	require.NoError(t, err)
	conn.Close()
}
