package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openteams/pulse/internal/db"
	"github.com/openteams/pulse/internal/dispatch"
	"github.com/openteams/pulse/internal/presence"
	"github.com/openteams/pulse/internal/registry"
	"github.com/openteams/pulse/internal/router"
)

const testSecret = "test-secret"

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations())
	t.Cleanup(func() { database.Close() })

	reg := registry.New()
	rt := router.New()
	pres := presence.NewAdapter(database, reg)

	svc := NewService(reg, rt, pres, &fakeNotificationStore{}, Config{
		JWTSecret: testSecret,
		Dispatch:  dispatch.DefaultConfig(),
	})
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(http.HandlerFunc(svc.HandleWebSocket))
	t.Cleanup(srv.Close)
	return svc, srv
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads server frames until one matching the filter arrives.
func readFrame(t *testing.T, conn *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if match(msg) {
			return msg
		}
	}
}

func sendAction(t *testing.T, conn *websocket.Conn, action, ref string, payload map[string]any) {
	t.Helper()
	data, err := json.Marshal(ClientMessage{Action: action, Ref: ref, Payload: payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestHandleWebSocketRejectsMissingToken(t *testing.T) {
	_, srv := newTestService(t)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleWebSocketRejectsBadSignature(t *testing.T) {
	_, srv := newTestService(t)

	token := signToken(t, "wrong-secret", "user-1")
	resp, err := http.Get(srv.URL + "?token=" + token)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleWebSocketRejectsTokenWithoutSubject(t *testing.T) {
	_, srv := newTestService(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "?token=" + signed)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinWorkspaceOverWire(t *testing.T) {
	svc, srv := newTestService(t)

	conn := dialWS(t, srv, signToken(t, testSecret, "user-1"))

	sendAction(t, conn, ActionJoinWorkspace, "1", map[string]any{"workspace_id": "ws-1"})

	reply := readFrame(t, conn, func(m ServerMessage) bool { return m.Type == TypeReply && m.Ref == "1" })
	assert.Equal(t, "ok", reply.Status)

	stats := svc.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 1, stats.Members["workspace:ws-1"])
}

func TestJoinWorkspaceMissingFieldRepliesError(t *testing.T) {
	_, srv := newTestService(t)

	conn := dialWS(t, srv, signToken(t, testSecret, "user-1"))

	sendAction(t, conn, ActionJoinWorkspace, "1", map[string]any{})
	reply := readFrame(t, conn, func(m ServerMessage) bool { return m.Type == TypeReply && m.Ref == "1" })
	assert.Equal(t, "error", reply.Status)
	assert.Equal(t, "operation_failed", reply.Payload["code"])
}

func TestUnknownActionRepliesError(t *testing.T) {
	_, srv := newTestService(t)

	conn := dialWS(t, srv, signToken(t, testSecret, "user-1"))

	sendAction(t, conn, "frobnicate", "9", nil)
	reply := readFrame(t, conn, func(m ServerMessage) bool { return m.Type == TypeReply && m.Ref == "9" })
	assert.Equal(t, "error", reply.Status)
	assert.Equal(t, "unknown_action", reply.Payload["code"])
}

func TestTypingRoundTripBetweenClients(t *testing.T) {
	_, srv := newTestService(t)

	typist := dialWS(t, srv, signToken(t, testSecret, "user-a"))
	watcher := dialWS(t, srv, signToken(t, testSecret, "user-b"))

	sendAction(t, watcher, ActionWatchEntity, "1", map[string]any{"entity_id": "task-1"})
	readFrame(t, watcher, func(m ServerMessage) bool { return m.Type == TypeReply && m.Ref == "1" })

	sendAction(t, typist, ActionStartTyping, "1", map[string]any{"entity_id": "task-1"})
	readFrame(t, typist, func(m ServerMessage) bool { return m.Type == TypeReply && m.Ref == "1" })

	event := readFrame(t, watcher, func(m ServerMessage) bool { return m.Type == TypeEvent })
	assert.Equal(t, string(dispatch.Typing), event.Event)
	assert.Equal(t, "entity-typing:task-1", event.Channel)
	assert.Equal(t, "user-a", event.Payload["user_id"])
	assert.Equal(t, true, event.Payload["is_typing"])
}

func TestDisconnectCleansUpState(t *testing.T) {
	svc, srv := newTestService(t)

	conn := dialWS(t, srv, signToken(t, testSecret, "user-1"))
	sendAction(t, conn, ActionJoinWorkspace, "1", map[string]any{"workspace_id": "ws-1"})
	readFrame(t, conn, func(m ServerMessage) bool { return m.Type == TypeReply && m.Ref == "1" })

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Stats().Connections == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := svc.Stats()
	assert.Zero(t, stats.Connections)
	assert.Zero(t, stats.Subscriptions)
}
