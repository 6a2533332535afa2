package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialwall/internal/hub"
	"socialwall/internal/logging"
	"socialwall/internal/presence"
	"socialwall/internal/session"
	"socialwall/pkg/types"
)

type stubSessions map[string]*types.SessionInfo

func (s stubSessions) Validate(_ context.Context, token string) (*types.SessionInfo, error) {
	return s[token], nil
}

type stubAccess map[string]bool

func (a stubAccess) HasClassAccess(_ context.Context, userID, classID string) (bool, error) {
	return a[userID+"/"+classID], nil
}

var (
	teacherUser = types.User{ID: "t1", Name: "Teach", UserType: types.UserTypeTeacher}
	aliceUser   = types.User{ID: "s1", Name: "Alice", UserType: types.UserTypeStudent}
	bobUser     = types.User{ID: "s2", Name: "Bob", UserType: types.UserTypeStudent}
)

type countingRecorder struct {
	mu       sync.Mutex
	statuses []int
}

func (c *countingRecorder) HandshakeRejected(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
}

func (c *countingRecorder) Statuses() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.statuses...)
}

type testServer struct {
	srv        *httptest.Server
	hub        *hub.Hub
	handler    *Handler
	rejections *countingRecorder
}

func newTestServer(t *testing.T, hubCfg hub.Config) *testServer {
	t.Helper()

	live := time.Now().Add(time.Hour)
	sessions := stubSessions{
		"teacher-token": {User: teacherUser, Expires: live},
		"alice-token":   {User: aliceUser, Expires: live},
		"bob-token":     {User: bobUser, Expires: live},
		"expired-token": {User: bobUser, Expires: time.Now().Add(-time.Minute)},
	}
	access := stubAccess{"t1/c1": true, "s1/c1": true, "s2/c2": true}

	gatekeeper := session.NewGatekeeper(sessions, access, nil)
	h := hub.New(hubCfg)
	handler := NewHandler(gatekeeper, h, DefaultConfig(), nil)
	rejections := &countingRecorder{}
	handler.SetRejectionRecorder(rejections)
	h.Initialize(handler)

	mux := http.NewServeMux()
	handler.Register(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return &testServer{srv: srv, hub: h, handler: handler, rejections: rejections}
}

func (ts *testServer) dial(path, token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + path
	if token != "" {
		url += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func (ts *testServer) mustDial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := ts.dial(path, token)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (ts *testServer) waitMembers(t *testing.T, classID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		room, err := ts.hub.Room(classID)
		return err == nil && len(room.Members) == n
	}, 2*time.Second, 10*time.Millisecond)
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readUntil(t *testing.T, ws *websocket.Conn, event string) wireFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame wireFrame
		require.NoError(t, ws.ReadJSON(&frame))
		if frame.Event == event {
			return frame
		}
	}
}

func TestHandler_RejectsBeforeUpgrade(t *testing.T) {
	ts := newTestServer(t, hub.DefaultConfig())

	tests := []struct {
		name    string
		path    string
		token   string
		status  int
		message string
	}{
		{"missing token", "/ws/class-c1", "", http.StatusUnauthorized, "Authentication token required"},
		{"unknown token", "/ws/class-c1", "forged", http.StatusUnauthorized, "Invalid authentication token"},
		{"expired token", "/ws/class-c2", "expired-token", http.StatusUnauthorized, "Invalid authentication token"},
		{"not enrolled", "/ws/class-c2", "alice-token", http.StatusForbidden, "Access denied to class"},
		{"unknown namespace", "/ws/lobby", "alice-token", http.StatusNotFound, "Unknown namespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := ts.dial(tt.path, tt.token)
			require.Error(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.message, body.Error)
		})
	}

	assert.Equal(t, 0, ts.hub.LiveConnections())
	assert.Equal(t, []int{401, 401, 401, 403, 404}, ts.rejections.Statuses())
}

func TestHandler_BearerHeader(t *testing.T) {
	ts := newTestServer(t, hub.DefaultConfig())

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/class-c1"
	header := http.Header{"Authorization": []string{"Bearer alice-token"}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer ws.Close()

	ts.waitMembers(t, "c1", 1)
}

func TestHandler_PresenceEndToEnd(t *testing.T) {
	ts := newTestServer(t, hub.DefaultConfig())

	teacherWS := ts.mustDial(t, "/ws/class-c1", "teacher-token")
	ts.waitMembers(t, "c1", 1)
	aliceWS := ts.mustDial(t, "/ws/class-c1", "alice-token")
	ts.waitMembers(t, "c1", 2)

	joined := readUntil(t, teacherWS, presence.EventUserJoined)
	var notice presence.Notice
	require.NoError(t, json.Unmarshal(joined.Data, &notice))
	assert.Equal(t, aliceUser, notice.User)
	assert.Equal(t, "c1", notice.ClassID)

	require.NoError(t, aliceWS.WriteJSON(map[string]any{
		"event": presence.EventTypingStart,
		"data":  map[string]string{"postId": "p1"},
	}))

	typing := readUntil(t, teacherWS, presence.EventUserTyping)
	require.NoError(t, json.Unmarshal(typing.Data, &notice))
	assert.Equal(t, aliceUser, notice.User)
	assert.JSONEq(t, `{"postId":"p1"}`, string(notice.Context))

	ts.hub.BroadcastToClass("c1", "post:new", map[string]string{"id": "post-9"})
	for _, ws := range []*websocket.Conn{teacherWS, aliceWS} {
		frame := readUntil(t, ws, "post:new")
		assert.JSONEq(t, `{"id":"post-9"}`, string(frame.Data))
	}

	require.NoError(t, aliceWS.Close())
	left := readUntil(t, teacherWS, presence.EventUserLeft)
	require.NoError(t, json.Unmarshal(left.Data, &notice))
	assert.Equal(t, aliceUser.ID, notice.User.ID)

	require.Eventually(t, func() bool { return ts.hub.LiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_UnscopedConnectionReceivesUserBroadcasts(t *testing.T) {
	ts := newTestServer(t, hub.DefaultConfig())

	ws := ts.mustDial(t, "/ws", "bob-token")
	require.Eventually(t, func() bool { return ts.hub.LiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.hub.BroadcastToUser(bobUser.ID, "grade:released", map[string]int{"score": 10})
	frame := readUntil(t, ws, "grade:released")
	assert.JSONEq(t, `{"score":10}`, string(frame.Data))
}

func TestHandler_CapacityClosesExtraConnections(t *testing.T) {
	cfg := hub.DefaultConfig()
	cfg.MaxConnections = 1
	ts := newTestServer(t, cfg)

	ts.mustDial(t, "/ws/class-c1", "teacher-token")
	ts.waitMembers(t, "c1", 1)

	extra := ts.mustDial(t, "/ws/class-c1", "alice-token")
	require.NoError(t, extra.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := extra.ReadMessage()
	require.Error(t, err)

	assert.Equal(t, 1, ts.hub.LiveConnections())
}

func TestHandler_ShutdownClosesConnectionsAndRefusesNewOnes(t *testing.T) {
	ts := newTestServer(t, hub.DefaultConfig())

	ws := ts.mustDial(t, "/ws/class-c1", "alice-token")
	ts.waitMembers(t, "c1", 1)

	ts.hub.Shutdown()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)

	_, resp, err := ts.dial("/ws/class-c1", "alice-token")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	ts.hub.Initialize(ts.handler)
	ts.mustDial(t, "/ws/class-c1", "alice-token")
	ts.waitMembers(t, "c1", 1)
}

func TestHandler_IgnoresInvalidFrames(t *testing.T) {
	ts := newTestServer(t, hub.DefaultConfig())

	teacherWS := ts.mustDial(t, "/ws/class-c1", "teacher-token")
	ts.waitMembers(t, "c1", 1)
	aliceWS := ts.mustDial(t, "/ws/class-c1", "alice-token")
	ts.waitMembers(t, "c1", 2)

	require.NoError(t, aliceWS.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, aliceWS.WriteJSON(map[string]any{"event": "BAD EVENT"}))
	require.NoError(t, aliceWS.WriteJSON(map[string]any{"event": "post:new"}))
	require.NoError(t, aliceWS.WriteJSON(map[string]any{"event": presence.EventUserIdle}))

	frame := readUntil(t, teacherWS, presence.EventStatusChanged)
	var notice presence.Notice
	require.NoError(t, json.Unmarshal(frame.Data, &notice))
	assert.Equal(t, presence.StatusIdle, notice.Status)
	assert.Equal(t, 2, ts.hub.LiveConnections())
}

func TestHandler_CheckOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://lms.example.com"}
	h := NewHandler(nil, nil, cfg, nil)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "https://lms.example.com")
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, h.checkOrigin(r))
}

func TestHandler_HandshakeLogsCarryTraceParent(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("socialwall", "test", "json", "debug", &buf)

	gatekeeper := session.NewGatekeeper(stubSessions{}, stubAccess{}, nil)
	h := hub.New(hub.DefaultConfig())
	handler := NewHandler(gatekeeper, h, DefaultConfig(), logger)
	h.Initialize(handler)
	t.Cleanup(h.Shutdown)

	mux := http.NewServeMux()
	handler.Register(mux)

	r := httptest.NewRequest(http.MethodGet, "/ws/class-c1", nil)
	r.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]any
		require.NoError(t, json.Unmarshal(line, &e))
		if e["msg"] == "handshake rejected" {
			entry = e
		}
	}
	require.NotNil(t, entry, buf.String())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
	assert.Equal(t, "websocket", entry["component"])
}
