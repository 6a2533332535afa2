package integration

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"socialwall/internal/app"
	"socialwall/internal/config"
	"socialwall/internal/database"
	"socialwall/pkg/types"
)

var (
	teacher = types.User{ID: "t1", Name: "Ms Rivera", UserType: types.UserTypeTeacher}
	alice   = types.User{ID: "s1", Name: "Alice", UserType: types.UserTypeStudent}
	bob     = types.User{ID: "s2", Name: "Bob", UserType: types.UserTypeStudent}
)

type wall struct {
	app   *app.Application
	store *database.Manager
	base  string
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startWall runs a full server on a seeded SQLite store. Alice and the
// teacher belong to class c1, Bob only to c2.
func startWall(t *testing.T, mutate func(*config.Config)) *wall {
	t.Helper()
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Metrics.Addr = ""
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "wall.db")
	if mutate != nil {
		mutate(cfg)
	}

	store, err := database.NewManager(cfg.SQLiteConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Migrate())

	live := time.Now().Add(time.Hour)
	for _, u := range []types.User{teacher, alice, bob} {
		require.NoError(t, store.CreateUser(ctx, u))
		require.NoError(t, store.CreateSession(ctx, u.ID+"-token", u.ID, live))
	}
	require.NoError(t, store.CreateSession(ctx, "expired-token", alice.ID, time.Now().Add(-time.Minute)))
	require.NoError(t, store.AssignTeacher(ctx, teacher.ID, "c1", database.StatusActive))
	require.NoError(t, store.EnrollStudent(ctx, alice.ID, "c1", database.StatusActive))
	require.NoError(t, store.EnrollStudent(ctx, bob.ID, "c2", database.StatusActive))

	application, err := app.NewApplication(cfg, store, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	})

	return &wall{app: application, store: store, base: application.Addr()}
}

// dial connects with token to path ("/ws" or "/ws/class-<id>").
func (w *wall) dial(t *testing.T, token, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws://" + w.base + path
	if token != "" {
		url += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func (w *wall) mustDial(t *testing.T, token, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := w.dial(t, token, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitMembers blocks until class c has n members.
func (w *wall) waitMembers(t *testing.T, classID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		room, err := w.app.Hub().Room(classID)
		return err == nil && len(room.Members) == n
	}, 2*time.Second, 10*time.Millisecond)
}

type notice struct {
	Type    string          `json:"type"`
	ClassID string          `json:"classId"`
	User    types.User      `json:"user"`
	Context json.RawMessage `json:"context"`
	Status  string          `json:"status"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func readNotice(t *testing.T, conn *websocket.Conn, event string) notice {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, event, f.Event)
	var n notice
	require.NoError(t, json.Unmarshal(f.Data, &n))
	return n
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var f frame
	err := conn.ReadJSON(&f)
	require.Error(t, err, "unexpected frame %q", f.Event)
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}
