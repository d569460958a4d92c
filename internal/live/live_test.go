package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/cbt-research/internal/events"
	"github.com/ashureev/cbt-research/internal/identity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestServer(t *testing.T, hub *Hub, allowedOrigin string, isDev bool) *httptest.Server {
	t.Helper()
	h := NewHandler(hub, allowedOrigin, isDev)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := identity.WithIdentity(r.Context(), "anon_test", r.URL.Query().Get("session_id"))
		h.ServeHTTP(w, r.WithContext(ctx))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/research?session_id=" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	return conn
}

func TestHubBroadcastsBusEvents(t *testing.T) {
	hub := NewHub()
	bus := events.NewLocalBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx, bus) }()
	defer func() {
		cancel()
		<-done
	}()

	srv := newTestServer(t, hub, "", true)
	conn := dial(t, srv, "tab-1")
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Count() == 1 && bus.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(ctx, events.NewSessionCreated("rec-9", 2, ts)))

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	var got events.SessionCreated
	require.NoError(t, wsjson.Read(readCtx, conn, &got))
	assert.Equal(t, events.TypeSessionCreated, got.Type)
	assert.Equal(t, "rec-9", got.ID)
	assert.Equal(t, 2, got.Engagement)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerAnswersPing(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub, "", true)
	conn := dial(t, srv, "tab-2")
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "ping"}))

	var got map[string]string
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "pong", got["type"])

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, NewHub(), "https://study.example.edu", false)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws/research", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRegisterReplacesSameTab(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub, "", true)

	first := dial(t, srv, "tab-3")
	defer first.CloseNow()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	second := dial(t, srv, "tab-3")
	defer second.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, hub.Count())

	require.NoError(t, second.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastSkipsLaggingClients(t *testing.T) {
	hub := NewHub()
	hub.active["u"] = map[string]*client{"t": {send: make(chan events.SessionCreated, 1)}}

	hub.Broadcast(events.NewSessionCreated("a", 1, time.Now()))
	hub.Broadcast(events.NewSessionCreated("b", 1, time.Now()))

	assert.Len(t, hub.active["u"]["t"].send, 1)
}
