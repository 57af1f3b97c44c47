package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelhub/travelhub/config"
)

func TestMain(m *testing.M) {
	config.Override(config.AppConfig{JWTSecret: "realtime-test-secret"})
	os.Exit(m.Run())
}

func TestNewBroker(t *testing.T) {
	b, err := NewBroker(config.AppConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBroker{}, b)

	_, err = NewBroker(config.AppConfig{ChatBroker: "redis"})
	assert.Error(t, err, "redis broker without a redis host")

	_, err = NewBroker(config.AppConfig{ChatBroker: "kafka"})
	assert.ErrorContains(t, err, "unsupported chat broker")
}

func TestMemoryBrokerRoutesByRoom(t *testing.T) {
	b := NewMemoryBroker()
	var mu sync.Mutex
	got := map[string][]string{}
	record := func(name string) Handler {
		return func(p []byte) {
			mu.Lock()
			got[name] = append(got[name], string(p))
			mu.Unlock()
		}
	}

	subA, err := b.Subscribe("post:1", record("a"))
	require.NoError(t, err)
	_, err = b.Subscribe("post:1", record("b"))
	require.NoError(t, err)
	_, err = b.Subscribe("lobby", record("lobby"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "post:1", []byte("one")))
	require.NoError(t, subA.Unsubscribe())
	require.NoError(t, b.Publish(ctx, "post:1", []byte("two")))
	require.NoError(t, b.Publish(ctx, "post:2", []byte("nobody")))

	assert.Equal(t, []string{"one"}, got["a"])
	assert.Equal(t, []string{"one", "two"}, got["b"])
	assert.Empty(t, got["lobby"])

	require.NoError(t, b.Close())
	require.NoError(t, b.Publish(ctx, "post:1", []byte("three")))
	assert.Equal(t, []string{"one", "two"}, got["b"])
}

func dialRoom(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room=" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubDeliversToRoomSubscribers(t *testing.T) {
	hub := NewHub(NewMemoryBroker(), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("room"), 0)
	}))
	defer srv.Close()

	post := dialRoom(t, srv, "post:9")
	lobby := dialRoom(t, srv, "lobby")
	assert.Equal(t, Event{Type: EventSubscribed, Room: "post:9"}, readEvent(t, post))
	assert.Equal(t, Event{Type: EventSubscribed, Room: "lobby"}, readEvent(t, lobby))
	assert.Equal(t, 1, hub.Subscribers("post:9"))

	require.NoError(t, hub.Publish(context.Background(), "post:9", map[string]string{"content": "hello"}))
	ev := readEvent(t, post)
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "post:9", ev.Room)
	raw, _ := json.Marshal(ev.Message)
	assert.JSONEq(t, `{"content":"hello"}`, string(raw))

	// lobby saw nothing
	require.NoError(t, lobby.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := lobby.ReadMessage()
	assert.Error(t, err)

	_ = post.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers("post:9") == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestHubCloseRejectsNewClients(t *testing.T) {
	hub := NewHub(NewMemoryBroker(), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, "lobby", 1)
	}))
	defer srv.Close()

	conn := dialRoom(t, srv, "lobby")
	readEvent(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Close(ctx))
	assert.Zero(t, hub.Subscribers("lobby"))

	late := dialRoom(t, srv, "lobby")
	require.NoError(t, late.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "got %v", err)
}
