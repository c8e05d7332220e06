package hubclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barlink-service/internal/models"
)

// fakeHub is a minimal negotiate+ws server that records join frames and can
// drop connections to exercise the reconnect path.
type fakeHub struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*websocket.Conn
	joins     []string
	dropFirst bool
}

func (f *fakeHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/negotiate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"endpoint":    "/ws",
			"accessToken": "token-" + r.Header.Get("X-User-Id"),
		})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		connIndex := len(f.conns)
		f.mu.Unlock()

		for {
			var frame rpcFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			f.mu.Lock()
			if frame.Action == "join" {
				f.joins = append(f.joins, frame.Group)
			}
			drop := f.dropFirst && connIndex == 1
			f.mu.Unlock()

			if drop {
				conn.Close()
				return
			}
		}
	})
	return mux
}

func (f *fakeHub) send(t *testing.T, connIndex int, event models.Event) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	f.mu.Lock()
	conn := f.conns[connIndex]
	f.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func (f *fakeHub) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins)
}

func TestClientReceivesEvents(t *testing.T) {
	fake := &fakeHub{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client, err := Dial(context.Background(), Config{BaseURL: server.URL, UserID: "u1"})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Join("seatsChange"))
	require.Eventually(t, func() bool { return fake.joinCount() == 1 }, time.Second, 10*time.Millisecond)

	fake.send(t, 0, models.Event{Kind: models.EventSeatChange, Group: "seatsChange"})

	select {
	case event := <-client.Events():
		assert.Equal(t, models.EventSeatChange, event.Kind)
		assert.Equal(t, "seatsChange", event.Group)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestClientRejoinsHeldGroupsAfterReconnect(t *testing.T) {
	fake := &fakeHub{dropFirst: true}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	var reconnects int
	var reconnectMu sync.Mutex

	client, err := Dial(context.Background(), Config{
		BaseURL:        server.URL,
		UserID:         "u1",
		InitialBackoff: 10 * time.Millisecond,
		OnReconnect: func(ctx context.Context) {
			reconnectMu.Lock()
			reconnects++
			reconnectMu.Unlock()
		},
	})
	require.NoError(t, err)
	defer client.Close()

	// First join lands on conn 1, which the server then drops.
	require.NoError(t, client.Join("bar1;seats"))

	require.Eventually(t, func() bool {
		return fake.joinCount() >= 2
	}, 3*time.Second, 20*time.Millisecond, "held group must be re-joined on the new connection")

	reconnectMu.Lock()
	assert.GreaterOrEqual(t, reconnects, 1)
	reconnectMu.Unlock()

	// Events flow again on the replacement connection.
	fake.send(t, 1, models.Event{Kind: models.EventSeatChange, Group: "bar1;seats"})
	select {
	case event := <-client.Events():
		assert.Equal(t, "bar1;seats", event.Group)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event after reconnect")
	}
}

func TestClientCloseStopsReconnect(t *testing.T) {
	fake := &fakeHub{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client, err := Dial(context.Background(), Config{BaseURL: server.URL, UserID: "u1"})
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Join("g"), ErrClosed)
}
