package observability

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu         sync.Mutex
	calls      int
	routingKey string
	event      ConnEvent
	headers    map[string]string
}

func (s *captureSink) Deliver(_ context.Context, routingKey string, event ConnEvent, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.routingKey = routingKey
	s.event = event
	s.headers = headers
	return nil
}

func TestEmitConnEvent(t *testing.T) {
	sink := &captureSink{}
	SetConnEventSink(sink)
	t.Cleanup(func() { SetConnEventSink(nil) })

	EmitConnEvent(context.Background(), "ws_connect",
		map[string]any{"conn_id": "c1", "user_id": "ana@example.com"}, "req-1", "trace-1")

	require.Equal(t, 1, sink.calls)
	assert.Equal(t, "conn.ws_connect", sink.routingKey)
	assert.Equal(t, "barlink-service", sink.event.Service)
	assert.Equal(t, "ws_connect", sink.event.Name)
	assert.Equal(t, "ana@example.com", sink.event.Detail["user_id"])
	assert.Equal(t, "req-1", sink.headers["x-request-id"])
	assert.Equal(t, "trace-1", sink.headers["trace_id"])
}

func TestEmitConnEventWithoutSink(t *testing.T) {
	SetConnEventSink(nil)

	EmitConnEvent(context.Background(), "ws_disconnect", nil, "", "")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.9:4242"
	assert.Equal(t, "10.0.0.9", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(r))
}
