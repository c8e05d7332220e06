package observability

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// ConnEvent is the envelope hub connection lifecycle notices travel in.
// Consumers key off Name ("ws_connect", "ws_disconnect"); Detail carries the
// connection attributes.
type ConnEvent struct {
	Service string         `json:"service"`
	Name    string         `json:"name"`
	Detail  map[string]any `json:"detail"`
}

// ConnEventSink delivers connection events to an external broker.
type ConnEventSink interface {
	Deliver(ctx context.Context, routingKey string, event ConnEvent, headers map[string]string) error
}

var connSink ConnEventSink

// SetConnEventSink installs the process-wide sink. Without one, EmitConnEvent
// is a no-op and the hub runs broker-less.
func SetConnEventSink(sink ConnEventSink) {
	connSink = sink
}

// EmitConnEvent ships one lifecycle notice through the configured sink. The
// request and trace ids ride along as broker headers for correlation.
func EmitConnEvent(ctx context.Context, name string, detail map[string]any, requestID, traceID string) {
	if connSink == nil {
		return
	}

	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}

	event := ConnEvent{Service: "barlink-service", Name: name, Detail: detail}
	if err := connSink.Deliver(ctx, "conn."+name, event, headers); err != nil {
		IncAMQPPublishError()
	}
}

// ClientIP resolves the caller address, preferring the gateway's
// X-Forwarded-For chain over the socket peer.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
