package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"barlink-service/internal/models"
	"barlink-service/internal/observability"
)

// Publisher is the side of the hub the ledgers and the seat registry see:
// fire-and-forget, at-least-once delivery to currently joined members.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// Hub maintains named groups of websocket connections. Group membership is
// per-connection and forgotten when the connection drops; clients re-join
// after reconnecting.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*websocket.Conn]bool
	conns  map[*websocket.Conn]*connState

	bridge *RedisBridge
}

type connState struct {
	info   ConnInfo
	groups map[string]bool
}

// NewHub creates an empty hub. bridge may be nil for single-instance
// deployments.
func NewHub(bridge *RedisBridge) *Hub {
	return &Hub{
		groups: make(map[string]map[*websocket.Conn]bool),
		conns:  make(map[*websocket.Conn]*connState),
		bridge: bridge,
	}
}

// Register adds a connection with no group memberships yet.
func (h *Hub) Register(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = &connState{info: info, groups: make(map[string]bool)}
}

// Unregister drops the connection from every group it joined.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conn)
}

func (h *Hub) removeLocked(conn *websocket.Conn) {
	state, ok := h.conns[conn]
	if !ok {
		return
	}
	for group := range state.groups {
		if members, ok := h.groups[group]; ok {
			delete(members, conn)
			if len(members) == 0 {
				delete(h.groups, group)
			}
		}
	}
	delete(h.conns, conn)
}

// Join adds the connection to a group. Joining a group the connection is
// already in is a silent no-op.
func (h *Hub) Join(group string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.conns[conn]
	if !ok {
		return
	}
	if state.groups[group] {
		return
	}
	state.groups[group] = true
	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[*websocket.Conn]bool)
	}
	h.groups[group][conn] = true
}

// Leave removes the connection from a group; leaving a group it is not in is
// a silent no-op.
func (h *Hub) Leave(group string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.conns[conn]
	if !ok || !state.groups[group] {
		return
	}
	delete(state.groups, group)
	if members, ok := h.groups[group]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

// GroupsOf returns the groups the connection currently holds.
func (h *Hub) GroupsOf(conn *websocket.Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, ok := h.conns[conn]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(state.groups))
	for g := range state.groups {
		out = append(out, g)
	}
	return out
}

// Publish delivers the event to every member of event.Group. With a bridge
// configured the event goes through Redis so every service instance fans out;
// on bridge failure local members still get the event directly.
func (h *Hub) Publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	observability.IncHubEvent(string(event.Kind), "publish")

	if h.bridge != nil {
		if err := h.bridge.Publish(ctx, payload); err == nil {
			return nil
		}
		log.Printf("hub bridge publish failed, delivering locally: group=%s", event.Group)
	}
	h.fanout(event.Group, payload)
	return nil
}

// fanout writes raw bytes to all local members of a group, evicting
// connections whose writes fail.
func (h *Hub) fanout(group string, payload []byte) {
	h.mu.RLock()
	members := make([]*websocket.Conn, 0, len(h.groups[group]))
	for conn := range h.groups[group] {
		members = append(members, conn)
	}
	h.mu.RUnlock()

	for _, conn := range members {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			h.Unregister(conn)
			observability.IncHubEvent("hub", "ws_error")
		}
	}
}

var _ Publisher = (*Hub)(nil)
