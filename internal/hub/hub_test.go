package hub

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubJoinAndLeave(t *testing.T) {
	h := NewHub(nil)
	conn := &websocket.Conn{}

	h.Register(conn, ConnInfo{UserID: "u1"})
	h.Join("seatsChange", conn)
	if len(h.groups) != 1 {
		t.Fatalf("expected group to be created")
	}

	// idempotent join
	h.Join("seatsChange", conn)
	if len(h.groups["seatsChange"]) != 1 {
		t.Fatalf("expected single membership after duplicate join")
	}

	h.Leave("seatsChange", conn)
	if len(h.groups) != 0 {
		t.Fatalf("expected group to be removed")
	}

	// leaving a group the connection is not in is a no-op
	h.Leave("seatsChange", conn)
}

func TestHubJoinRequiresRegistration(t *testing.T) {
	h := NewHub(nil)
	conn := &websocket.Conn{}

	h.Join("seatsChange", conn)
	if len(h.groups) != 0 {
		t.Fatalf("unregistered connection must not join groups")
	}
}

func TestHubUnregisterDropsAllGroups(t *testing.T) {
	h := NewHub(nil)
	conn := &websocket.Conn{}

	h.Register(conn, ConnInfo{UserID: "u1"})
	h.Join("seatsChange", conn)
	h.Join("bar1;seats", conn)

	h.Unregister(conn)
	if len(h.groups) != 0 {
		t.Fatalf("expected all groups removed after unregister")
	}
	if got := h.GroupsOf(conn); got != nil {
		t.Fatalf("expected no groups for unregistered conn, got %v", got)
	}
}

func TestHubGroupsOf(t *testing.T) {
	h := NewHub(nil)
	conn := &websocket.Conn{}

	h.Register(conn, ConnInfo{UserID: "u1"})
	h.Join("a", conn)
	h.Join("b", conn)

	groups := h.GroupsOf(conn)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %v", groups)
	}
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)

	token, err := issuer.Mint("u1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	userID, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("expected u1, got %s", userID)
	}
}

func TestTokenIssuerRejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)

	if _, err := issuer.Validate("not-a-token"); err == nil {
		t.Fatalf("expected error for garbage token")
	}

	other := NewTokenIssuer("other-secret", time.Minute)
	token, _ := other.Mint("u1")
	if _, err := issuer.Validate(token); err == nil {
		t.Fatalf("expected error for token signed with another secret")
	}
}
