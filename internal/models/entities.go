package models

import (
	"strings"

	"barlink-service/internal/tablestore"
)

// Table is the single storage table shared by every entity kind, keyed by
// partition conventions (see internal/routing).
const Table = "BarTable"

// UsersPartition holds per-user profile rows (RowKey = user id).
const UsersPartition = "Users"

// Seat is a physical seat inside a bar. Position is normalized to the venue
// map. ConnectedUser is empty while the seat is free. ETag carries the
// optimistic-concurrency token of the row it was read from.
type Seat struct {
	BarID         string  `json:"bar_id"`
	SeatID        string  `json:"seat_id"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	ConnectedUser string  `json:"connected_user"`
	ETag          string  `json:"-"`
}

func SeatFromEntity(e tablestore.Entity) Seat {
	return Seat{
		BarID:         e.PartitionKey,
		SeatID:        e.RowKey,
		X:             e.Float("x"),
		Y:             e.Float("y"),
		ConnectedUser: e.String("connectedUser"),
		ETag:          e.ETag,
	}
}

func (s Seat) Entity() tablestore.Entity {
	return tablestore.Entity{
		PartitionKey: s.BarID,
		RowKey:       s.SeatID,
		ETag:         s.ETag,
		Props: map[string]any{
			"x":             s.X,
			"y":             s.Y,
			"connectedUser": s.ConnectedUser,
		},
	}
}

// SeatRef names a seat across venues.
type SeatRef struct {
	BarID  string `json:"bar_id"`
	SeatID string `json:"seat_id"`
}

// ParseConnectedSeats decodes the denormalized connectedSeats attribute of a
// user row: comma-separated "bar;seat" pairs.
func ParseConnectedSeats(raw string) []SeatRef {
	if raw == "" {
		return nil
	}
	var refs []SeatRef
	for _, pair := range strings.Split(raw, ",") {
		bar, seat, ok := strings.Cut(pair, ";")
		if !ok || bar == "" || seat == "" {
			continue
		}
		refs = append(refs, SeatRef{BarID: bar, SeatID: seat})
	}
	return refs
}

// FormatConnectedSeats is the inverse of ParseConnectedSeats.
func FormatConnectedSeats(refs []SeatRef) string {
	pairs := make([]string, 0, len(refs))
	for _, r := range refs {
		pairs = append(pairs, r.BarID+";"+r.SeatID)
	}
	return strings.Join(pairs, ",")
}

// ChatMessage is one message in a two-user thread. RowKey order inside the
// pair partition is display order.
type ChatMessage struct {
	PairKey   string `json:"pair_key"`
	RowKey    string `json:"row_key"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func ChatMessageFromEntity(e tablestore.Entity) ChatMessage {
	return ChatMessage{
		PairKey:   e.PartitionKey,
		RowKey:    e.RowKey,
		Sender:    e.String("Sender"),
		Text:      e.String("Message"),
		Timestamp: e.String("StringTimestamp"),
	}
}

func (m ChatMessage) Entity() tablestore.Entity {
	return tablestore.Entity{
		PartitionKey: m.PairKey,
		RowKey:       m.RowKey,
		Props: map[string]any{
			"Sender":          m.Sender,
			"Message":         m.Text,
			"StringTimestamp": m.Timestamp,
		},
	}
}

// InboxEntry is the denormalized per-conversation summary row rendered by the
// conversation list. One row per (owner, counterpart) pair.
type InboxEntry struct {
	Owner           string `json:"owner"`
	Counterpart     string `json:"counterpart"`
	CounterpartName string `json:"counterpart_name"`
	LastMessage     string `json:"last_message"`
	LastTimestamp   string `json:"last_timestamp"`
	IsRead          bool   `json:"is_read"`
}

func InboxEntryFromEntity(owner string, e tablestore.Entity) InboxEntry {
	return InboxEntry{
		Owner:           owner,
		Counterpart:     e.RowKey,
		CounterpartName: e.String("counterpartName"),
		LastMessage:     e.String("Message"),
		LastTimestamp:   e.String("lastTimestamp"),
		IsRead:          e.Bool("isRead"),
	}
}

// GiftStatus is the lifecycle state of a gift. Accepted and declined are
// terminal.
type GiftStatus string

const (
	GiftPending  GiftStatus = "pending"
	GiftAccepted GiftStatus = "accepted"
	GiftDeclined GiftStatus = "declined"
)

// Valid reports whether s is a known status.
func (s GiftStatus) Valid() bool {
	return s == GiftPending || s == GiftAccepted || s == GiftDeclined
}

// Terminal reports whether no further transition is allowed from s.
func (s GiftStatus) Terminal() bool {
	return s == GiftAccepted || s == GiftDeclined
}

// Gift is one side of a dual-row gift record. The sender-side and bar-side
// rows share the RowKey and must converge to the same status.
type Gift struct {
	RowKey       string     `json:"row_key"`
	Sender       string     `json:"sender"`
	SenderSeat   string     `json:"sender_seat"`
	Receiver     string     `json:"receiver"`
	ReceiverSeat string     `json:"receiver_seat"`
	Items        string     `json:"items"`
	Price        float64    `json:"price"`
	Status       GiftStatus `json:"status"`
	Timestamp    string     `json:"timestamp"`
	ETag         string     `json:"-"`
}

func GiftFromEntity(e tablestore.Entity) Gift {
	return Gift{
		RowKey:       e.RowKey,
		Sender:       e.String("sender"),
		SenderSeat:   e.String("senderSeat"),
		Receiver:     e.String("reciverMail"),
		ReceiverSeat: e.String("reciverSeat"),
		Items:        e.String("Message"),
		Price:        e.Float("Price"),
		Status:       GiftStatus(e.String("status")),
		Timestamp:    e.String("StringTimestamp"),
		ETag:         e.ETag,
	}
}

func (g Gift) Entity(partitionKey string) tablestore.Entity {
	return tablestore.Entity{
		PartitionKey: partitionKey,
		RowKey:       g.RowKey,
		ETag:         g.ETag,
		Props: map[string]any{
			"sender":          g.Sender,
			"senderSeat":      g.SenderSeat,
			"reciverMail":     g.Receiver,
			"reciverSeat":     g.ReceiverSeat,
			"Message":         g.Items,
			"Price":           g.Price,
			"status":          string(g.Status),
			"StringTimestamp": g.Timestamp,
		},
	}
}

// Profile is a user row in the Users partition.
type Profile struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func ProfileFromEntity(e tablestore.Entity) Profile {
	return Profile{
		UserID:    e.RowKey,
		FirstName: e.String("firstName"),
		LastName:  e.String("lastName"),
	}
}

// DisplayName renders "First Last", falling back to the user id.
func (p Profile) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.UserID
	}
	return name
}
