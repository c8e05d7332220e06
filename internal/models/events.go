package models

import "encoding/json"

// EventKind routes hub events to the consumers that care.
type EventKind string

const (
	EventChatMessage EventKind = "chatMessage"
	EventSeatChange  EventKind = "seatChange"
	EventGiftStatus  EventKind = "giftStatus"
	EventEmergency   EventKind = "emergency"
)

// Event is the envelope published to a hub group. Payload is kind-specific.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Group     string          `json:"group"`
	Sender    string          `json:"sender,omitempty"`
	Receiver  string          `json:"receiver,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// SeatChangePayload describes a connectSeat/disconnectSeat event.
type SeatChangePayload struct {
	Action string `json:"action"` // "connectSeat" | "disconnectSeat"
	BarID  string `json:"bar_id"`
	SeatID string `json:"seat_id"`
	UserID string `json:"user_id,omitempty"`
}

// ChatMessagePayload rides chatMessage events, both for new messages and for
// read notices (Text empty, Read true).
type ChatMessagePayload struct {
	PairKey string `json:"pair_key"`
	RowKey  string `json:"row_key,omitempty"`
	Sender  string `json:"sender"`
	Text    string `json:"text,omitempty"`
	Read    bool   `json:"read,omitempty"`
}

// GiftStatusPayload rides giftStatus events.
type GiftStatusPayload struct {
	RowKey string     `json:"row_key"`
	Status GiftStatus `json:"status"`
	BarID  string     `json:"bar_id,omitempty"`
	Sender string     `json:"sender,omitempty"`
}

// EmergencyPayload rides emergency events; managers filter on BarName.
type EmergencyPayload struct {
	UserID  string `json:"user_id"`
	BarName string `json:"bar_name"`
	Text    string `json:"text"`
}

// MarshalPayload is a small helper for building events.
func MarshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
