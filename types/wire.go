package types

import (
	"encoding/json"
	"errors"
	"time"
)

// Client to server events.
const (
	EventJoinRoom         = "join-room"
	EventMessage          = "message"
	EventAttachment       = "attachment"
	EventEditMessage      = "edit-message"
	EventDeleteMessage    = "delete-message"
	EventClearRoom        = "clear-room"
	EventSetName          = "set-name"
	EventTyping           = "typing"
	EventMessageDelivered = "message-delivered"
	EventMessageSeen      = "message-seen"
)

// Server to client events. "message", "typing" and "message-delivered" are
// shared with the client side names above.
const (
	EventOnline         = "online"
	EventMessageEdited  = "message-edited"
	EventMessageDeleted = "message-deleted"
	EventRoomCleared    = "room-cleared"
	EventMessageSeenBy  = "message-seen-by"
	EventHistory        = "history"
	EventSystem         = "system"
	EventAck            = "ack"
)

// WebsocketMessage is what is actually sent via the websocket connection in
// both directions. Ack is set by a client that wants an acknowledgment and is
// echoed back on the matching "ack" frame.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
}

// AckResult is the payload of an "ack" frame.
type AckResult struct {
	Ok    bool      `json:"ok"`
	Id    uint64    `json:"id,omitempty"`
	Error string    `json:"error,omitempty"`
	Code  ErrorKind `json:"code,omitempty"`
}

// AckFromError builds a failed AckResult from err.
func AckFromError(err error) AckResult {
	return AckResult{Ok: false, Error: PublicMessage(err), Code: KindOf(err)}
}

// EditedPayload is broadcast when a message text changes.
type EditedPayload struct {
	Id       uint64    `json:"id"`
	Text     string    `json:"text"`
	EditedAt time.Time `json:"editedAt"`
}

// ReceiptPayload is sent to the original sender only.
type ReceiptPayload struct {
	MessageId uint64    `json:"messageId"`
	By        string    `json:"by"`
	At        time.Time `json:"at"`
}

type TypingPayload struct {
	From     string `json:"from"`
	IsTyping bool   `json:"isTyping"`
}

type RoomClearedPayload struct {
	RoomCode string `json:"roomCode"`
}

// EncodeFrame marshals a server frame.
func EncodeFrame(event string, data interface{}) ([]byte, error) {
	if event == "" {
		return nil, errors.New("empty event name")
	}
	msg := WebsocketMessage{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// EncodeAck marshals the acknowledgment for the client frame numbered ack.
func EncodeAck(ack uint64, result AckResult) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: EventAck, Data: raw, Ack: ack})
}
