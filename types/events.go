package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ClientEvent is the closed set of events a client may send. Payloads are
// validated here, before anything reaches the session layer.
type ClientEvent interface {
	EventName() string
}

type JoinRoom struct {
	RoomCode string
}

type SendMessage struct {
	Text                        string
	ReplyToId                   *uint64
	ForwardFromMessageId        *uint64
	ForwardedOriginalSenderName string
	ForwardedOriginalTimestamp  *time.Time
}

type SendAttachment struct {
	Attachment Attachment
	ReplyToId  *uint64
}

type EditMessage struct {
	MessageId uint64
	NewText   string
}

type DeleteMessage struct {
	MessageId uint64
}

type ClearRoom struct{}

type SetName struct {
	Name string
}

type Typing struct {
	IsTyping bool
}

type MessageDelivered struct {
	MessageId uint64
}

type MessageSeen struct {
	MessageId uint64
}

func (JoinRoom) EventName() string         { return EventJoinRoom }
func (SendMessage) EventName() string      { return EventMessage }
func (SendAttachment) EventName() string   { return EventAttachment }
func (EditMessage) EventName() string      { return EventEditMessage }
func (DeleteMessage) EventName() string    { return EventDeleteMessage }
func (ClearRoom) EventName() string        { return EventClearRoom }
func (SetName) EventName() string          { return EventSetName }
func (Typing) EventName() string           { return EventTyping }
func (MessageDelivered) EventName() string { return EventMessageDelivered }
func (MessageSeen) EventName() string      { return EventMessageSeen }

// incoming payload shapes, decoded with mapstructure's weak typing so that ids
// may arrive as numbers or numeric strings
type joinRoomData struct {
	RoomCode string `mapstructure:"roomCode"`
	RoomId   string `mapstructure:"roomId"`
}

type messageData struct {
	Text                        string      `mapstructure:"text"`
	ReplyToId                   uint64      `mapstructure:"replyToId"`
	ForwardFromMessageId        uint64      `mapstructure:"forwardFromMessageId"`
	ForwardedOriginalSenderName string      `mapstructure:"forwardedOriginalSenderName"`
	ForwardedOriginalTimestamp  interface{} `mapstructure:"forwardedOriginalTimestamp"`
}

type attachmentData struct {
	Attachment `mapstructure:",squash"`
	ReplyToId  uint64 `mapstructure:"replyToId"`
}

type editData struct {
	MessageId uint64 `mapstructure:"messageId"`
	NewText   string `mapstructure:"newText"`
}

// DecodeClientEvent turns a raw frame into one of the ClientEvent variants.
// Unknown events and malformed payloads yield a validation error.
func DecodeClientEvent(msg *WebsocketMessage) (ClientEvent, error) {
	const op = "decode"
	raw, err := rawPayload(msg.Data)
	if err != nil {
		return nil, NewValidationError(op, "malformed %s payload", msg.Event)
	}
	switch msg.Event {
	case EventJoinRoom:
		var d joinRoomData
		if s, ok := raw.(string); ok {
			d.RoomCode = s
		} else if err := weakDecode(raw, &d); err != nil {
			return nil, NewValidationError(op, "malformed join-room payload")
		}
		code := strings.TrimSpace(d.RoomCode)
		if code == "" {
			code = strings.TrimSpace(d.RoomId)
		}
		if code == "" {
			return nil, NewValidationError(op, "room code is required")
		}
		return JoinRoom{RoomCode: code}, nil

	case EventMessage:
		if s, ok := raw.(string); ok {
			return SendMessage{Text: s}, nil
		}
		var d messageData
		if err := weakDecode(raw, &d); err != nil {
			return nil, NewValidationError(op, "malformed message payload")
		}
		ts, err := parseTimestamp(d.ForwardedOriginalTimestamp)
		if err != nil {
			return nil, NewValidationError(op, "malformed forwardedOriginalTimestamp")
		}
		return SendMessage{
			Text:                        d.Text,
			ReplyToId:                   optionalId(d.ReplyToId),
			ForwardFromMessageId:        optionalId(d.ForwardFromMessageId),
			ForwardedOriginalSenderName: strings.TrimSpace(d.ForwardedOriginalSenderName),
			ForwardedOriginalTimestamp:  ts,
		}, nil

	case EventAttachment:
		var d attachmentData
		if err := weakDecode(raw, &d); err != nil {
			return nil, NewValidationError(op, "malformed attachment payload")
		}
		if err := d.Attachment.Validate(); err != nil {
			return nil, err
		}
		return SendAttachment{Attachment: d.Attachment, ReplyToId: optionalId(d.ReplyToId)}, nil

	case EventEditMessage:
		var d editData
		if err := weakDecode(raw, &d); err != nil || d.MessageId == 0 {
			return nil, NewValidationError(op, "edit-message requires messageId and newText")
		}
		return EditMessage{MessageId: d.MessageId, NewText: d.NewText}, nil

	case EventDeleteMessage:
		id, err := decodeMessageId(raw)
		if err != nil {
			return nil, err
		}
		return DeleteMessage{MessageId: id}, nil

	case EventClearRoom:
		return ClearRoom{}, nil

	case EventSetName:
		var name string
		if err := weakDecode(raw, &name); err != nil {
			return nil, NewValidationError(op, "set-name requires a string")
		}
		return SetName{Name: name}, nil

	case EventTyping:
		var typing bool
		if raw == nil {
			return nil, NewValidationError(op, "typing requires a boolean")
		}
		if err := weakDecode(raw, &typing); err != nil {
			return nil, NewValidationError(op, "typing requires a boolean")
		}
		return Typing{IsTyping: typing}, nil

	case EventMessageDelivered:
		id, err := decodeMessageId(raw)
		if err != nil {
			return nil, err
		}
		return MessageDelivered{MessageId: id}, nil

	case EventMessageSeen:
		id, err := decodeMessageId(raw)
		if err != nil {
			return nil, err
		}
		return MessageSeen{MessageId: id}, nil
	}
	return nil, NewValidationError(op, "unknown event %q", msg.Event)
}

func rawPayload(data json.RawMessage) (interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func weakDecode(input, output interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// decodeMessageId accepts a bare id or an object carrying messageId.
func decodeMessageId(raw interface{}) (uint64, error) {
	if m, ok := raw.(map[string]interface{}); ok {
		raw = m["messageId"]
	}
	var id uint64
	if raw == nil {
		return 0, NewValidationError("decode", "messageId is required")
	}
	if err := weakDecode(raw, &id); err != nil || id == 0 {
		return 0, NewValidationError("decode", "invalid messageId")
	}
	return id, nil
}

func optionalId(id uint64) *uint64 {
	if id == 0 {
		return nil
	}
	return &id
}

// parseTimestamp accepts RFC 3339 strings and unix milliseconds.
func parseTimestamp(v interface{}) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			ts := time.Unix(0, ms*int64(time.Millisecond)).UTC()
			return &ts, nil
		}
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, err
		}
		ts = ts.UTC()
		return &ts, nil
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return nil, err
			}
			ms = int64(f)
		}
		ts := time.Unix(0, ms*int64(time.Millisecond)).UTC()
		return &ts, nil
	}
	return nil, NewValidationError("decode", "unsupported timestamp")
}
