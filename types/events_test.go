package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(event, data string) *WebsocketMessage {
	return &WebsocketMessage{Event: event, Data: json.RawMessage(data)}
}

func id(v uint64) *uint64 {
	return &v
}

func TestDecodeClientEvent(t *testing.T) {
	forwardedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		msg  *WebsocketMessage
		want ClientEvent
	}{
		{"join with string", frame(EventJoinRoom, `" abcd12 "`), JoinRoom{RoomCode: "abcd12"}},
		{"join with object", frame(EventJoinRoom, `{"roomCode":"abcd12"}`), JoinRoom{RoomCode: "abcd12"}},
		{"join with legacy room id", frame(EventJoinRoom, `{"roomId":"lobby"}`), JoinRoom{RoomCode: "lobby"}},
		{"plain message", frame(EventMessage, `"hello"`), SendMessage{Text: "hello"}},
		{"reply with string id", frame(EventMessage, `{"text":"hi","replyToId":"7"}`), SendMessage{Text: "hi", ReplyToId: id(7)}},
		{"forward", frame(EventMessage, `{"text":"fwd","forwardFromMessageId":3,"forwardedOriginalSenderName":" Bob ","forwardedOriginalTimestamp":"2024-03-01T12:00:00Z"}`),
			SendMessage{Text: "fwd", ForwardFromMessageId: id(3), ForwardedOriginalSenderName: "Bob", ForwardedOriginalTimestamp: &forwardedAt}},
		{"forward with unix millis", frame(EventMessage, `{"text":"fwd","forwardFromMessageId":3,"forwardedOriginalTimestamp":1709294400000}`),
			SendMessage{Text: "fwd", ForwardFromMessageId: id(3), ForwardedOriginalTimestamp: &forwardedAt}},
		{"attachment", frame(EventAttachment, `{"url":"/api/blobs/x","type":"image","name":"a.png","size":10,"mime":"image/png","replyToId":2}`),
			SendAttachment{Attachment: Attachment{URL: "/api/blobs/x", Type: "image", Name: "a.png", Size: 10, Mime: "image/png"}, ReplyToId: id(2)}},
		{"edit", frame(EventEditMessage, `{"messageId":5,"newText":"fixed"}`), EditMessage{MessageId: 5, NewText: "fixed"}},
		{"delete with bare id", frame(EventDeleteMessage, `5`), DeleteMessage{MessageId: 5}},
		{"delete with object", frame(EventDeleteMessage, `{"messageId":"5"}`), DeleteMessage{MessageId: 5}},
		{"clear", frame(EventClearRoom, ``), ClearRoom{}},
		{"set name", frame(EventSetName, `"Alice"`), SetName{Name: "Alice"}},
		{"typing", frame(EventTyping, `true`), Typing{IsTyping: true}},
		{"delivered", frame(EventMessageDelivered, `{"messageId":9}`), MessageDelivered{MessageId: 9}},
		{"seen", frame(EventMessageSeen, `9`), MessageSeen{MessageId: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientEvent(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.msg.Event, got.EventName())
		})
	}
}

func TestDecodeClientEventRejects(t *testing.T) {
	tests := []struct {
		name string
		msg  *WebsocketMessage
	}{
		{"unknown event", frame("shout", `"x"`)},
		{"broken json", frame(EventMessage, `{"text":`)},
		{"join without code", frame(EventJoinRoom, `{"roomCode":"  "}`)},
		{"edit without id", frame(EventEditMessage, `{"newText":"x"}`)},
		{"delete without id", frame(EventDeleteMessage, `{}`)},
		{"delete with zero id", frame(EventDeleteMessage, `0`)},
		{"typing without value", frame(EventTyping, ``)},
		{"attachment without url", frame(EventAttachment, `{"type":"image"}`)},
		{"attachment with unknown type", frame(EventAttachment, `{"url":"u","type":"audio"}`)},
		{"encrypted attachment without iv", frame(EventAttachment, `{"url":"u","type":"file","encrypted":true}`)},
		{"bad forward timestamp", frame(EventMessage, `{"text":"x","forwardedOriginalTimestamp":"yesterday"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClientEvent(tt.msg)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestEncodeAck(t *testing.T) {
	raw, err := EncodeAck(4, AckFromError(NewStateError("edit message", "message is deleted")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ack","ack":4,"data":{"ok":false,"error":"message is deleted","code":"state"}}`, string(raw))

	raw, err = EncodeFrame(EventOnline, []string{"Alice"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"online","data":["Alice"]}`, string(raw))

	_, err = EncodeFrame("", nil)
	assert.Error(t, err)
}
