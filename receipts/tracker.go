package receipts

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/metrics"
	"github.com/mudassirishfaq94/chat-app/persistence"
	"github.com/mudassirishfaq94/chat-app/presence"
	"github.com/mudassirishfaq94/chat-app/types"
)

// Tracker relays delivered and seen signals to the live connections of a message's sender. Nothing is stored: a
// receipt for a sender without a live connection in the room is dropped.
type Tracker struct {
	persister persistence.Persister
	registry  *presence.Registry
	now       func() time.Time
	logger    hclog.Logger
}

func NewTracker(persister persistence.Persister, registry *presence.Registry, now func() time.Time) *Tracker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		persister: persister,
		registry:  registry,
		now:       now,
		logger:    globals.AppLogger.Named("receipts"),
	}
}

// Delivered relays a message-delivered receipt. It returns the number of connections notified.
func (t *Tracker) Delivered(ctx context.Context, room *types.Room, messageId uint64, by presence.Entry) (int, error) {
	return t.relay(ctx, room, messageId, by, types.EventMessageDelivered, "delivered")
}

// Seen relays a message-seen-by receipt. It returns the number of connections notified.
func (t *Tracker) Seen(ctx context.Context, room *types.Room, messageId uint64, by presence.Entry) (int, error) {
	return t.relay(ctx, room, messageId, by, types.EventMessageSeenBy, "seen")
}

func (t *Tracker) relay(ctx context.Context, room *types.Room, messageId uint64, by presence.Entry, event, kind string) (int, error) {
	msg, err := t.persister.GetMessage(ctx, messageId)
	if types.IsKind(err, types.KindNotFound) || (err == nil && msg.RoomId != room.Id) {
		return 0, types.NewNotFoundError(kind, "message %d not found", messageId)
	}
	if err != nil {
		return 0, err
	}
	if msg.UserId == by.UserId {
		return 0, nil
	}
	targets := t.registry.EntriesForUser(room.Code, msg.UserId)
	if len(targets) == 0 {
		t.logger.Trace("receipt dropped, sender offline", "room", room.Code, "message", messageId, "kind", kind)
		return 0, nil
	}
	frame, err := types.EncodeFrame(event, types.ReceiptPayload{MessageId: messageId, By: by.Name, At: t.now()})
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, e := range targets {
		if e.Conn.Send(frame) {
			sent++
		}
	}
	metrics.ReceiptsSent.WithLabelValues(kind).Add(float64(sent))
	return sent, nil
}
