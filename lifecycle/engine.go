package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/directory"
	"github.com/mudassirishfaq94/chat-app/filter"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/metrics"
	"github.com/mudassirishfaq94/chat-app/persistence"
	"github.com/mudassirishfaq94/chat-app/types"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultEditWindow    = 15 * time.Minute
	DefaultMaxTextLength = 4000
)

// Broadcaster fans a frame out to the live connections of a room.
type Broadcaster interface {
	Broadcast(roomCode string, frame []byte, exceptConnId string) int
}

// Draft is the content of a message about to be created.
type Draft struct {
	Text                        string
	Attachment                  *types.Attachment
	ReplyToId                   *uint64
	ForwardFromMessageId        *uint64
	ForwardedOriginalSenderName string
	ForwardedOriginalTimestamp  *time.Time
}

type Options struct {
	EditWindow    time.Duration
	MaxTextLength int
	Policy        *filter.Policy
	// Now is the clock used for createdAt, editedAt and deletedAt. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Engine owns the message state machine: Active, Edited (any number of times), Deleted. Every operation persists
// first and broadcasts only after the store accepted the change.
type Engine struct {
	persister   persistence.Persister
	directory   *directory.Directory
	broadcaster Broadcaster
	editWindow  time.Duration
	maxText     int
	policy      *filter.Policy
	now         func() time.Time
	logger      hclog.Logger
}

func NewEngine(persister persistence.Persister, dir *directory.Directory, broadcaster Broadcaster, opts Options) *Engine {
	e := &Engine{
		persister:   persister,
		directory:   dir,
		broadcaster: broadcaster,
		editWindow:  opts.EditWindow,
		maxText:     opts.MaxTextLength,
		policy:      opts.Policy,
		now:         opts.Now,
		logger:      globals.AppLogger.Named("lifecycle"),
	}
	if e.editWindow <= 0 {
		e.editWindow = DefaultEditWindow
	}
	if e.maxText <= 0 {
		e.maxText = DefaultMaxTextLength
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

func storeTimer(op string) *prometheus.Timer {
	return prometheus.NewTimer(metrics.StoreLatency.WithLabelValues(op))
}

// loadInRoom fetches a message and hides messages of other rooms behind NotFound.
func (e *Engine) loadInRoom(ctx context.Context, op string, room *types.Room, id uint64) (*types.Message, error) {
	timer := storeTimer("get_message")
	msg, err := e.persister.GetMessage(ctx, id)
	timer.ObserveDuration()
	if types.IsKind(err, types.KindNotFound) || (err == nil && msg.RoomId != room.Id) {
		return nil, types.NewNotFoundError(op, "message %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (e *Engine) broadcast(room *types.Room, event string, data interface{}) {
	frame, err := types.EncodeFrame(event, data)
	if err != nil {
		e.logger.Error("could not encode frame", "event", event, "error", err)
		return
	}
	e.broadcaster.Broadcast(room.Code, frame, "")
}

func (e *Engine) checkLength(op, text string) error {
	if utf8.RuneCountInString(text) > e.maxText {
		return types.NewValidationError(op, "message text exceeds %d characters", e.maxText)
	}
	return nil
}

// Create validates, persists and broadcasts a new message to every connection of the room, the author's included.
func (e *Engine) Create(ctx context.Context, room *types.Room, author *types.User, d Draft) (*types.WireMessage, error) {
	const op = "create message"
	hasAttachment := d.Attachment != nil
	if strings.TrimSpace(d.Text) == "" && !hasAttachment {
		return nil, types.NewValidationError(op, "message text is empty")
	}
	if err := e.checkLength(op, d.Text); err != nil {
		return nil, err
	}

	msg := &types.Message{
		RoomId:    room.Id,
		UserId:    author.Id,
		Text:      d.Text,
		CreatedAt: e.now(),
	}
	if hasAttachment {
		if err := d.Attachment.Validate(); err != nil {
			return nil, err
		}
		msg.AttachmentURL = d.Attachment.URL
		msg.AttachmentType = d.Attachment.Type
		msg.AttachmentName = d.Attachment.Name
		msg.AttachmentSize = d.Attachment.Size
		msg.AttachmentMime = d.Attachment.Mime
		msg.Encrypted = d.Attachment.Encrypted
		msg.IV = d.Attachment.IV
	}

	if d.ReplyToId != nil {
		if _, err := e.loadInRoom(ctx, op, room, *d.ReplyToId); err != nil {
			return nil, err
		}
		replyTo := *d.ReplyToId
		msg.ReplyToId = &replyTo
	}

	if d.ForwardFromMessageId != nil {
		timer := storeTimer("get_message")
		src, err := e.persister.GetMessage(ctx, *d.ForwardFromMessageId)
		timer.ObserveDuration()
		if types.IsKind(err, types.KindNotFound) {
			return nil, types.NewNotFoundError(op, "forward source %d not found", *d.ForwardFromMessageId)
		}
		if err != nil {
			return nil, err
		}
		// the source must come from this room or from a room the author has joined
		if src.RoomId != room.Id {
			member, err := e.persister.HasMembership(ctx, author.Id, src.RoomId)
			if err != nil {
				return nil, err
			}
			if !member {
				return nil, types.NewNotFoundError(op, "forward source %d not found", *d.ForwardFromMessageId)
			}
		}
		if src.IsDeleted() {
			return nil, types.NewStateError(op, "cannot forward a deleted message")
		}
		sourceId := src.Id
		senderName := d.ForwardedOriginalSenderName
		if senderName == "" {
			senderName = e.directory.DisplayName(ctx, src.UserId)
		}
		ts := src.CreatedAt
		if d.ForwardedOriginalTimestamp != nil {
			ts = d.ForwardedOriginalTimestamp.UTC()
		}
		forwardedBy := author.Id
		msg.ForwardFromMessageId = &sourceId
		msg.ForwardedByUserId = &forwardedBy
		msg.ForwardedOriginalSenderName = &senderName
		msg.ForwardedOriginalTimestamp = &ts
	}

	if !e.policy.Allow(policyEnv(room, author, msg)) {
		return nil, types.NewValidationError(op, "message rejected by room policy")
	}

	timer := storeTimer("create_message")
	err := e.persister.CreateMessage(ctx, msg)
	timer.ObserveDuration()
	if err != nil {
		e.logger.Error("could not store message", "room", room.Code, "user", author.Id, "error", err)
		return nil, err
	}
	kind := "text"
	if hasAttachment {
		kind = "attachment"
	}
	metrics.MessagesCreated.WithLabelValues(kind).Inc()

	wm := types.Materialize(msg, room.Code, author.DisplayName)
	e.broadcast(room, types.EventMessage, wm)
	return wm, nil
}

// Edit replaces the text of a message. Checks run in this order: existence, deletion, ownership, content, edit
// window. Admins are exempt from the window only.
func (e *Engine) Edit(ctx context.Context, room *types.Room, requester *types.User, messageId uint64, newText string) (*types.EditedPayload, error) {
	const op = "edit message"
	msg, err := e.loadInRoom(ctx, op, room, messageId)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted() {
		return nil, types.NewStateError(op, "message %d is deleted", messageId)
	}
	if msg.UserId != requester.Id && !requester.IsAdmin {
		return nil, types.NewAuthorizationError(op, "only the author or an admin may edit this message")
	}
	if strings.TrimSpace(newText) == "" && !msg.HasAttachment() {
		return nil, types.NewValidationError(op, "message text is empty")
	}
	if err := e.checkLength(op, newText); err != nil {
		return nil, err
	}
	now := e.now()
	if !requester.IsAdmin && now.Sub(msg.CreatedAt) >= e.editWindow {
		return nil, types.NewStateError(op, "edit window of %s has passed", e.editWindow)
	}

	timer := storeTimer("edit_message")
	_, err = e.persister.EditMessage(ctx, messageId, newText, now)
	timer.ObserveDuration()
	if errors.Is(err, persistence.ErrMessageDeleted) {
		// a delete committed between the read and the conditional update
		return nil, types.NewStateError(op, "message %d is deleted", messageId)
	}
	if err != nil {
		e.logger.Error("could not edit message", "id", messageId, "error", err)
		return nil, err
	}
	metrics.MessagesEdited.Inc()

	payload := &types.EditedPayload{Id: messageId, Text: newText, EditedAt: now}
	e.broadcast(room, types.EventMessageEdited, payload)
	return payload, nil
}

// Delete marks a message as deleted. Deleting an already deleted message succeeds without a second broadcast.
func (e *Engine) Delete(ctx context.Context, room *types.Room, requester *types.User, messageId uint64) (uint64, error) {
	const op = "delete message"
	msg, err := e.loadInRoom(ctx, op, room, messageId)
	if err != nil {
		return 0, err
	}
	if msg.UserId != requester.Id && !requester.IsAdmin {
		return 0, types.NewAuthorizationError(op, "only the author or an admin may delete this message")
	}
	if msg.IsDeleted() {
		return messageId, nil
	}

	timer := storeTimer("delete_message")
	changed, err := e.persister.DeleteMessage(ctx, messageId, e.now())
	timer.ObserveDuration()
	if err != nil {
		e.logger.Error("could not delete message", "id", messageId, "error", err)
		return 0, err
	}
	if !changed {
		return messageId, nil
	}
	metrics.MessagesDeleted.Inc()
	e.broadcast(room, types.EventMessageDeleted, messageId)
	return messageId, nil
}

// ClearRoom hard-deletes every message of the room. Only the room owner may do this.
func (e *Engine) ClearRoom(ctx context.Context, room *types.Room, requester *types.User) error {
	const op = "clear room"
	if room.OwnerId != requester.Id {
		return types.NewAuthorizationError(op, "only the room owner may clear the room")
	}
	timer := storeTimer("clear_room")
	n, err := e.persister.ClearRoomMessages(ctx, room.Id)
	timer.ObserveDuration()
	if err != nil {
		e.logger.Error("could not clear room", "room", room.Code, "error", err)
		return err
	}
	e.logger.Info("room cleared", "room", room.Code, "by", requester.Id, "messages", n)
	metrics.RoomsCleared.Inc()
	e.broadcast(room, types.EventRoomCleared, types.RoomClearedPayload{RoomCode: room.Code})
	return nil
}

// History returns the most recent non-deleted messages of the room, oldest first, materialized for clients.
func (e *Engine) History(ctx context.Context, room *types.Room, limit int) ([]*types.WireMessage, error) {
	timer := storeTimer("recent_messages")
	msgs, err := e.persister.GetRecentMessages(ctx, room.Id, limit)
	timer.ObserveDuration()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.UserId)
	}
	names := e.directory.DisplayNames(ctx, ids)
	history := make([]*types.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, types.Materialize(m, room.Code, names[m.UserId]))
	}
	return history, nil
}

func policyEnv(room *types.Room, author *types.User, msg *types.Message) filter.Env {
	return filter.Env{
		User:          filter.User{Id: author.Id, Name: author.DisplayName, IsAdmin: author.IsAdmin},
		Room:          filter.Room{Code: room.Code, OwnerId: room.OwnerId},
		Text:          msg.Text,
		TextLength:    utf8.RuneCountInString(msg.Text),
		HasAttachment: msg.HasAttachment(),
		Attachment: filter.Attachment{
			Type:      msg.AttachmentType,
			Name:      msg.AttachmentName,
			Size:      msg.AttachmentSize,
			Mime:      msg.AttachmentMime,
			Encrypted: msg.Encrypted,
		},
		IsReply:   msg.ReplyToId != nil,
		IsForward: msg.ForwardFromMessageId != nil,
		Encrypted: strings.HasPrefix(msg.Text, types.EnvelopePrefix),
	}
}
