package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/lifecycle"
	"github.com/mudassirishfaq94/chat-app/metrics"
	"github.com/mudassirishfaq94/chat-app/presence"
	"github.com/mudassirishfaq94/chat-app/types"
)

// Session is the server-side state of one connection: who it is and which room it is bound to. Events of a session
// are handled sequentially by the connection's read loop.
type Session struct {
	m      *Manager
	conn   presence.Conn
	logger hclog.Logger

	mu     sync.Mutex
	user   types.User
	room   *types.Room
	closed bool
}

func (s *Session) User() types.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// RoomCode returns the code of the bound room, "" before the first join.
func (s *Session) RoomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.Code
}

func (s *Session) state() (types.User, *types.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.room
}

func (s *Session) entry() presence.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return presence.Entry{ConnId: s.conn.ID(), UserId: s.user.Id, Name: s.user.DisplayName, Conn: s.conn}
}

func (s *Session) send(event string, data interface{}) {
	frame, err := types.EncodeFrame(event, data)
	if err != nil {
		s.logger.Error("could not encode frame", "event", event, "error", err)
		return
	}
	s.conn.Send(frame)
}

func (s *Session) notice(text string) {
	s.send(types.EventSystem, text)
}

func (s *Session) requireRoom(op string) (types.User, *types.Room, error) {
	user, room := s.state()
	if room == nil {
		return user, nil, types.NewStateError(op, "join a room first")
	}
	return user, room, nil
}

func onlineFrame(names []string) []byte {
	frame, _ := types.EncodeFrame(types.EventOnline, names)
	return frame
}

func systemFrame(text string) []byte {
	frame, _ := types.EncodeFrame(types.EventSystem, text)
	return frame
}

// Join binds the session to the room with the given code, creating the room on first use with this user as owner.
// A session bound to another room leaves it first. Joining the current room again only replays presence and
// history to this connection.
func (s *Session) Join(ctx context.Context, code string) error {
	const op = "join room"
	code = strings.TrimSpace(code)
	if code == "" {
		return types.NewValidationError(op, "room code is required")
	}
	if !ValidRoomCode(code) {
		return types.NewValidationError(op, "invalid room code %q", code)
	}
	user, current := s.state()

	if current != nil && current.Code == code {
		s.send(types.EventOnline, s.m.registry.Names(code))
		return s.replayHistory(ctx, current)
	}

	room, created, err := s.m.persister.GetOrCreateRoom(ctx, code, user.Id)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("room created", "room", code)
	}
	if err := s.m.persister.EnsureMembership(ctx, user.Id, room.Id); err != nil {
		return err
	}

	if current != nil {
		s.leave(current.Code)
	}
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()

	entry := s.entry()
	s.m.registry.Join(code, entry, func(v presence.View) {
		v.Broadcast(onlineFrame(v.Names()), "")
		v.Broadcast(systemFrame(entry.Name+" joined the room"), entry.ConnId)
		v.SendTo(entry.ConnId, systemFrame(fmt.Sprintf("You joined room %s as %s", code, entry.Name)))
	})
	s.logger.Debug("joined", "room", code)
	return s.replayHistory(ctx, room)
}

func (s *Session) replayHistory(ctx context.Context, room *types.Room) error {
	history, err := s.m.engine.History(ctx, room, s.m.historySize)
	if err != nil {
		return err
	}
	s.send(types.EventHistory, history)
	return nil
}

func (s *Session) leave(code string) {
	s.m.registry.Leave(code, s.conn.ID(), func(v presence.View, e presence.Entry) {
		v.Broadcast(onlineFrame(v.Names()), "")
		v.Broadcast(systemFrame(e.Name+" left the room"), "")
	})
	s.logger.Debug("left", "room", code)
}

// Close removes the connection from its room. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	room := s.room
	s.room = nil
	s.mu.Unlock()
	if room != nil {
		s.leave(room.Code)
	}
}

// SetName changes the display name of the user. Every connection of the user in the current room is renamed and the
// room sees the new presence list.
func (s *Session) SetName(ctx context.Context, name string) error {
	const op = "set name"
	name = strings.TrimSpace(name)
	if name == "" {
		return types.NewValidationError(op, "display name is empty")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return types.NewValidationError(op, "display name exceeds %d characters", MaxDisplayNameLength)
	}
	user, room := s.state()
	if name == user.DisplayName {
		return nil
	}
	if err := s.m.directory.Rename(ctx, user.Id, name); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.user.DisplayName
	s.user.DisplayName = name
	s.mu.Unlock()

	if room == nil {
		s.notice(fmt.Sprintf("You are now known as %s", name))
		return nil
	}
	s.m.registry.Rename(room.Code, user.Id, name, func(v presence.View) {
		v.Broadcast(onlineFrame(v.Names()), "")
		v.Broadcast(systemFrame(fmt.Sprintf("%s is now known as %s", old, name)), "")
	})
	return nil
}

// Typing tells every other connection of the room that this user started or stopped typing.
func (s *Session) Typing(isTyping bool) error {
	user, room, err := s.requireRoom("typing")
	if err != nil {
		return err
	}
	frame, err := types.EncodeFrame(types.EventTyping, types.TypingPayload{From: user.DisplayName, IsTyping: isTyping})
	if err != nil {
		return err
	}
	s.m.registry.Broadcast(room.Code, frame, s.conn.ID())
	return nil
}

func (s *Session) ack(ack uint64, result types.AckResult) {
	frame, err := types.EncodeAck(ack, result)
	if err != nil {
		s.logger.Error("could not encode ack", "error", err)
		return
	}
	s.conn.Send(frame)
}

// reject records a failed event. With an ack number the client gets a failed ack; otherwise persistence failures
// and rejected edits, deletes and renames become a system notice to this connection only.
func (s *Session) reject(ev types.ClientEvent, ack uint64, err error) {
	kind := types.KindOf(err)
	metrics.EventsRejected.WithLabelValues(ev.EventName(), string(kind)).Inc()
	if kind == types.KindPersistence || kind == types.KindInternal {
		s.logger.Error("event failed", "event", ev.EventName(), "error", err)
	} else {
		s.logger.Warn("event rejected", "event", ev.EventName(), "error", err)
	}
	if ack != 0 {
		s.ack(ack, types.AckFromError(err))
		return
	}
	switch ev.(type) {
	case types.EditMessage, types.DeleteMessage, types.SetName, types.JoinRoom:
		s.notice(types.PublicMessage(err))
	default:
		if kind == types.KindPersistence {
			s.notice(types.PublicMessage(err))
		}
	}
}

// Handle dispatches one decoded client event. ack is the client's acknowledgment number, 0 when none was requested.
func (s *Session) Handle(ctx context.Context, ev types.ClientEvent, ack uint64) {
	var (
		id  uint64
		err error
	)
	switch e := ev.(type) {
	case types.JoinRoom:
		err = s.Join(ctx, e.RoomCode)

	case types.SendMessage:
		id, err = s.create(ctx, lifecycle.Draft{
			Text:                        e.Text,
			ReplyToId:                   e.ReplyToId,
			ForwardFromMessageId:        e.ForwardFromMessageId,
			ForwardedOriginalSenderName: e.ForwardedOriginalSenderName,
			ForwardedOriginalTimestamp:  e.ForwardedOriginalTimestamp,
		})

	case types.SendAttachment:
		attachment := e.Attachment
		id, err = s.create(ctx, lifecycle.Draft{Attachment: &attachment, ReplyToId: e.ReplyToId})

	case types.EditMessage:
		var user types.User
		var room *types.Room
		user, room, err = s.requireRoom("edit message")
		if err == nil {
			_, err = s.m.engine.Edit(ctx, room, &user, e.MessageId, e.NewText)
			id = e.MessageId
		}

	case types.DeleteMessage:
		var user types.User
		var room *types.Room
		user, room, err = s.requireRoom("delete message")
		if err == nil {
			id, err = s.m.engine.Delete(ctx, room, &user, e.MessageId)
		}

	case types.ClearRoom:
		var user types.User
		var room *types.Room
		user, room, err = s.requireRoom("clear room")
		if err == nil {
			err = s.m.engine.ClearRoom(ctx, room, &user)
		}

	case types.SetName:
		err = s.SetName(ctx, e.Name)

	case types.Typing:
		err = s.Typing(e.IsTyping)

	case types.MessageDelivered:
		var room *types.Room
		_, room, err = s.requireRoom("delivered")
		if err == nil {
			_, err = s.m.tracker.Delivered(ctx, room, e.MessageId, s.entry())
			id = e.MessageId
		}

	case types.MessageSeen:
		var room *types.Room
		_, room, err = s.requireRoom("seen")
		if err == nil {
			_, err = s.m.tracker.Seen(ctx, room, e.MessageId, s.entry())
			id = e.MessageId
		}

	default:
		err = types.NewValidationError("handle", "unsupported event %q", ev.EventName())
	}

	if err != nil {
		s.reject(ev, ack, err)
		return
	}
	if ack != 0 {
		s.ack(ack, types.AckResult{Ok: true, Id: id})
	}
}

func (s *Session) create(ctx context.Context, d lifecycle.Draft) (uint64, error) {
	user, room, err := s.requireRoom("create message")
	if err != nil {
		return 0, err
	}
	wm, err := s.m.engine.Create(ctx, room, &user, d)
	if err != nil {
		return 0, err
	}
	return wm.Id, nil
}
