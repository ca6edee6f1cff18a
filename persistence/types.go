package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/mudassirishfaq94/chat-app/types"
)

// ErrMessageDeleted is returned by EditMessage when the row already carries a
// deletion mark.
var ErrMessageDeleted = errors.New("message is deleted")

// Persister is the session store: users, rooms, memberships and messages.
// Not-found conditions are reported as types.KindNotFound errors, every other
// failure as types.KindPersistence.
type Persister interface {
	// UpsertUser inserts the user on first sight. For a known user the stored
	// display name wins and IsAdmin becomes the stored flag OR the given one. The
	// stored row is returned.
	UpsertUser(ctx context.Context, user types.User) (*types.User, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUsers(ctx context.Context, ids []string) ([]*types.User, error)
	RenameUser(ctx context.Context, id, displayName string) error
	SetUserAdmin(ctx context.Context, id string, isAdmin bool) error

	// GetOrCreateRoom returns the room with the given code, creating it with
	// ownerId when absent. created reports whether this call won the insert.
	GetOrCreateRoom(ctx context.Context, code, ownerId string) (room *types.Room, created bool, err error)
	GetRoomByCode(ctx context.Context, code string) (*types.Room, error)
	GetRooms(ctx context.Context) ([]*types.Room, error)
	EnsureMembership(ctx context.Context, userId string, roomId uint64) error
	HasMembership(ctx context.Context, userId string, roomId uint64) (bool, error)

	CreateMessage(ctx context.Context, msg *types.Message) error
	GetMessage(ctx context.Context, id uint64) (*types.Message, error)
	// EditMessage sets text and editedAt unless the message is deleted, in which
	// case ErrMessageDeleted is returned. The updated row is returned.
	EditMessage(ctx context.Context, id uint64, text string, editedAt time.Time) (*types.Message, error)
	// DeleteMessage sets deletedAt once. changed is false when the message was
	// already deleted.
	DeleteMessage(ctx context.Context, id uint64, deletedAt time.Time) (changed bool, err error)
	// ClearRoomMessages hard-deletes every message of the room.
	ClearRoomMessages(ctx context.Context, roomId uint64) (int64, error)
	// GetRecentMessages returns up to limit non-deleted messages of the room,
	// oldest first (createdAt, then id).
	GetRecentMessages(ctx context.Context, roomId uint64, limit int) ([]*types.Message, error)

	Close() error
}
