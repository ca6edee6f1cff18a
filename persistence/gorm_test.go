package persistence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mudassirishfaq94/chat-app/config"
	"github.com/mudassirishfaq94/chat-app/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersister(t *testing.T) *GormPersist {
	t.Helper()
	p, err := NewGormPersister(config.PersistenceConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "chat.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestUpsertUserKeepsStoredName(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	u, err := p.UpsertUser(ctx, types.User{Id: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.False(t, u.IsAdmin)

	require.NoError(t, p.RenameUser(ctx, "alice", "Ally"))

	u, err = p.UpsertUser(ctx, types.User{Id: "alice", DisplayName: "Alice", IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, "Ally", u.DisplayName)
	assert.True(t, u.IsAdmin)

	err = p.RenameUser(ctx, "nobody", "x")
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestStoredAdminFlagSurvivesReconnect(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	_, err := p.UpsertUser(ctx, types.User{Id: "bob", DisplayName: "Bob"})
	require.NoError(t, err)
	require.NoError(t, p.SetUserAdmin(ctx, "bob", true))

	u, err := p.UpsertUser(ctx, types.User{Id: "bob", DisplayName: "Bob"})
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)

	require.NoError(t, p.SetUserAdmin(ctx, "bob", false))
	u, err = p.UpsertUser(ctx, types.User{Id: "bob", DisplayName: "Bob"})
	require.NoError(t, err)
	assert.False(t, u.IsAdmin)
}

func TestHasMembership(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()
	room, _, err := p.GetOrCreateRoom(ctx, "abcd12", "alice")
	require.NoError(t, err)

	ok, err := p.HasMembership(ctx, "alice", room.Id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.EnsureMembership(ctx, "alice", room.Id))
	ok, err = p.HasMembership(ctx, "alice", room.Id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.HasMembership(ctx, "bob", room.Id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrCreateRoom(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	room, created, err := p.GetOrCreateRoom(ctx, "abcd12", "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", room.OwnerId)

	again, created, err := p.GetOrCreateRoom(ctx, "abcd12", "bob")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.Id, again.Id)
	assert.Equal(t, "alice", again.OwnerId)
}

func TestGetOrCreateRoomConcurrent(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	const joiners = 8
	ids := make([]uint64, joiners)
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, created, err := p.GetOrCreateRoom(ctx, "race", "user")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[i] = room.Id
			if created {
				createdCount++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	rooms, err := p.GetRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}

func TestEnsureMembershipIdempotent(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()
	room, _, err := p.GetOrCreateRoom(ctx, "room", "alice")
	require.NoError(t, err)

	require.NoError(t, p.EnsureMembership(ctx, "alice", room.Id))
	require.NoError(t, p.EnsureMembership(ctx, "alice", room.Id))

	var count int64
	require.NoError(t, p.db.Model(&types.Membership{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEditAndDeleteMessage(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()
	room, _, err := p.GetOrCreateRoom(ctx, "room", "alice")
	require.NoError(t, err)

	msg := &types.Message{RoomId: room.Id, UserId: "alice", Text: "hello"}
	require.NoError(t, p.CreateMessage(ctx, msg))
	require.NotZero(t, msg.Id)

	editedAt := time.Now().UTC()
	edited, err := p.EditMessage(ctx, msg.Id, "hello there", editedAt)
	require.NoError(t, err)
	assert.Equal(t, "hello there", edited.Text)
	require.NotNil(t, edited.EditedAt)

	changed, err := p.DeleteMessage(ctx, msg.Id, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = p.DeleteMessage(ctx, msg.Id, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = p.EditMessage(ctx, msg.Id, "too late", time.Now().UTC())
	assert.ErrorIs(t, err, ErrMessageDeleted)

	stored, err := p.GetMessage(ctx, msg.Id)
	require.NoError(t, err)
	assert.Equal(t, "hello there", stored.Text)
	assert.True(t, stored.IsDeleted())

	_, err = p.DeleteMessage(ctx, 9999, time.Now().UTC())
	assert.True(t, types.IsKind(err, types.KindNotFound))
	_, err = p.EditMessage(ctx, 9999, "x", time.Now().UTC())
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestRecentMessagesOrderAndLimit(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()
	room, _, err := p.GetOrCreateRoom(ctx, "room", "alice")
	require.NoError(t, err)
	other, _, err := p.GetOrCreateRoom(ctx, "other", "alice")
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	texts := []string{"one", "two", "three", "four"}
	var ids []uint64
	for i, text := range texts {
		msg := &types.Message{RoomId: room.Id, UserId: "alice", Text: text, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, p.CreateMessage(ctx, msg))
		ids = append(ids, msg.Id)
	}
	// same timestamp as "four": id breaks the tie
	tie := &types.Message{RoomId: room.Id, UserId: "alice", Text: "five", CreatedAt: base.Add(3 * time.Second)}
	require.NoError(t, p.CreateMessage(ctx, tie))
	require.NoError(t, p.CreateMessage(ctx, &types.Message{RoomId: other.Id, UserId: "alice", Text: "elsewhere"}))

	_, err = p.DeleteMessage(ctx, ids[2], time.Now().UTC())
	require.NoError(t, err)

	msgs, err := p.GetRecentMessages(ctx, room.Id, 3)
	require.NoError(t, err)
	var got []string
	for _, m := range msgs {
		got = append(got, m.Text)
	}
	assert.Equal(t, []string{"two", "four", "five"}, got)
}

func TestClearRoomMessages(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()
	room, _, err := p.GetOrCreateRoom(ctx, "room", "alice")
	require.NoError(t, err)
	other, _, err := p.GetOrCreateRoom(ctx, "other", "alice")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.CreateMessage(ctx, &types.Message{RoomId: room.Id, UserId: "alice", Text: "x"}))
	}
	require.NoError(t, p.CreateMessage(ctx, &types.Message{RoomId: other.Id, UserId: "alice", Text: "keep"}))

	n, err := p.ClearRoomMessages(ctx, room.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	msgs, err := p.GetRecentMessages(ctx, room.Id, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	msgs, err = p.GetRecentMessages(ctx, other.Id, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestNewGormPersisterRejectsUnknownType(t *testing.T) {
	_, err := NewGormPersister(config.PersistenceConfig{Type: "mongo", DSN: "x"})
	assert.Error(t, err)
}
