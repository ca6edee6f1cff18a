package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mudassirishfaq94/chat-app/config"
	"github.com/mudassirishfaq94/chat-app/directory"
	"github.com/mudassirishfaq94/chat-app/filter"
	"github.com/mudassirishfaq94/chat-app/persistence"
	"github.com/mudassirishfaq94/chat-app/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	frames []types.WebsocketMessage
}

func (b *recordingBroadcaster) Broadcast(roomCode string, frame []byte, exceptConnId string) int {
	var msg types.WebsocketMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, msg)
	return 1
}

func (b *recordingBroadcaster) events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := make([]string, 0, len(b.frames))
	for _, f := range b.frames {
		events = append(events, f.Event)
	}
	return events
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

type failingPersister struct {
	persistence.Persister
	failCreate, failEdit, failDelete bool
}

var errDiskFull = errors.New("disk full")

func (p *failingPersister) CreateMessage(ctx context.Context, msg *types.Message) error {
	if p.failCreate {
		return types.NewPersistenceError("create message", errDiskFull)
	}
	return p.Persister.CreateMessage(ctx, msg)
}

func (p *failingPersister) EditMessage(ctx context.Context, id uint64, text string, editedAt time.Time) (*types.Message, error) {
	if p.failEdit {
		return nil, types.NewPersistenceError("edit message", errDiskFull)
	}
	return p.Persister.EditMessage(ctx, id, text, editedAt)
}

func (p *failingPersister) DeleteMessage(ctx context.Context, id uint64, deletedAt time.Time) (bool, error) {
	if p.failDelete {
		return false, types.NewPersistenceError("delete message", errDiskFull)
	}
	return p.Persister.DeleteMessage(ctx, id, deletedAt)
}

type fixture struct {
	engine    *Engine
	persister persistence.Persister
	bc        *recordingBroadcaster
	clock     *fakeClock
	room      *types.Room
	alice     *types.User
	bob       *types.User
	admin     *types.User
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	p, err := persistence.NewGormPersister(config.PersistenceConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "lifecycle.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return newFixtureWith(t, p, opts)
}

func newFixtureWith(t *testing.T, p persistence.Persister, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{persister: p, bc: &recordingBroadcaster{}, clock: &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}}
	dir, err := directory.New(p, 16)
	require.NoError(t, err)
	opts.Now = f.clock.Now
	f.engine = NewEngine(p, dir, f.bc, opts)

	f.alice, err = p.UpsertUser(ctx, types.User{Id: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	f.bob, err = p.UpsertUser(ctx, types.User{Id: "bob", DisplayName: "Bob"})
	require.NoError(t, err)
	f.admin, err = p.UpsertUser(ctx, types.User{Id: "root", DisplayName: "Root", IsAdmin: true})
	require.NoError(t, err)
	f.room, _, err = p.GetOrCreateRoom(ctx, "abcd12", "alice")
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, author *types.User, text string) *types.WireMessage {
	t.Helper()
	wm, err := f.engine.Create(context.Background(), f.room, author, Draft{Text: text})
	require.NoError(t, err)
	return wm
}

func TestCreateBroadcastsMaterializedMessage(t *testing.T) {
	f := newFixture(t, Options{})
	wm := f.create(t, f.alice, "hello")

	assert.NotZero(t, wm.Id)
	assert.Equal(t, "Alice", wm.From)
	assert.Equal(t, "abcd12", wm.RoomCode)
	assert.Equal(t, f.clock.t, wm.CreatedAt)
	assert.Equal(t, []string{types.EventMessage}, f.bc.events())

	var broadcast types.WireMessage
	require.NoError(t, json.Unmarshal(f.bc.frames[0].Data, &broadcast))
	assert.Equal(t, wm.Id, broadcast.Id)
	assert.Equal(t, "hello", broadcast.Text)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, Options{MaxTextLength: 5})
	ctx := context.Background()

	_, err := f.engine.Create(ctx, f.room, f.alice, Draft{Text: "   "})
	assert.True(t, types.IsKind(err, types.KindValidation))

	_, err = f.engine.Create(ctx, f.room, f.alice, Draft{Text: "too long"})
	assert.True(t, types.IsKind(err, types.KindValidation))

	_, err = f.engine.Create(ctx, f.room, f.alice, Draft{Attachment: &types.Attachment{URL: "/api/blobs/x", Type: "audio"}})
	assert.True(t, types.IsKind(err, types.KindValidation))

	wm, err := f.engine.Create(ctx, f.room, f.alice, Draft{Attachment: &types.Attachment{
		URL: "/api/blobs/x", Type: types.AttachmentTypeImage, Name: "cat.png", Size: 12, Mime: "image/png", Encrypted: true, IV: "abc",
	}})
	require.NoError(t, err)
	require.NotNil(t, wm.Attachment)
	assert.Equal(t, "cat.png", wm.Attachment.Name)
	assert.True(t, wm.Attachment.Encrypted)

	assert.Equal(t, []string{types.EventMessage}, f.bc.events())
}

func TestCreateReplyAndForward(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	original := f.create(t, f.alice, "original")

	missing := uint64(9999)
	_, err := f.engine.Create(ctx, f.room, f.bob, Draft{Text: "re", ReplyToId: &missing})
	assert.True(t, types.IsKind(err, types.KindNotFound))

	replyTo := original.Id
	reply, err := f.engine.Create(ctx, f.room, f.bob, Draft{Text: "re", ReplyToId: &replyTo})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToId)
	assert.Equal(t, original.Id, *reply.ReplyToId)

	fwd, err := f.engine.Create(ctx, f.room, f.bob, Draft{Text: "original", ForwardFromMessageId: &replyTo})
	require.NoError(t, err)
	require.NotNil(t, fwd.ForwardedOriginalSenderName)
	assert.Equal(t, "Alice", *fwd.ForwardedOriginalSenderName)
	require.NotNil(t, fwd.ForwardedByUserId)
	assert.Equal(t, "bob", *fwd.ForwardedByUserId)
	require.NotNil(t, fwd.ForwardedOriginalTimestamp)
	assert.True(t, original.CreatedAt.Equal(*fwd.ForwardedOriginalTimestamp))

	_, err = f.engine.Create(ctx, f.room, f.bob, Draft{Text: "x", ForwardFromMessageId: &missing})
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestReplyTargetMustBeInSameRoom(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	other, _, err := f.persister.GetOrCreateRoom(ctx, "other", "bob")
	require.NoError(t, err)
	elsewhere, err := f.engine.Create(ctx, other, f.bob, Draft{Text: "elsewhere"})
	require.NoError(t, err)

	id := elsewhere.Id
	_, err = f.engine.Create(ctx, f.room, f.alice, Draft{Text: "re", ReplyToId: &id})
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestForwardSourceMustBeVisible(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	secret, _, err := f.persister.GetOrCreateRoom(ctx, "secret", "root")
	require.NoError(t, err)
	hidden, err := f.engine.Create(ctx, secret, f.admin, Draft{Text: "classified"})
	require.NoError(t, err)

	id := hidden.Id
	_, err = f.engine.Create(ctx, f.room, f.bob, Draft{Text: "fwd", ForwardFromMessageId: &id})
	assert.True(t, types.IsKind(err, types.KindNotFound))

	require.NoError(t, f.persister.EnsureMembership(ctx, "bob", secret.Id))
	fwd, err := f.engine.Create(ctx, f.room, f.bob, Draft{Text: "fwd", ForwardFromMessageId: &id})
	require.NoError(t, err)
	require.NotNil(t, fwd.ForwardedOriginalSenderName)
	assert.Equal(t, "Root", *fwd.ForwardedOriginalSenderName)

	_, err = f.engine.Delete(ctx, secret, f.admin, id)
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, f.room, f.bob, Draft{Text: "fwd", ForwardFromMessageId: &id})
	assert.True(t, types.IsKind(err, types.KindState))

	local := f.create(t, f.alice, "here")
	localId := local.Id
	_, err = f.engine.Delete(ctx, f.room, f.alice, localId)
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, f.room, f.bob, Draft{Text: "fwd", ForwardFromMessageId: &localId})
	assert.True(t, types.IsKind(err, types.KindState))
}

func TestCreatePolicy(t *testing.T) {
	policy, err := filter.Compile(`!(Lower(Text) contains "spam")`)
	require.NoError(t, err)
	f := newFixture(t, Options{Policy: policy})

	_, err = f.engine.Create(context.Background(), f.room, f.alice, Draft{Text: "SPAM!"})
	assert.True(t, types.IsKind(err, types.KindValidation))
	f.create(t, f.alice, "ham")
	assert.Equal(t, []string{types.EventMessage}, f.bc.events())
}

func TestPersistenceFailureAbortsBroadcast(t *testing.T) {
	p, err := persistence.NewGormPersister(config.PersistenceConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "failing.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	f := newFixtureWith(t, &failingPersister{Persister: p, failCreate: true}, Options{})

	_, err = f.engine.Create(context.Background(), f.room, f.alice, Draft{Text: "hello"})
	assert.True(t, types.IsKind(err, types.KindPersistence))
	assert.Empty(t, f.bc.events())
}

func TestPersistenceFailureAbortsEditAndDelete(t *testing.T) {
	p, err := persistence.NewGormPersister(config.PersistenceConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "failing.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	fp := &failingPersister{Persister: p}
	f := newFixtureWith(t, fp, Options{})
	ctx := context.Background()
	wm := f.create(t, f.alice, "hello")
	fp.failEdit, fp.failDelete = true, true

	_, err = f.engine.Edit(ctx, f.room, f.alice, wm.Id, "changed")
	assert.True(t, types.IsKind(err, types.KindPersistence))
	_, err = f.engine.Delete(ctx, f.room, f.alice, wm.Id)
	assert.True(t, types.IsKind(err, types.KindPersistence))
	assert.Equal(t, []string{types.EventMessage}, f.bc.events())

	stored, err := p.GetMessage(ctx, wm.Id)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Text)
	assert.Nil(t, stored.DeletedAt)
}

func TestEditWindow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	start := f.clock.t
	wm := f.create(t, f.alice, "v1")

	f.clock.t = start.Add(14*time.Minute + 59*time.Second)
	edited, err := f.engine.Edit(ctx, f.room, f.alice, wm.Id, "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", edited.Text)
	assert.Equal(t, f.clock.t, edited.EditedAt)

	f.clock.t = start.Add(15 * time.Minute)
	_, err = f.engine.Edit(ctx, f.room, f.alice, wm.Id, "v3")
	assert.True(t, types.IsKind(err, types.KindState))

	f.clock.t = start.Add(48 * time.Hour)
	_, err = f.engine.Edit(ctx, f.room, f.admin, wm.Id, "v4")
	require.NoError(t, err)

	stored, err := f.persister.GetMessage(ctx, wm.Id)
	require.NoError(t, err)
	assert.Equal(t, "v4", stored.Text)
	assert.Equal(t, []string{types.EventMessage, types.EventMessageEdited, types.EventMessageEdited}, f.bc.events())
}

func TestEditAuthorizationAndValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	wm := f.create(t, f.alice, "mine")

	_, err := f.engine.Edit(ctx, f.room, f.bob, wm.Id, "yours")
	assert.True(t, types.IsKind(err, types.KindAuthorization))

	_, err = f.engine.Edit(ctx, f.room, f.alice, wm.Id, "  ")
	assert.True(t, types.IsKind(err, types.KindValidation))

	_, err = f.engine.Edit(ctx, f.room, f.alice, 9999, "x")
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestDeletedMessageIsImmutable(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	wm := f.create(t, f.alice, "soon gone")

	id, err := f.engine.Delete(ctx, f.room, f.alice, wm.Id)
	require.NoError(t, err)
	assert.Equal(t, wm.Id, id)

	_, err = f.engine.Edit(ctx, f.room, f.alice, wm.Id, "revived")
	assert.True(t, types.IsKind(err, types.KindState))
	_, err = f.engine.Edit(ctx, f.room, f.admin, wm.Id, "revived")
	assert.True(t, types.IsKind(err, types.KindState))

	stored, err := f.persister.GetMessage(ctx, wm.Id)
	require.NoError(t, err)
	assert.Equal(t, "soon gone", stored.Text)
	assert.Nil(t, stored.EditedAt)
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	wm := f.create(t, f.alice, "bye")

	_, err := f.engine.Delete(ctx, f.room, f.bob, wm.Id)
	assert.True(t, types.IsKind(err, types.KindAuthorization))

	id, err := f.engine.Delete(ctx, f.room, f.alice, wm.Id)
	require.NoError(t, err)
	assert.Equal(t, wm.Id, id)
	id, err = f.engine.Delete(ctx, f.room, f.admin, wm.Id)
	require.NoError(t, err)
	assert.Equal(t, wm.Id, id)

	assert.Equal(t, []string{types.EventMessage, types.EventMessageDeleted}, f.bc.events())
	var deletedId uint64
	require.NoError(t, json.Unmarshal(f.bc.frames[1].Data, &deletedId))
	assert.Equal(t, wm.Id, deletedId)

	history, err := f.engine.History(ctx, f.room, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestClearRoom(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.create(t, f.alice, "one")
	f.create(t, f.bob, "two")

	err := f.engine.ClearRoom(ctx, f.room, f.bob)
	assert.True(t, types.IsKind(err, types.KindAuthorization))
	err = f.engine.ClearRoom(ctx, f.room, f.admin)
	assert.True(t, types.IsKind(err, types.KindAuthorization))

	require.NoError(t, f.engine.ClearRoom(ctx, f.room, f.alice))
	history, err := f.engine.History(ctx, f.room, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, types.EventRoomCleared, f.bc.events()[2])
}

func TestHistoryResolvesCurrentNames(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.create(t, f.alice, "one")
	f.clock.t = f.clock.t.Add(time.Second)
	f.create(t, f.bob, "two")

	history, err := f.engine.History(ctx, f.room, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Text)
	assert.Equal(t, "Alice", history[0].From)
	assert.Equal(t, "two", history[1].Text)
	assert.Equal(t, "Bob", history[1].From)
}
