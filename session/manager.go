package session

import (
	"context"
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/directory"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/lifecycle"
	"github.com/mudassirishfaq94/chat-app/persistence"
	"github.com/mudassirishfaq94/chat-app/presence"
	"github.com/mudassirishfaq94/chat-app/receipts"
	"github.com/mudassirishfaq94/chat-app/types"
)

const (
	DefaultHistorySize   = 100
	MaxDisplayNameLength = 64
)

var roomCodeRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidRoomCode reports whether code (already trimmed) can name a room.
func ValidRoomCode(code string) bool {
	return roomCodeRegexp.MatchString(code)
}

type Options struct {
	HistorySize int
}

// Manager binds connections to rooms. It owns no state of its own besides its collaborators; per-connection state
// lives in Session.
type Manager struct {
	persister   persistence.Persister
	directory   *directory.Directory
	registry    *presence.Registry
	engine      *lifecycle.Engine
	tracker     *receipts.Tracker
	historySize int
	logger      hclog.Logger
}

func NewManager(persister persistence.Persister, dir *directory.Directory, registry *presence.Registry, engine *lifecycle.Engine, tracker *receipts.Tracker, opts Options) *Manager {
	m := &Manager{
		persister:   persister,
		directory:   dir,
		registry:    registry,
		engine:      engine,
		tracker:     tracker,
		historySize: opts.HistorySize,
		logger:      globals.AppLogger.Named("session"),
	}
	if m.historySize <= 0 {
		m.historySize = DefaultHistorySize
	}
	return m
}

// Connect records the authenticated user and returns a session that is not yet bound to a room. A known user keeps
// the stored display name; it is an admin when either the store or the identity says so.
func (m *Manager) Connect(ctx context.Context, conn presence.Conn, identity types.User) (*Session, error) {
	identity.Id = strings.TrimSpace(identity.Id)
	if identity.Id == "" {
		return nil, types.NewValidationError("connect", "user id is required")
	}
	identity.DisplayName = strings.TrimSpace(identity.DisplayName)
	if identity.DisplayName == "" {
		identity.DisplayName = identity.Id
	}
	user, err := m.persister.UpsertUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	m.directory.Remember(user)
	m.logger.Debug("connected", "user", user.Id, "conn", conn.ID())
	return &Session{
		m:      m,
		conn:   conn,
		user:   *user,
		logger: m.logger.With("conn", conn.ID(), "user", user.Id),
	}, nil
}

// Registry exposes the presence registry for statistics.
func (m *Manager) Registry() *presence.Registry {
	return m.registry
}
