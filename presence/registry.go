package presence

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/globals"
)

// Conn is the sending side of a live connection. Send must not block; it reports
// false when the frame was dropped.
type Conn interface {
	ID() string
	Send(frame []byte) bool
}

// Entry is one live connection registered in a room.
type Entry struct {
	ConnId string
	UserId string
	Name   string
	Conn   Conn
}

type room struct {
	code    string
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	closed  bool
}

// Registry tracks which connections are in which room.
//
// Lock order: a room lock may be held while taking the registry lock, never the
// other way round. The registry lock only guards the room map.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*room
	logger hclog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*room),
		logger: globals.AppLogger.Named("presence"),
	}
}

// View gives callbacks access to a room while its lock is held. It must not be
// retained after the callback returns.
type View struct {
	r      *room
	logger hclog.Logger
}

func (v View) Code() string {
	return v.r.code
}

// Names returns the display names of the current connections in join order.
func (v View) Names() []string {
	names := make([]string, 0, len(v.r.order))
	for _, id := range v.r.order {
		names = append(names, v.r.entries[id].Name)
	}
	return names
}

func (v View) Entries() []Entry {
	return v.r.snapshot()
}

// Broadcast sends frame to every connection except exceptConnId and returns the
// number of connections that accepted it.
func (v View) Broadcast(frame []byte, exceptConnId string) int {
	return v.r.broadcast(frame, exceptConnId, v.logger)
}

// SendTo sends frame to a single connection of the room.
func (v View) SendTo(connId string, frame []byte) bool {
	e, ok := v.r.entries[connId]
	if !ok {
		return false
	}
	if !e.Conn.Send(frame) {
		v.logger.Warn("dropped frame for slow connection", "room", v.r.code, "conn", connId)
		return false
	}
	return true
}

func (r *room) snapshot() []Entry {
	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, *r.entries[id])
	}
	return entries
}

func (r *room) broadcast(frame []byte, exceptConnId string, logger hclog.Logger) int {
	sent := 0
	for _, id := range r.order {
		if id == exceptConnId {
			continue
		}
		if r.entries[id].Conn.Send(frame) {
			sent++
		} else {
			logger.Warn("dropped frame for slow connection", "room", r.code, "conn", id)
		}
	}
	return sent
}

func (r *room) remove(connId string) (Entry, bool) {
	e, ok := r.entries[connId]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, connId)
	for i, id := range r.order {
		if id == connId {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *e, true
}

func (reg *Registry) lookup(code string) *room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rooms[code]
}

func (reg *Registry) getOrCreate(code string) *room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[code]
	if !ok || r.closed {
		r = &room{code: code, entries: make(map[string]*Entry)}
		reg.rooms[code] = r
	}
	return r
}

func (reg *Registry) view(r *room) View {
	return View{r: r, logger: reg.logger}
}

// Join registers e in the room with the given code, creating the room on first
// use. fn runs with the room lock held after the entry was added, so snapshots
// broadcast from it are observed in join order. Joining with a connection id that
// is already present replaces the entry.
func (reg *Registry) Join(code string, e Entry, fn func(View)) {
	for {
		r := reg.getOrCreate(code)
		r.mu.Lock()
		if r.closed {
			// emptied concurrently; the next lookup creates a fresh room
			r.mu.Unlock()
			continue
		}
		if _, ok := r.entries[e.ConnId]; !ok {
			r.order = append(r.order, e.ConnId)
		}
		entry := e
		r.entries[e.ConnId] = &entry
		if fn != nil {
			fn(reg.view(r))
		}
		r.mu.Unlock()
		return
	}
}

// Leave removes the connection from the room. fn runs with the room lock held
// after removal and receives the removed entry. A room left empty is discarded.
func (reg *Registry) Leave(code, connId string, fn func(View, Entry)) (Entry, bool) {
	r := reg.lookup(code)
	if r == nil {
		return Entry{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.remove(connId)
	if !ok {
		return Entry{}, false
	}
	if fn != nil {
		fn(reg.view(r), e)
	}
	if len(r.entries) == 0 {
		// closed is guarded by both the room lock and the registry lock
		reg.mu.Lock()
		r.closed = true
		if reg.rooms[code] == r {
			delete(reg.rooms, code)
		}
		reg.mu.Unlock()
	}
	return e, true
}

// Rename changes the display name of every connection of userId in the room and
// returns the number of entries changed. fn runs under the room lock when at
// least one entry changed.
func (reg *Registry) Rename(code, userId, name string, fn func(View)) int {
	r := reg.lookup(code)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.UserId == userId {
			e.Name = name
			n++
		}
	}
	if n > 0 && fn != nil {
		fn(reg.view(r))
	}
	return n
}

// Do runs fn under the room lock. It reports false when nobody is in the room.
func (reg *Registry) Do(code string, fn func(View)) bool {
	r := reg.lookup(code)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	fn(reg.view(r))
	return true
}

// Broadcast sends frame to every connection in the room except exceptConnId.
func (reg *Registry) Broadcast(code string, frame []byte, exceptConnId string) int {
	sent := 0
	reg.Do(code, func(v View) {
		sent = v.Broadcast(frame, exceptConnId)
	})
	return sent
}

// EntriesForUser returns the live connections of userId in the room.
func (reg *Registry) EntriesForUser(code, userId string) []Entry {
	var entries []Entry
	reg.Do(code, func(v View) {
		for _, e := range v.Entries() {
			if e.UserId == userId {
				entries = append(entries, e)
			}
		}
	})
	return entries
}

// Names returns the display names currently online in the room.
func (reg *Registry) Names(code string) []string {
	names := make([]string, 0)
	reg.Do(code, func(v View) {
		names = v.Names()
	})
	return names
}

type Stats struct {
	Rooms       int
	Connections int
}

func (reg *Registry) Stats() Stats {
	reg.mu.Lock()
	rooms := make([]*room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	stats := Stats{}
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed {
			stats.Rooms++
			stats.Connections += len(r.entries)
		}
		r.mu.Unlock()
	}
	return stats
}
