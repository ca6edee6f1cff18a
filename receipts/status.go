package receipts

import (
	"encoding/json"
	"sync"

	"github.com/mudassirishfaq94/chat-app/types"
)

// Status is the client-visible delivery state of an outgoing message.
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusSeen
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusSeen:
		return "seen"
	}
	return "sent"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Advance merges an incoming receipt into the current status. Receipts may arrive out of order, so the status only
// ever moves forward: a late delivered never downgrades seen.
func (s Status) Advance(next Status) Status {
	if next > s {
		return next
	}
	return s
}

// StatusForEvent maps a receipt event name to the status it signals.
func StatusForEvent(event string) (Status, bool) {
	switch event {
	case types.EventMessageDelivered:
		return StatusDelivered, true
	case types.EventMessageSeenBy:
		return StatusSeen, true
	}
	return StatusSent, false
}

// Ledger keeps the merged status of every outgoing message of a client.
type Ledger struct {
	mu       sync.Mutex
	statuses map[uint64]Status
}

func NewLedger() *Ledger {
	return &Ledger{statuses: make(map[uint64]Status)}
}

// Apply merges a receipt event for messageId and returns the resulting status.
func (l *Ledger) Apply(event string, messageId uint64) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.statuses[messageId]
	next, ok := StatusForEvent(event)
	if !ok {
		return current
	}
	current = current.Advance(next)
	l.statuses[messageId] = current
	return current
}

func (l *Ledger) Status(messageId uint64) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statuses[messageId]
}
