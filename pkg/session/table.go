package session

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/backkem/zssp/pkg/message"
)

// Table constants.
const (
	// DefaultMaxSessions is the default maximum number of concurrent sessions.
	DefaultMaxSessions = 4096

	// allocateAttempts bounds the random draws made by AllocateID.
	allocateAttempts = 64
)

// Table manages the sessions of one Context.
// It handles session ID allocation, lookup, and lifecycle management.
//
// Session IDs are random non-zero 48-bit values, so an observer cannot infer
// how many sessions a node holds from the IDs it hands out.
type Table struct {
	sessions    map[uint64]*Session
	maxSessions int

	mu sync.RWMutex
}

// NewTable creates a new session table.
// maxSessions limits the number of concurrent sessions (0 uses DefaultMaxSessions).
func NewTable(maxSessions int) *Table {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	return &Table{
		sessions:    make(map[uint64]*Session),
		maxSessions: maxSessions,
	}
}

// AllocateID draws an unused session ID in [1, 2^48-1].
// Returns ErrSessionTableFull if the table is at capacity.
func (t *Table) AllocateID() (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.sessions) >= t.maxSessions {
		return 0, ErrSessionTableFull
	}

	var b [8]byte
	for i := 0; i < allocateAttempts; i++ {
		if _, err := rand.Read(b[2:]); err != nil {
			return 0, fmt.Errorf("session: reading random ID: %w", err)
		}
		id := binary.BigEndian.Uint64(b[:]) & message.MaxSessionID
		if id == message.HandshakeSessionID {
			continue
		}
		if _, exists := t.sessions[id]; !exists {
			return id, nil
		}
	}
	return 0, ErrSessionIDExhausted
}

// Add adds a session to the table.
// The session's LocalID must be unique and non-zero.
func (t *Table) Add(s *Session) error {
	if s == nil {
		return ErrInvalidSessionID
	}

	id := s.LocalID()
	if id == message.HandshakeSessionID || id > message.MaxSessionID {
		return ErrInvalidSessionID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		return ErrSessionTableFull
	}
	if _, exists := t.sessions[id]; exists {
		return ErrDuplicateSession
	}

	t.sessions[id] = s
	return nil
}

// Remove removes a session from the table.
// No error is returned if the session doesn't exist.
func (t *Table) Remove(localID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, localID)
}

// RemoveIf removes the session stored under localID only if it is s.
// Returns true if it was removed.
func (t *Table) RemoveIf(localID uint64, s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.sessions[localID]; ok && cur == s {
		delete(t.sessions, localID)
		return true
	}
	return false
}

// Find looks up a session by its local session ID.
// Returns nil if not found.
func (t *Table) Find(localID uint64) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[localID]
}

// Count returns the number of sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// IsFull returns true if no more sessions can be added.
func (t *Table) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions) >= t.maxSessions
}

// MaxSessions returns the maximum number of sessions allowed.
func (t *Table) MaxSessions() int {
	return t.maxSessions
}

// Snapshot returns the current sessions. The slice is safe to iterate while
// the table changes.
func (t *Table) Snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// ForEach calls fn for each session in the table until fn returns false.
// The callback must not modify the table.
func (t *Table) ForEach(fn func(*Session) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, s := range t.sessions {
		if !fn(s) {
			return
		}
	}
}

// Clear removes all sessions from the table.
// Sessions are not closed; call Close on each session if needed.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = make(map[uint64]*Session)
}
