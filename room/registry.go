// Package room tracks which users are currently joined to which documents.
package room

import "sync"

// Registry is the shared room-membership table. Sessions call Join and Leave
// while handling client messages; the disconnect cleanup path calls Leave once
// for the session's joined pair. Implementations must be safe for concurrent
// use.
type Registry interface {
	// Join appends user to the document's membership list, creating the room
	// if needed. Joining twice appends twice.
	Join(docID, userID string)
	// Leave removes the first matching entry from the named room. Leaving a
	// room or user that was never joined is a no-op.
	Leave(docID, userID string)
	// Snapshot returns a copy of the whole table, for status reporting and
	// tests. Mutating the result does not affect the registry.
	Snapshot() map[string][]string
}

// MemberList is the in-memory Registry used in production. One mutex guards
// the whole table; hold times are short list scans with no I/O.
type MemberList struct {
	mu    sync.Mutex
	rooms map[string][]string
}

// NewMemberList returns an empty registry.
func NewMemberList() *MemberList {
	return &MemberList{rooms: make(map[string][]string)}
}

func (m *MemberList) Join(docID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[docID] = append(m.rooms[docID], userID)
}

// Leave removes one matching entry, so a user who joined twice stays listed
// once until the second leave or disconnect.
func (m *MemberList) Leave(docID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users, ok := m.rooms[docID]
	if !ok {
		return
	}
	for i, u := range users {
		if u == userID {
			m.rooms[docID] = append(users[:i], users[i+1:]...)
			break
		}
	}
	if len(m.rooms[docID]) == 0 {
		delete(m.rooms, docID)
	}
}

func (m *MemberList) Snapshot() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string, len(m.rooms))
	for doc, users := range m.rooms {
		out[doc] = append([]string(nil), users...)
	}
	return out
}
