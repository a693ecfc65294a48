// Package ledger provides DigestLedger implementations: a process-local
// map, and a Redis store shared by every worker. The PostgreSQL ledger
// lives with the other repositories in internal/db.
package ledger

import (
	"context"
	"sync"
)

// Memory remembers the last reserved digest date per user for the life of
// the process. A restart forgets it, which can re-send a digest inside the
// same window.
type Memory struct {
	mu   sync.Mutex
	last map[string]string
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{last: make(map[string]string)}
}

// SentOn reports whether userID holds the slot for localDate.
func (m *Memory) SentOn(_ context.Context, userID, localDate string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[userID] == localDate, nil
}

// Reserve takes the slot unless it is already held for localDate.
func (m *Memory) Reserve(_ context.Context, userID, localDate string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last[userID] == localDate {
		return false, nil
	}
	m.last[userID] = localDate
	return true, nil
}

// Release forgets the slot if it is still held for localDate.
func (m *Memory) Release(_ context.Context, userID, localDate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last[userID] == localDate {
		delete(m.last, userID)
	}
	return nil
}
