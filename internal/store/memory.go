package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local HistoryStore. Records are lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]Session
	transitions map[string]map[int64]Transition
}

var _ HistoryStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]Session),
		transitions: make(map[string]map[int64]Transition),
	}
}

func (m *MemoryStore) PutSession(_ context.Context, session *Session) error {
	if session.CreatedAt == 0 {
		session.CreatedAt = time.Now().Unix()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) PutTransition(_ context.Context, t *Transition) error {
	if t.RecordedAt == 0 {
		t.RecordedAt = time.Now().Unix()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bySeq, ok := m.transitions[t.SessionID]
	if !ok {
		bySeq = make(map[int64]Transition)
		m.transitions[t.SessionID] = bySeq
	}
	bySeq[t.Seq] = *t
	return nil
}

func (m *MemoryStore) ListTransitions(_ context.Context, sessionID string) ([]*Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySeq := m.transitions[sessionID]
	out := make([]*Transition, 0, len(bySeq))
	for _, t := range bySeq {
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Delete drops everything stored for a session.
func (m *MemoryStore) Delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.transitions, sessionID)
}
