// Package lockmgr implements the per-file Lock Manager: one reader/writer lock per FileID, created on first use
// and discarded once nobody holds or waits on it. The refcounted registry
// shape mirrors internal/engine's ioGate (gate.go), generalized from
// "one lock per backing container identity" to "one lock per FileID".
package lockmgr

import (
	"sync"

	"github.com/viofs/viofs/internal/ids"
)

type entry struct {
	mu   sync.RWMutex
	refs int
}

// Manager hands out shared/exclusive lock handles keyed by FileID.
type Manager struct {
	mu      sync.Mutex
	entries map[ids.FileID]*entry
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{entries: make(map[ids.FileID]*entry)}
}

func (m *Manager) acquire(id ids.FileID) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{}
		m.entries[id] = e
	}
	e.refs++
	return e
}

func (m *Manager) release(id ids.FileID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(m.entries, id)
	}
}

// Handle is a held lock; callers must call Unlock exactly once.
type Handle struct {
	m        *Manager
	id       ids.FileID
	e        *entry
	exclusive bool
}

// AcquireShared blocks until a shared (reader) hold on id is granted.
// Go's sync.RWMutex favors waiting writers over new readers, which gives
// writer-preference fairness without any extra bookkeeping here.
func (m *Manager) AcquireShared(id ids.FileID) *Handle {
	e := m.acquire(id)
	e.mu.RLock()
	return &Handle{m: m, id: id, e: e, exclusive: false}
}

// AcquireExclusive blocks until an exclusive (writer) hold on id is
// granted.
func (m *Manager) AcquireExclusive(id ids.FileID) *Handle {
	e := m.acquire(id)
	e.mu.Lock()
	return &Handle{m: m, id: id, e: e, exclusive: true}
}

// Unlock releases the hold. Safe to call exactly once per Handle.
func (h *Handle) Unlock() {
	if h.exclusive {
		h.e.mu.Unlock()
	} else {
		h.e.mu.RUnlock()
	}
	h.m.release(h.id)
}
