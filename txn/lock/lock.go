// Package lock is a page-granularity lock table: SHARED and EXCLUSIVE
// locks, non-blocking try semantics only. There is no wait queue and no
// deadlock detection — a denied request returns immediately rather than
// queuing, matching the engine's resolved choice to leave deadlock
// avoidance to the caller (retry-with-backoff) instead of building a
// waits-for graph.
//
// Grants are checked against a compatibility matrix over the page's
// current holders rather than queued as pending requests: a call either
// succeeds immediately or is denied immediately.
package lock

import (
	"sync"

	"github.com/Prabhat2912/mini-database-engine/types"
)

// Mode is the access mode requested for a page.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

type holder struct {
	txn  types.TransactionId
	mode Mode
}

// Manager is the page lock table for one storage engine.
type Manager struct {
	mu      sync.Mutex
	holders map[types.PageId][]holder
}

// New returns an empty lock table.
func New() *Manager {
	return &Manager{holders: make(map[types.PageId][]holder)}
}

// Acquire attempts to grant txn a mode lock on pageId. It succeeds
// immediately if compatible with every existing holder (SHARED locks
// from the same transaction are idempotent; requesting EXCLUSIVE while
// already holding SHARED upgrades in place if no other transaction holds
// the page). It never blocks: on conflict it returns ErrLockDenied.
func (m *Manager) Acquire(pageId types.PageId, txn types.TransactionId, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.holders[pageId]

	for i, h := range existing {
		if h.txn == txn {
			if h.mode == Exclusive || h.mode == mode {
				return nil
			}
			// h.mode == Shared, requesting Exclusive: upgrade only if no
			// other transaction also holds the page.
			if len(existing) == 1 {
				existing[i].mode = Exclusive
				return nil
			}
			return types.ErrLockDenied
		}
	}

	for _, h := range existing {
		if !compatible(h.mode, mode) {
			return types.ErrLockDenied
		}
	}

	m.holders[pageId] = append(existing, holder{txn: txn, mode: mode})
	return nil
}

// compatible reports whether a new lock of mode `want` may be granted
// alongside an existing holder of mode `have`. SHARED/SHARED is the only
// compatible pairing; anything touching EXCLUSIVE conflicts.
func compatible(have, want Mode) bool {
	return have == Shared && want == Shared
}

// Release drops txn's lock on pageId, if any. No-op if txn holds no lock
// there.
func (m *Manager) Release(pageId types.PageId, txn types.TransactionId) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.holders[pageId]
	for i, h := range existing {
		if h.txn == txn {
			m.holders[pageId] = append(existing[:i], existing[i+1:]...)
			if len(m.holders[pageId]) == 0 {
				delete(m.holders, pageId)
			}
			return
		}
	}
}

// ReleaseAll drops every lock held by txn, across all pages.
func (m *Manager) ReleaseAll(txn types.TransactionId) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pageId, existing := range m.holders {
		for i, h := range existing {
			if h.txn == txn {
				m.holders[pageId] = append(existing[:i], existing[i+1:]...)
				break
			}
		}
		if len(m.holders[pageId]) == 0 {
			delete(m.holders, pageId)
		}
	}
}

// HasLock reports whether txn currently holds any lock on pageId.
func (m *Manager) HasLock(pageId types.PageId, txn types.TransactionId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.holders[pageId] {
		if h.txn == txn {
			return true
		}
	}
	return false
}

// LockedPages returns every page txn currently holds a lock on.
func (m *Manager) LockedPages(txn types.TransactionId) []types.PageId {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pages []types.PageId
	for pageId, existing := range m.holders {
		for _, h := range existing {
			if h.txn == txn {
				pages = append(pages, pageId)
				break
			}
		}
	}
	return pages
}
