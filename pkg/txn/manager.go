package txn

import (
	"sync"

	"github.com/flintdb/flint/pkg/wal"
)

// Manager hands out monotonically increasing transaction IDs and tracks
// which transactions are currently active. SPEC_FULL.md's single-writer
// contract means at most one transaction is ever active at a time in
// practice; ActiveCount exposes the registry's size.
type Manager struct {
	mu     sync.Mutex
	nextID uint64
	active map[uint64]*Transaction
}

func NewManager() *Manager {
	return &Manager{active: make(map[uint64]*Transaction)}
}

// Begin starts a new transaction against w (nil disables WAL logging,
// used by in-memory tests that don't need durability).
func (m *Manager) Begin(w *wal.WALWriter) (*Transaction, error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	return newTransaction(id, w, m)
}

// LastTxnID reports the highest transaction ID assigned so far by this
// Manager.
func (m *Manager) LastTxnID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID
}

// SetNextID fast-forwards the ID counter so that the next Begin assigns
// an ID above next; a value at or below the current counter is ignored.
func (m *Manager) SetNextID(next uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next > m.nextID {
		m.nextID = next
	}
}

func (m *Manager) register(tx *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[tx.ID] = tx
}

func (m *Manager) unregister(tx *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, tx.ID)
}

// ActiveCount reports how many transactions are currently ACTIVE.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
