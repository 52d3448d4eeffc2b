package board

import (
	"context"
	"sync"
)

// Store is the durable board-state collaborator. Load of an unknown name
// returns an empty board, never an error.
type Store interface {
	Load(ctx context.Context, name string) (*Board, error)
	Save(ctx context.Context, b *Board) error
}

// Pinger is implemented by stores that can report backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MemoryStore keeps board snapshots in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	boards map[string]Snapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boards: make(map[string]Snapshot)}
}

// Load returns the last saved state of name, or an empty board.
func (m *MemoryStore) Load(_ context.Context, name string) (*Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.boards[name]
	if !ok {
		return New(name), nil
	}
	return FromSnapshot(snap), nil
}

// Save records a snapshot of b.
func (m *MemoryStore) Save(_ context.Context, b *Board) error {
	snap := b.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[b.Name()] = snap
	return nil
}
