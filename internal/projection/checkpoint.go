package projection

import (
	"context"
	"sync"

	id "trustid/pkg/domain"
)

// Checkpoint is a serialized view state and the log prefix it covers.
// Anchor is the TxID of the event at Cursor; a checkpoint only applies to a
// log whose event at Cursor carries the same TxID.
type Checkpoint struct {
	Cursor   uint64  `json:"cursor"`
	Anchor   id.TxID `json:"anchor"`
	Snapshot []byte  `json:"snapshot"`
}

// CheckpointStore persists view checkpoints so a restarted or new replica
// resumes folding from the cursor instead of genesis.
type CheckpointStore interface {
	Load(ctx context.Context, view string) (Checkpoint, bool, error)
	Save(ctx context.Context, view string, cp Checkpoint) error
	// Delete drops a checkpoint that no longer matches the log.
	Delete(ctx context.Context, view string) error
}

// MemoryCheckpoints is an in-process CheckpointStore.
type MemoryCheckpoints struct {
	mu    sync.RWMutex
	items map[string]Checkpoint
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{items: make(map[string]Checkpoint)}
}

func (m *MemoryCheckpoints) Load(_ context.Context, view string) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.items[view]
	if !ok {
		return Checkpoint{}, false, nil
	}
	cp.Snapshot = append([]byte(nil), cp.Snapshot...)
	return cp, true, nil
}

func (m *MemoryCheckpoints) Save(_ context.Context, view string, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp.Snapshot = append([]byte(nil), cp.Snapshot...)
	m.items[view] = cp
	return nil
}

func (m *MemoryCheckpoints) Delete(_ context.Context, view string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, view)
	return nil
}
