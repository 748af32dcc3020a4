package blob

import (
	"context"
	"strings"
	"sync"

	dErrors "trustid/pkg/domain-errors"
)

// MemoryStore pins documents in process and resolves them against a gateway
// base URL, the way a public pinning gateway serves content-addressed files.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[ContentHash][]byte
	gateway string
}

func NewMemoryStore(gatewayURL string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[ContentHash][]byte),
		gateway: strings.TrimRight(gatewayURL, "/"),
	}
}

// Store pins data. Storing the same bytes twice returns the same hash.
func (m *MemoryStore) Store(ctx context.Context, data []byte) (ContentHash, error) {
	if err := ctx.Err(); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "blob store unavailable")
	}
	if err := validateDocument(data); err != nil {
		return "", err
	}
	h := HashOf(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[h]; !ok {
		m.objects[h] = append([]byte(nil), data...)
	}
	return h, nil
}

func (m *MemoryStore) Resolve(_ context.Context, h ContentHash) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[h]; !ok {
		return "", dErrors.New(dErrors.CodeNotFound, "document not found")
	}
	return m.gateway + "/" + h.String(), nil
}

// Get returns the pinned bytes.
func (m *MemoryStore) Get(_ context.Context, h ContentHash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[h]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
	}
	return append([]byte(nil), data...), nil
}
