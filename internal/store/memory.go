package store

import (
	"context"
	"sync"
)

// MemoryBackend holds the serialized value in process. It is the substitute for
// real storage in tests.
type MemoryBackend struct {
	mu   sync.Mutex
	data []byte
	set  bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Read(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return nil, ErrAbsent
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *MemoryBackend) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.set = true
	return nil
}

// Raw returns the stored bytes, or nil when nothing was written.
func (m *MemoryBackend) Raw() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return nil
	}
	return append([]byte(nil), m.data...)
}

// Put replaces the stored bytes directly, bypassing encoding.
func (m *MemoryBackend) Put(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.set = true
}
