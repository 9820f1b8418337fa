package cache

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-process Store. It lives for the duration of one run.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]float32)}
}

func (m *Memory) GetMany(_ context.Context, keys []string) ([][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]float32, len(keys))
	for i, k := range keys {
		if v, ok := m.entries[k]; ok {
			out[i] = slices.Clone(v)
		}
	}
	return out, nil
}

func (m *Memory) SetMany(_ context.Context, keys []string, vectors [][]float32) error {
	if err := checkLengths(keys, vectors); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, k := range keys {
		m.entries[k] = slices.Clone(vectors[i])
	}
	return nil
}

// Len returns the number of cached vectors.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
