// Package embedcache persists embedding vectors keyed by content hash so
// re-uploading a book does not re-embed unchanged text. Only vectors are
// stored; indexes are always rebuilt in memory.
package embedcache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// encode packs vec as little-endian float32s.
func encode(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedcache: invalid blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// Memory is a process-local cache.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]float32
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]float32)}
}

func (m *Memory) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Put(_ context.Context, key string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]float32(nil), vec...)
	return nil
}

func (m *Memory) Close() error { return nil }
