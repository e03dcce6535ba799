package store

import (
	"context"
	"sort"
	"sync"

	"videoIndex/core"
)

// MemoryIndex is the in-process fallback backend. It keeps full chunks
// keyed by source id behind an RWMutex and scores with exact cosine
// distance, which also makes it the reference implementation for tests.
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks map[string][]core.Chunk // source id -> chunks
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{chunks: make(map[string][]core.Chunk)}
}

func (m *MemoryIndex) Upsert(_ context.Context, chunks []core.Chunk) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.SourceID] = append(m.chunks[c.SourceID], c)
	}
	return len(chunks), nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, filter Filter, k int) ([]core.Hit, error) {
	if k <= 0 {
		k = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		chunk    core.Chunk
		distance float64
	}
	var candidates []scored
	for _, chunks := range m.chunks {
		for _, c := range chunks {
			if !filter.matches(c) {
				continue
			}
			candidates = append(candidates, scored{c, CosineDistance(vector, c.Vector)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if k > len(candidates) {
		k = len(candidates)
	}
	hits := make([]core.Hit, 0, k)
	for _, s := range candidates[:k] {
		hits = append(hits, chunkHit(s.chunk, s.distance))
	}
	return hits, nil
}

func (m *MemoryIndex) GetBySource(_ context.Context, sourceID string) ([]core.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.chunks[sourceID]
	out := make([]core.Chunk, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryIndex) DeleteBySource(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, sourceID)
	return nil
}

func (m *MemoryIndex) Close(_ context.Context) error { return nil }
