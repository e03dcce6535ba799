// Package store persists (vector, payload) pairs and source rows.
// Three vector backends share one interface: an in-process memory
// index, Postgres with pgvector, and Milvus. Reads are not
// synchronized with writes; a query issued mid-indexing may see a
// partial chunk set (eventual consistency, accepted for this use case).
package store

import (
	"context"
	"math"

	"videoIndex/core"
)

// Filter restricts similarity search by source and/or modality. Empty
// fields mean no restriction.
type Filter struct {
	SourceIDs []string
	Modality  core.Modality
}

func (f Filter) matches(c core.Chunk) bool {
	if f.Modality != "" && c.Modality != f.Modality {
		return false
	}
	if len(f.SourceIDs) > 0 {
		found := false
		for _, id := range f.SourceIDs {
			if id == c.SourceID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// VectorIndex is the persistence contract for indexed chunks.
// DeleteBySource must be called by the owner before re-indexing a
// source; the index does not make delete+upsert atomic.
type VectorIndex interface {
	// Upsert stores chunks and returns how many were actually written.
	Upsert(ctx context.Context, chunks []core.Chunk) (int, error)
	// Search returns up to k hits ranked by cosine distance, closest first.
	Search(ctx context.Context, vector []float32, filter Filter, k int) ([]core.Hit, error)
	// GetBySource is an exact, unranked retrieval of every chunk of one source.
	GetBySource(ctx context.Context, sourceID string) ([]core.Chunk, error)
	// DeleteBySource removes every chunk whose source id matches.
	DeleteBySource(ctx context.Context, sourceID string) error
	Close(ctx context.Context) error
}

// CosineDistance returns 1 - cos(a, b); 0 means identical direction.
// Zero-norm vectors are treated as maximally distant.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func chunkHit(c core.Chunk, distance float64) core.Hit {
	return core.Hit{
		Text:       c.Text,
		SourceID:   c.SourceID,
		Modality:   c.Modality,
		Start:      c.Start,
		End:        c.End,
		VideoTitle: c.VideoTitle,
		FramePath:  c.FramePath,
		Distance:   distance,
	}
}
