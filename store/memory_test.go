package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoIndex/core"
)

func chunk(id, sourceID string, modality core.Modality, start float64, text string, vec []float32) core.Chunk {
	return core.Chunk{
		ID:         id,
		SourceID:   sourceID,
		Modality:   modality,
		Start:      start,
		End:        start + 5,
		VideoTitle: "Test Video",
		Text:       text,
		Vector:     vec,
	}
}

func TestMemoryIndexRoundTripSelfMatch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	vec := []float32{1, 0, 0, 0}
	n, err := idx.Upsert(ctx, []core.Chunk{
		chunk("c1", "s1", core.ModalityTranscript, 0, "exact match", vec),
		chunk("c2", "s1", core.ModalityTranscript, 5, "opposite", []float32{0, 1, 0, 0}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A query identical to an inserted vector must rank it first with
	// distance at the minimum.
	hits, err := idx.Search(ctx, vec, Filter{}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "exact match", hits[0].Text)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
	assert.Greater(t, hits[1].Distance, hits[0].Distance)
}

func TestMemoryIndexFilters(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	vec := []float32{1, 1}
	_, err := idx.Upsert(ctx, []core.Chunk{
		chunk("c1", "s1", core.ModalityTranscript, 0, "speech", vec),
		chunk("c2", "s1", core.ModalityVisual, 0, "scene", vec),
		chunk("c3", "s2", core.ModalityTranscript, 0, "other video", vec),
	})
	require.NoError(t, err)

	hits, err := idx.Search(ctx, vec, Filter{SourceIDs: []string{"s1"}}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "s1", h.SourceID)
	}

	hits, err = idx.Search(ctx, vec, Filter{SourceIDs: []string{"s1"}, Modality: core.ModalityVisual}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "scene", hits[0].Text)
}

func TestMemoryIndexGetBySourceAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	vec := []float32{1}
	_, err := idx.Upsert(ctx, []core.Chunk{
		chunk("c1", "s1", core.ModalityTranscript, 0, "a", vec),
		chunk("c2", "s2", core.ModalityTranscript, 0, "b", vec),
	})
	require.NoError(t, err)

	chunks, err := idx.GetBySource(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "c1", chunks[0].ID)

	require.NoError(t, idx.DeleteBySource(ctx, "s1"))
	chunks, err = idx.GetBySource(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// The other source is untouched.
	chunks, err = idx.GetBySource(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestMemoryIndexDeleteDisjointAcrossRuns(t *testing.T) {
	// Reprocessing pattern: delete, then insert a fresh batch. The
	// surviving ids must all belong to the second run.
	ctx := context.Background()
	idx := NewMemoryIndex()
	vec := []float32{1}
	_, err := idx.Upsert(ctx, []core.Chunk{
		chunk("run1-a", "s1", core.ModalityTranscript, 0, "a", vec),
		chunk("run1-b", "s1", core.ModalityTranscript, 5, "b", vec),
	})
	require.NoError(t, err)

	require.NoError(t, idx.DeleteBySource(ctx, "s1"))
	_, err = idx.Upsert(ctx, []core.Chunk{
		chunk("run2-a", "s1", core.ModalityTranscript, 0, "a", vec),
		chunk("run2-b", "s1", core.ModalityTranscript, 5, "b", vec),
	})
	require.NoError(t, err)

	chunks, err := idx.GetBySource(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Contains(t, c.ID, "run2")
	}
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0.0, CosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 1.0, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 2.0, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	// Zero vectors are maximally distant, not NaN.
	assert.InDelta(t, 1.0, CosineDistance([]float32{0, 0}, []float32{1, 0}), 1e-6)
}

func TestSourceStatusTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySourceRepository()
	src := &core.Source{ID: "s1", Title: "T", FilePath: "/tmp/v.mp4", Status: core.StatusImported}
	require.NoError(t, repo.Create(ctx, src))

	// Legal path all the way to Done.
	for _, to := range []core.SourceStatus{
		core.StatusUploaded, core.StatusProcessing, core.StatusAnalyzing, core.StatusDone,
	} {
		got, err := repo.UpdateStatus(ctx, "s1", to)
		require.NoError(t, err)
		assert.Equal(t, to, got.Status)
	}

	// Done only re-enters via Uploaded.
	_, err := repo.UpdateStatus(ctx, "s1", core.StatusProcessing)
	assert.ErrorIs(t, err, ErrBadTransition)
	_, err = repo.UpdateStatus(ctx, "s1", core.StatusUploaded)
	assert.NoError(t, err)
}

func TestSourceRepositoryDuration(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySourceRepository()
	src := &core.Source{ID: "s1", Title: "T", FilePath: "/tmp/v.mp4", Status: core.StatusImported}
	require.NoError(t, repo.Create(ctx, src))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got.Duration)

	require.NoError(t, repo.SetDuration(ctx, "s1", 120.0))
	got, err = repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.Duration)
	assert.Equal(t, 120.0, *got.Duration)
}
