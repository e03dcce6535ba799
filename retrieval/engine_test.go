package retrieval

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoIndex/core"
	"videoIndex/index"
	"videoIndex/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedIndex embeds and stores a few transcript chunks for one source.
func seedIndex(t *testing.T, emb index.Embedder, idx store.VectorIndex, sourceID string, texts []string) []core.Chunk {
	t.Helper()
	ctx := context.Background()
	chunks := make([]core.Chunk, 0, len(texts))
	for i, text := range texts {
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		chunks = append(chunks, core.Chunk{
			ID:         sourceID + "-" + text,
			SourceID:   sourceID,
			Modality:   core.ModalityTranscript,
			Start:      float64(i * 10),
			End:        float64(i*10 + 10),
			VideoTitle: "Seeded",
			Text:       text,
			Vector:     vec,
		})
	}
	_, err := idx.Upsert(ctx, chunks)
	require.NoError(t, err)
	return chunks
}

func TestSearchRanksSelfMatchFirst(t *testing.T) {
	emb := index.NewHashEmbedder(128)
	idx := store.NewMemoryIndex()
	eng := NewEngine(emb, idx, testLogger())
	seedIndex(t, emb, idx, "s1", []string{
		"the rocket launches at dawn",
		"a cat sleeps on the sofa",
	})

	hits, fallback, err := eng.Search(context.Background(), "the rocket launches at dawn", []string{"s1"}, 5)
	require.NoError(t, err)
	assert.False(t, fallback)
	require.NotEmpty(t, hits)
	assert.Equal(t, "the rocket launches at dawn", hits[0].Text)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
}

func TestSearchFallbackNeverEmptyForPopulatedSource(t *testing.T) {
	emb := index.NewHashEmbedder(128)
	idx := store.NewMemoryIndex()
	eng := NewEngine(emb, idx, testLogger())
	seedIndex(t, emb, idx, "s1", []string{"alpha content", "beta content", "gamma content"})

	// A nonsense query shares no token with the corpus. Whether the
	// backend returns distant neighbours or nothing at all, the caller
	// must get a non-empty answer for a populated source.
	hits, fallback, err := eng.Search(context.Background(), "zzzz qqqq xxxx", []string{"s1"}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits, "populated source must never yield an empty result")
	if fallback {
		for _, h := range hits {
			assert.Equal(t, 0.0, h.Distance)
		}
	}
}

func TestSearchFallbackReturnsEarliestChunks(t *testing.T) {
	emb := index.NewHashEmbedder(128)
	// emptyIndex simulates a similarity search that yields nothing
	// while get-by-source still has data.
	idx := &emptySearchIndex{inner: store.NewMemoryIndex()}
	eng := NewEngine(emb, idx, testLogger())
	seedIndex(t, emb, idx.inner, "s1", []string{"first", "second", "third"})

	hits, fallback, err := eng.Search(context.Background(), "anything", []string{"s1"}, 2)
	require.NoError(t, err)
	assert.True(t, fallback)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].Text)
	assert.Equal(t, "second", hits[1].Text)
	assert.Equal(t, 0.0, hits[0].Distance)
}

func TestSearchNoSourcesNoFallback(t *testing.T) {
	emb := index.NewHashEmbedder(128)
	idx := &emptySearchIndex{inner: store.NewMemoryIndex()}
	eng := NewEngine(emb, idx, testLogger())
	seedIndex(t, emb, idx.inner, "s1", []string{"content"})

	hits, fallback, err := eng.Search(context.Background(), "anything", nil, 2)
	require.NoError(t, err)
	assert.False(t, fallback)
	assert.Empty(t, hits)
}

func TestSearchRestrictsToRequestedSources(t *testing.T) {
	emb := index.NewHashEmbedder(128)
	idx := store.NewMemoryIndex()
	eng := NewEngine(emb, idx, testLogger())
	seedIndex(t, emb, idx, "s1", []string{"shared topic one"})
	seedIndex(t, emb, idx, "s2", []string{"shared topic two"})

	hits, _, err := eng.Search(context.Background(), "shared topic", []string{"s2"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, "s2", h.SourceID)
	}
}

func TestContextBridgeNearestWithinWindow(t *testing.T) {
	emb := index.NewHashEmbedder(128)
	idx := store.NewMemoryIndex()
	eng := NewEngine(emb, idx, testLogger())
	// Chunks at 0, 10, 20, 30.
	seedIndex(t, emb, idx, "s1", []string{"a", "b", "c", "d"})

	prev := 10.0
	resp, err := eng.ContextBridge(context.Background(), "s1", 22.0, &prev)
	require.NoError(t, err)
	require.NotNil(t, resp.Target)
	assert.Equal(t, 20.0, resp.Target.Start)
	require.NotNil(t, resp.Previous)
	assert.Equal(t, 10.0, resp.Previous.Start)
}

func TestContextBridgeOutsideWindow(t *testing.T) {
	emb := index.NewHashEmbedder(128)
	idx := store.NewMemoryIndex()
	eng := NewEngine(emb, idx, testLogger())
	seedIndex(t, emb, idx, "s1", []string{"a", "b"}) // 0s, 10s

	resp, err := eng.ContextBridge(context.Background(), "s1", 100.0, nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Target, "no chunk lies within the window of t=100")
	// Previous falls back to the nearest chunk before the target.
	require.NotNil(t, resp.Previous)
	assert.Equal(t, 10.0, resp.Previous.Start)
}

func TestCitationFormat(t *testing.T) {
	h := core.Hit{VideoTitle: "Launch Review", Start: 195}
	assert.Equal(t, "[Launch Review 03:15]", h.Citation())
}

// emptySearchIndex wraps a real index but reports no similarity hits.
type emptySearchIndex struct {
	inner *store.MemoryIndex
}

func (e *emptySearchIndex) Upsert(ctx context.Context, chunks []core.Chunk) (int, error) {
	return e.inner.Upsert(ctx, chunks)
}

func (e *emptySearchIndex) Search(context.Context, []float32, store.Filter, int) ([]core.Hit, error) {
	return nil, nil
}

func (e *emptySearchIndex) GetBySource(ctx context.Context, sourceID string) ([]core.Chunk, error) {
	return e.inner.GetBySource(ctx, sourceID)
}

func (e *emptySearchIndex) DeleteBySource(ctx context.Context, sourceID string) error {
	return e.inner.DeleteBySource(ctx, sourceID)
}

func (e *emptySearchIndex) Close(ctx context.Context) error { return e.inner.Close(ctx) }
