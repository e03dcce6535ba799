package index

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"videoIndex/core"
)

// Builder chunks enrichment output, embeds every surviving unit and
// wraps it into a metadata-tagged chunk.
type Builder struct {
	emb    Embedder
	budget int
	log    *slog.Logger
}

func NewBuilder(emb Embedder, budget int, log *slog.Logger) *Builder {
	if budget <= 0 {
		budget = DefaultCharBudget
	}
	return &Builder{emb: emb, budget: budget, log: log}
}

// Embedder exposes the embedding space used for indexing, so the
// retrieval engine can share it.
func (b *Builder) Embedder() Embedder { return b.emb }

// Build returns one chunk per transcript sub-chunk and per valid frame
// description. Embedding failures skip the unit rather than failing the
// batch; the caller audits the returned count against what it fed in.
func (b *Builder) Build(ctx context.Context, sourceID, videoTitle string, segments []core.Segment, descriptions []core.FrameDescription) ([]core.Chunk, error) {
	chunks := make([]core.Chunk, 0, len(segments)+len(descriptions))

	for _, seg := range SplitTranscript(segments, b.budget) {
		vec, err := b.emb.Embed(ctx, strings.ToLower(seg.Text))
		if err != nil {
			b.log.Warn("embedding failed, skipping transcript chunk",
				"source_id", sourceID, "start", seg.Start, "error", err)
			continue
		}
		chunks = append(chunks, core.Chunk{
			ID:         uuid.NewString(),
			SourceID:   sourceID,
			Modality:   core.ModalityTranscript,
			Start:      seg.Start,
			End:        seg.End,
			VideoTitle: videoTitle,
			Text:       seg.Text,
			Vector:     vec,
		})
	}

	for _, desc := range descriptions {
		if DropInvalidDescription(desc.Description) {
			continue
		}
		text := strings.TrimSpace(desc.Description)
		vec, err := b.emb.Embed(ctx, strings.ToLower(text))
		if err != nil {
			b.log.Warn("embedding failed, skipping frame description",
				"source_id", sourceID, "timestamp", desc.TimestampSec, "error", err)
			continue
		}
		chunks = append(chunks, core.Chunk{
			ID:         uuid.NewString(),
			SourceID:   sourceID,
			Modality:   core.ModalityVisual,
			Start:      desc.TimestampSec,
			End:        desc.TimestampSec,
			VideoTitle: videoTitle,
			Text:       text,
			FramePath:  desc.FramePath,
			Vector:     vec,
		})
	}

	return chunks, nil
}
