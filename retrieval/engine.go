// Package retrieval turns natural-language queries into ranked,
// de-duplicated evidence snippets for chat and analysis consumers.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"videoIndex/core"
	"videoIndex/index"
	"videoIndex/store"
)

// BridgeWindowSec is how far a chunk may sit from a seek anchor and
// still count as "at" that timestamp.
const BridgeWindowSec = 5.0

// Engine answers retrieval queries over the vector index. It must hold
// the same Embedder the indexing path used; embedding-space parity is a
// strict invariant.
type Engine struct {
	emb index.Embedder
	idx store.VectorIndex
	log *slog.Logger
}

func NewEngine(emb index.Embedder, idx store.VectorIndex, log *slog.Logger) *Engine {
	return &Engine{emb: emb, idx: idx, log: log}
}

// Search embeds the query, runs a filtered similarity search and
// de-duplicates the hits. When similarity search yields nothing and
// sources were requested, it falls back to the earliest k chunks of
// those sources so callers never get an empty answer from a non-empty
// index. Fallback hits carry Distance 0.0 and are not query-relevant;
// the second return value reports whether that path triggered.
func (e *Engine) Search(ctx context.Context, query string, sourceIDs []string, k int) ([]core.Hit, bool, error) {
	if strings.TrimSpace(query) == "" {
		return nil, false, fmt.Errorf("empty query")
	}
	if k <= 0 {
		k = 5
	}

	vec, err := e.emb.Embed(ctx, strings.ToLower(query))
	if err != nil {
		return nil, false, fmt.Errorf("embed query: %w", err)
	}

	hits, err := e.idx.Search(ctx, vec, store.Filter{SourceIDs: sourceIDs}, k)
	if err != nil {
		return nil, false, fmt.Errorf("similarity search: %w", err)
	}
	hits = dedupe(hits)
	if len(hits) > 0 {
		return hits, false, nil
	}
	if len(sourceIDs) == 0 {
		return nil, false, nil
	}

	e.log.Info("similarity search empty, falling back to earliest chunks",
		"query", query, "sources", sourceIDs)
	fallback, err := e.earliestChunks(ctx, sourceIDs, k)
	if err != nil {
		return nil, false, err
	}
	return fallback, len(fallback) > 0, nil
}

// earliestChunks implements the fallback policy: everything stored for
// the requested sources, ordered by start time, first k.
func (e *Engine) earliestChunks(ctx context.Context, sourceIDs []string, k int) ([]core.Hit, error) {
	var chunks []core.Chunk
	for _, id := range sourceIDs {
		cs, err := e.idx.GetBySource(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get by source %s: %w", id, err)
		}
		chunks = append(chunks, cs...)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Start < chunks[j].Start })
	if k > len(chunks) {
		k = len(chunks)
	}
	hits := make([]core.Hit, 0, k)
	for _, c := range chunks[:k] {
		hits = append(hits, core.Hit{
			Text:       c.Text,
			SourceID:   c.SourceID,
			Modality:   c.Modality,
			Start:      c.Start,
			End:        c.End,
			VideoTitle: c.VideoTitle,
			FramePath:  c.FramePath,
			Distance:   0.0,
		})
	}
	return hits, nil
}

// ContextBridge resolves "what changed" when a user seeks: the nearest
// chunk within the bridge window of the target timestamp, and of the
// previous one. Without a previous timestamp the previous context is
// the nearest chunk before the target.
func (e *Engine) ContextBridge(ctx context.Context, sourceID string, target float64, previous *float64) (*core.ContextBridgeResponse, error) {
	chunks, err := e.idx.GetBySource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("get by source %s: %w", sourceID, err)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Start < chunks[j].Start })

	resp := &core.ContextBridgeResponse{SourceID: sourceID}
	resp.Target = nearestWithin(chunks, target, BridgeWindowSec)
	if previous != nil {
		resp.Previous = nearestWithin(chunks, *previous, BridgeWindowSec)
	} else {
		resp.Previous = nearestBefore(chunks, target)
	}
	return resp, nil
}

func nearestWithin(chunks []core.Chunk, ts, window float64) *core.Hit {
	var best *core.Chunk
	bestDiff := math.Inf(1)
	for i := range chunks {
		diff := math.Abs(chunks[i].Start - ts)
		if diff <= window && diff < bestDiff {
			best = &chunks[i]
			bestDiff = diff
		}
	}
	return chunkHit(best)
}

func nearestBefore(chunks []core.Chunk, ts float64) *core.Hit {
	var best *core.Chunk
	for i := range chunks {
		if chunks[i].Start < ts {
			best = &chunks[i]
		}
	}
	return chunkHit(best)
}

func chunkHit(c *core.Chunk) *core.Hit {
	if c == nil {
		return nil
	}
	return &core.Hit{
		Text:       c.Text,
		SourceID:   c.SourceID,
		Modality:   c.Modality,
		Start:      c.Start,
		End:        c.End,
		VideoTitle: c.VideoTitle,
		FramePath:  c.FramePath,
		Distance:   0.0,
	}
}

func dedupe(hits []core.Hit) []core.Hit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, h := range hits {
		key := fmt.Sprintf("%s|%.3f|%s", h.SourceID, h.Start, h.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}
