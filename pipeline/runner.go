// Package pipeline sequences the per-source processing stages and owns
// the source state machine: Imported -> Uploaded -> Processing ->
// Analyzing -> Done | Error, with Uploaded as the only re-entry point.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"videoIndex/core"
	"videoIndex/enrich"
	"videoIndex/index"
	"videoIndex/media"
	"videoIndex/store"
)

var (
	// ErrAlreadyRunning is returned when a trigger races an in-flight
	// run for the same source; double-triggering must not start two
	// pipelines writing to the same index entries.
	ErrAlreadyRunning = errors.New("pipeline already running for source")
	// ErrNoChunksStored marks the indexing contradiction: enrichment
	// produced content but nothing was stored.
	ErrNoChunksStored = errors.New("enrichment produced content but no chunks were stored")
)

// run tracks one in-flight pipeline execution.
type run struct {
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// RunInfo describes an in-flight run for status listings.
type RunInfo struct {
	SourceID  string    `json:"source_id"`
	StartedAt time.Time `json:"started_at"`
}

// Runner executes the pipeline for one source per trigger. Triggering
// is fire-and-forget: Trigger returns with the source in Uploaded and
// the stages proceed on their own goroutine.
type Runner struct {
	repo      store.SourceRepository
	extractor *media.Extractor
	coord     *enrich.Coordinator
	builder   *index.Builder
	idx       store.VectorIndex

	frameInterval int
	log           *slog.Logger

	mu      sync.Mutex
	running map[string]*run
}

func NewRunner(repo store.SourceRepository, extractor *media.Extractor, coord *enrich.Coordinator, builder *index.Builder, idx store.VectorIndex, frameInterval int, log *slog.Logger) *Runner {
	if frameInterval <= 0 {
		frameInterval = 5
	}
	return &Runner{
		repo:          repo,
		extractor:     extractor,
		coord:         coord,
		builder:       builder,
		idx:           idx,
		frameInterval: frameInterval,
		log:           log,
		running:       make(map[string]*run),
	}
}

// Trigger requests pipeline execution for a source. It validates the
// transition into Uploaded, takes the per-source single-flight lock,
// and returns immediately with the new state while the pipeline runs
// in the background.
func (r *Runner) Trigger(ctx context.Context, sourceID string) (*core.Source, error) {
	return r.start(ctx, sourceID, false)
}

// Reprocess clears existing index entries for the source and triggers a
// fresh run. The delete-before-reinsert ordering is required to avoid
// duplicate and stale chunks.
func (r *Runner) Reprocess(ctx context.Context, sourceID string) (*core.Source, error) {
	return r.start(ctx, sourceID, true)
}

// start reserves the single-flight slot, optionally clears index
// entries, validates the transition into Uploaded and launches the
// stages on their own goroutine. The slot must be reserved before any
// side effect: a concurrent trigger during the pre-run delete would
// otherwise upsert into an index being wiped. The mutex guards only
// the run map, never a repository call.
func (r *Runner) start(ctx context.Context, sourceID string, clearIndex bool) (*core.Source, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	rn := &run{startedAt: time.Now().UTC(), cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if _, busy := r.running[sourceID]; busy {
		r.mu.Unlock()
		cancel()
		return nil, ErrAlreadyRunning
	}
	r.running[sourceID] = rn
	r.mu.Unlock()

	release := func() {
		cancel()
		r.mu.Lock()
		delete(r.running, sourceID)
		r.mu.Unlock()
		close(rn.done)
	}

	if clearIndex {
		if err := r.idx.DeleteBySource(ctx, sourceID); err != nil {
			release()
			return nil, fmt.Errorf("clear index before reprocess: %w", err)
		}
	}

	src, err := r.repo.UpdateStatus(ctx, sourceID, core.StatusUploaded)
	if err != nil {
		release()
		return nil, err
	}

	go func() {
		defer release()
		r.execute(runCtx, src)
	}()

	return src, nil
}

// Cancel aborts an in-flight run. The run lands in Error through the
// normal failure path.
func (r *Runner) Cancel(sourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rn, ok := r.running[sourceID]
	if ok {
		rn.cancel()
	}
	return ok
}

// Running lists in-flight runs with their start times.
func (r *Runner) Running() []RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunInfo, 0, len(r.running))
	for id, rn := range r.running {
		out = append(out, RunInfo{SourceID: id, StartedAt: rn.startedAt})
	}
	return out
}

// Wait blocks until no run is in flight for the source. Intended for
// tests and graceful shutdown.
func (r *Runner) Wait(sourceID string) {
	r.mu.Lock()
	rn, ok := r.running[sourceID]
	r.mu.Unlock()
	if ok {
		<-rn.done
	}
}

// execute drives one pipeline run. Stage-local degradation is absorbed
// and passed forward as smaller inputs; only indexing contradictions
// and unclassified errors surface as pipeline failure.
func (r *Runner) execute(ctx context.Context, src *core.Source) {
	log := r.log.With("source_id", src.ID, "title", src.Title)

	// Stage 1: extraction.
	if _, err := r.repo.UpdateStatus(ctx, src.ID, core.StatusProcessing); err != nil {
		r.fail(ctx, src.ID, "processing", err)
		return
	}
	extract, err := r.extractor.Extract(ctx, src.FilePath, src.ID, r.frameInterval)
	if err != nil {
		r.fail(ctx, src.ID, "processing", err)
		return
	}
	if extract.ProbeErr == nil {
		if err := r.repo.SetDuration(ctx, src.ID, extract.Duration); err != nil {
			r.fail(ctx, src.ID, "processing", err)
			return
		}
	}
	log.Info("extraction complete",
		"duration", extract.Duration,
		"has_audio", extract.AudioPath != "",
		"frames", len(extract.Frames))

	// Stage 2: enrichment and indexing.
	if _, err := r.repo.UpdateStatus(ctx, src.ID, core.StatusAnalyzing); err != nil {
		r.fail(ctx, src.ID, "analyzing", err)
		return
	}
	enriched := r.coord.Enrich(ctx, src.ID, extract.AudioPath, extract.Frames)
	if err := ctx.Err(); err != nil {
		r.fail(ctx, src.ID, "analyzing", err)
		return
	}

	chunks, err := r.builder.Build(ctx, src.ID, src.Title, enriched.Segments, enriched.Descriptions)
	if err != nil {
		r.fail(ctx, src.ID, "analyzing", err)
		return
	}
	stored, err := r.idx.Upsert(ctx, chunks)
	if err != nil {
		r.fail(ctx, src.ID, "analyzing", err)
		return
	}

	// Error-tagged captions are degradation, not content; a video whose
	// every caption failed is a zero-content video, not a storage bug.
	produced := len(enriched.Segments)
	for _, d := range enriched.Descriptions {
		if !index.DropInvalidDescription(d.Description) {
			produced++
		}
	}
	if produced > 0 && stored == 0 {
		r.fail(ctx, src.ID, "analyzing", fmt.Errorf("%w: produced=%d", ErrNoChunksStored, produced))
		return
	}
	if produced == 0 {
		log.Warn("enrichment produced no usable content, source is indexed empty")
	}

	if _, err := r.repo.UpdateStatus(ctx, src.ID, core.StatusDone); err != nil {
		r.fail(ctx, src.ID, "analyzing", err)
		return
	}
	log.Info("pipeline complete", "segments", len(enriched.Segments),
		"descriptions", len(enriched.Descriptions), "chunks_stored", stored)
}

// fail moves the source to Error. The last good duration, and any
// chunks indexed before the failure, are kept: failed sources remain
// queryable, recovery is a manual reprocess.
func (r *Runner) fail(ctx context.Context, sourceID, stage string, cause error) {
	r.log.Error("pipeline failed", "source_id", sourceID, "stage", stage, "error", cause)
	// The run context may already be canceled; status must still land.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if _, err := r.repo.UpdateStatus(ctx, sourceID, core.StatusError); err != nil {
		r.log.Error("failed to record error status", "source_id", sourceID, "error", err)
	}
}
