package enrich

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"videoIndex/core"
)

// Result is the joined enrichment output: both lists are ordered by
// start time and either may be empty when the corresponding input was
// absent or its provider degraded.
type Result struct {
	Segments     []core.Segment
	Descriptions []core.FrameDescription
}

// Coordinator fans out transcription and frame captioning and joins
// both before returning. Provider failures are absorbed into empty
// outputs; only the per-frame error tagging survives into the result.
type Coordinator struct {
	asr     Transcriber
	vlm     FrameDescriber
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewCoordinator builds a coordinator. vlmPerMinute paces the one
// request per frame sent to the vision provider.
func NewCoordinator(asr Transcriber, vlm FrameDescriber, vlmPerMinute int, log *slog.Logger) *Coordinator {
	if vlmPerMinute <= 0 {
		vlmPerMinute = 30
	}
	return &Coordinator{
		asr:     asr,
		vlm:     vlm,
		limiter: rate.NewLimiter(rate.Limit(float64(vlmPerMinute)/60.0), 1),
		log:     log,
	}
}

// Enrich runs both sub-tasks concurrently. A sub-task whose input is
// absent is skipped and yields an empty list.
func (c *Coordinator) Enrich(ctx context.Context, sourceID, audioPath string, frames []core.Frame) *Result {
	res := &Result{}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if audioPath == "" {
			return nil
		}
		segs, err := c.asr.Transcribe(ctx, audioPath)
		if err != nil {
			c.log.Warn("transcription failed, continuing without transcript",
				"source_id", sourceID, "error", err)
			return nil
		}
		sort.Slice(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
		res.Segments = segs
		return nil
	})

	g.Go(func() error {
		if len(frames) == 0 {
			return nil
		}
		res.Descriptions = c.describeFrames(ctx, sourceID, frames)
		return nil
	})

	_ = g.Wait()
	return res
}

// describeFrames issues one captioning request per frame, sequentially
// and rate-limited. A failed call produces an error-tagged description
// so the batch keeps going; the chunker filters the tag out later.
func (c *Coordinator) describeFrames(ctx context.Context, sourceID string, frames []core.Frame) []core.FrameDescription {
	ordered := make([]core.Frame, len(frames))
	copy(ordered, frames)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].TimestampSec < ordered[j].TimestampSec })

	descs := make([]core.FrameDescription, 0, len(ordered))
	for _, frame := range ordered {
		if err := c.limiter.Wait(ctx); err != nil {
			c.log.Warn("captioning interrupted", "source_id", sourceID, "error", err)
			break
		}
		text, err := c.vlm.Describe(ctx, frame.Path)
		if err != nil {
			c.log.Warn("frame captioning failed",
				"source_id", sourceID, "frame", frame.Path, "error", err)
			text = ErrorPrefix + " " + err.Error()
		}
		descs = append(descs, core.FrameDescription{
			TimestampSec: frame.TimestampSec,
			Description:  text,
			FramePath:    frame.Path,
		})
	}
	return descs
}
