// Package media wraps the external ffmpeg/ffprobe binaries to turn an
// uploaded video into the raw pipeline inputs: a duration, a mono 16kHz
// WAV file and periodic JPEG frames.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"videoIndex/core"
)

// Runner abstracts command execution so tests can stub the transcoder.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, lastLine(stderr.String()))
	}
	return nil
}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, lastLine(stderr.String()))
	}
	return out.Bytes(), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

// Result is the joined output of one extraction run. Each output
// carries its own error so callers can tell "silent video" apart from
// "audio extraction failed": an empty AudioPath with a nil AudioErr
// never happens.
type Result struct {
	Duration  float64
	AudioPath string
	Frames    []core.Frame

	ProbeErr  error
	AudioErr  error
	FramesErr error
}

// Degraded reports whether any of the three outputs is missing.
func (r *Result) Degraded() bool {
	return r.ProbeErr != nil || r.AudioErr != nil || r.FramesErr != nil
}

type Extractor struct {
	FFmpegBin  string
	FFprobeBin string

	dataRoot       string
	probeTimeout   time.Duration
	extractTimeout time.Duration
	runner         Runner
	log            *slog.Logger
}

type Options struct {
	DataRoot       string
	ProbeTimeout   time.Duration
	ExtractTimeout time.Duration
	// Runner overrides command execution; nil means real processes.
	Runner Runner
}

func NewExtractor(opts Options, log *slog.Logger) *Extractor {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 30 * time.Second
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = 300 * time.Second
	}
	if opts.Runner == nil {
		opts.Runner = execRunner{}
	}
	return &Extractor{
		FFmpegBin:      "ffmpeg",
		FFprobeBin:     "ffprobe",
		dataRoot:       opts.DataRoot,
		probeTimeout:   opts.ProbeTimeout,
		extractTimeout: opts.ExtractTimeout,
		runner:         opts.Runner,
		log:            log,
	}
}

// SourceDir returns the per-source working directory under the data root.
func (e *Extractor) SourceDir(sourceID string) string {
	return filepath.Join(e.dataRoot, sourceID)
}

// Extract runs the duration probe, audio extraction and frame sampling
// concurrently against the same input and joins all three. A failed or
// timed-out operation degrades to a missing output, it never aborts the
// other two. The returned error covers setup only (e.g. the working
// directory could not be created).
func (e *Extractor) Extract(ctx context.Context, videoPath, sourceID string, intervalSec int) (*Result, error) {
	if intervalSec <= 0 {
		intervalSec = 5
	}
	sourceDir := e.SourceDir(sourceID)
	framesDir := filepath.Join(sourceDir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}

	res := &Result{}
	audioPath := filepath.Join(sourceDir, "audio.wav")

	// errgroup is used for the join only; sub-operation failures are
	// recorded on the result, so every closure returns nil.
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dur, err := e.probeDuration(ctx, videoPath)
		if err != nil {
			res.ProbeErr = err
			return nil
		}
		res.Duration = dur
		return nil
	})

	g.Go(func() error {
		if err := e.extractAudio(ctx, videoPath, audioPath); err != nil {
			res.AudioErr = err
			return nil
		}
		res.AudioPath = audioPath
		return nil
	})

	g.Go(func() error {
		frames, err := e.extractFrames(ctx, videoPath, framesDir, intervalSec)
		if err != nil {
			res.FramesErr = err
			return nil
		}
		res.Frames = frames
		return nil
	})

	_ = g.Wait()

	if res.Degraded() {
		e.log.Warn("extraction degraded",
			"source_id", sourceID,
			"probe_err", errString(res.ProbeErr),
			"audio_err", errString(res.AudioErr),
			"frames_err", errString(res.FramesErr))
	}
	return res, nil
}

func (e *Extractor) probeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()
	out, err := e.runner.Output(ctx, e.FFprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, err
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return dur, nil
}

func (e *Extractor) extractAudio(ctx context.Context, inputPath, audioOut string) error {
	ctx, cancel := context.WithTimeout(ctx, e.extractTimeout)
	defer cancel()
	return e.runner.Run(ctx, e.FFmpegBin,
		"-y", "-hide_banner",
		"-i", inputPath,
		"-vn", "-ac", "1", "-ar", "16000", "-f", "wav",
		audioOut)
}

func (e *Extractor) extractFrames(ctx context.Context, inputPath, framesDir string, intervalSec int) ([]core.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, e.extractTimeout)
	defer cancel()
	pattern := filepath.Join(framesDir, "%05d.jpg")
	err := e.runner.Run(ctx, e.FFmpegBin,
		"-y", "-hide_banner",
		"-i", inputPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSec),
		pattern)
	if err != nil {
		return nil, err
	}
	return EnumerateFrames(framesDir, intervalSec)
}

// EnumerateFrames lists sampled frames and derives their timestamps
// from the ffmpeg output numbering (00001.jpg sits at t=0).
func EnumerateFrames(framesDir string, intervalSec int) ([]core.Frame, error) {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, err
	}
	frames := make([]core.Frame, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		base := strings.TrimSuffix(name, filepath.Ext(name))
		i, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		frames = append(frames, core.Frame{
			TimestampSec: float64((i - 1) * intervalSec),
			Path:         filepath.Join(framesDir, name),
		})
	}
	return frames, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
