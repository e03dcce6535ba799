package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubRunner fakes the transcoder: the probe prints a duration, audio
// extraction touches the output file, frame sampling writes numbered
// JPEGs into the target directory.
type stubRunner struct {
	duration   string
	frameCount int

	failProbe  bool
	failAudio  bool
	failFrames bool
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) error {
	last := args[len(args)-1]
	if strings.HasSuffix(last, ".wav") {
		if s.failAudio {
			return errors.New("audio stream not found")
		}
		return os.WriteFile(last, []byte("wav"), 0o644)
	}
	if s.failFrames {
		return errors.New("frame extraction failed")
	}
	dir := filepath.Dir(last)
	for i := 1; i <= s.frameCount; i++ {
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%05d.jpg", i)), []byte("jpg"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	if s.failProbe {
		return nil, errors.New("probe timed out")
	}
	return []byte(s.duration + "\n"), nil
}

func newTestExtractor(t *testing.T, r Runner) *Extractor {
	t.Helper()
	return NewExtractor(Options{DataRoot: t.TempDir(), Runner: r}, testLogger())
}

func TestExtractJoinsAllOutputs(t *testing.T) {
	e := newTestExtractor(t, &stubRunner{duration: "120.0", frameCount: 24})
	res, err := e.Extract(context.Background(), "/videos/input.mp4", "src-1", 5)
	require.NoError(t, err)

	assert.Equal(t, 120.0, res.Duration)
	assert.NotEmpty(t, res.AudioPath)
	assert.Len(t, res.Frames, 24)
	assert.False(t, res.Degraded())

	// Frame timestamps derive from the sampling interval.
	assert.Equal(t, 0.0, res.Frames[0].TimestampSec)
	assert.Equal(t, 5.0, res.Frames[1].TimestampSec)
	assert.Equal(t, 115.0, res.Frames[23].TimestampSec)
}

func TestExtractAudioFailureDegradesOnlyAudio(t *testing.T) {
	e := newTestExtractor(t, &stubRunner{duration: "60.0", frameCount: 12, failAudio: true})
	res, err := e.Extract(context.Background(), "/videos/silent.mp4", "src-2", 5)
	require.NoError(t, err)

	assert.Empty(t, res.AudioPath)
	assert.Error(t, res.AudioErr)
	assert.Equal(t, 60.0, res.Duration)
	assert.Len(t, res.Frames, 12)
	assert.True(t, res.Degraded())
}

func TestExtractProbeFailureDegradesOnlyDuration(t *testing.T) {
	e := newTestExtractor(t, &stubRunner{duration: "0", frameCount: 3, failProbe: true})
	res, err := e.Extract(context.Background(), "/videos/odd.mp4", "src-3", 5)
	require.NoError(t, err)

	assert.Error(t, res.ProbeErr)
	assert.Equal(t, 0.0, res.Duration)
	assert.NotEmpty(t, res.AudioPath)
	assert.Len(t, res.Frames, 3)
}

func TestExtractAllFailuresStillReturn(t *testing.T) {
	e := newTestExtractor(t, &stubRunner{failProbe: true, failAudio: true, failFrames: true})
	res, err := e.Extract(context.Background(), "/videos/broken.mp4", "src-4", 5)
	require.NoError(t, err, "extraction is best-effort per output, never all-or-nothing")

	assert.Error(t, res.ProbeErr)
	assert.Error(t, res.AudioErr)
	assert.Error(t, res.FramesErr)
	assert.Empty(t, res.AudioPath)
	assert.Empty(t, res.Frames)
}

func TestEnumerateFramesSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00001.jpg"), []byte("jpg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00002.jpg"), []byte("jpg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	frames, err := EnumerateFrames(dir, 5)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, 0.0, frames[0].TimestampSec)
	assert.Equal(t, 5.0, frames[1].TimestampSec)
}
