package enrich

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoIndex/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubTranscriber struct {
	segments []core.Segment
	err      error
	calls    atomic.Int32
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ string) ([]core.Segment, error) {
	s.calls.Add(1)
	return s.segments, s.err
}

type stubDescriber struct {
	// failAt holds frame paths whose captioning call should fail.
	failAt map[string]bool
	calls  atomic.Int32
}

func (s *stubDescriber) Describe(_ context.Context, framePath string) (string, error) {
	s.calls.Add(1)
	if s.failAt[framePath] {
		return "", errors.New("model overloaded")
	}
	return "a person at a desk", nil
}

func frames(paths ...string) []core.Frame {
	out := make([]core.Frame, len(paths))
	for i, p := range paths {
		out[i] = core.Frame{TimestampSec: float64(i * 5), Path: p}
	}
	return out
}

func TestEnrichJoinsBothModalities(t *testing.T) {
	asr := &stubTranscriber{segments: []core.Segment{
		{Start: 10, End: 20, Text: "second"},
		{Start: 0, End: 10, Text: "first"},
	}}
	vlm := &stubDescriber{}
	c := NewCoordinator(asr, vlm, 600000, testLogger())

	res := c.Enrich(context.Background(), "src-1", "/tmp/audio.wav", frames("f1.jpg", "f2.jpg"))

	require.Len(t, res.Segments, 2)
	assert.Equal(t, "first", res.Segments[0].Text, "segments come back ordered by start time")
	require.Len(t, res.Descriptions, 2)
	assert.Equal(t, int32(1), asr.calls.Load())
	assert.Equal(t, int32(2), vlm.calls.Load())
}

func TestEnrichSkipsAbsentInputs(t *testing.T) {
	asr := &stubTranscriber{}
	vlm := &stubDescriber{}
	c := NewCoordinator(asr, vlm, 600000, testLogger())

	res := c.Enrich(context.Background(), "src-2", "", nil)

	assert.Empty(t, res.Segments)
	assert.Empty(t, res.Descriptions)
	assert.Equal(t, int32(0), asr.calls.Load(), "no audio, no transcription call")
	assert.Equal(t, int32(0), vlm.calls.Load(), "no frames, no captioning call")
}

func TestEnrichAbsorbsTranscriptionFailure(t *testing.T) {
	asr := &stubTranscriber{err: errors.New("asr backend down")}
	vlm := &stubDescriber{}
	c := NewCoordinator(asr, vlm, 600000, testLogger())

	res := c.Enrich(context.Background(), "src-3", "/tmp/audio.wav", frames("f1.jpg"))

	assert.Empty(t, res.Segments)
	require.Len(t, res.Descriptions, 1, "captioning proceeds despite the failed transcript")
}

func TestDescribeFramesTagsPerFrameErrors(t *testing.T) {
	vlm := &stubDescriber{failAt: map[string]bool{"f2.jpg": true}}
	c := NewCoordinator(&stubTranscriber{}, vlm, 600000, testLogger())

	res := c.Enrich(context.Background(), "src-4", "", frames("f1.jpg", "f2.jpg", "f3.jpg"))

	require.Len(t, res.Descriptions, 3, "one bad frame never shortens the batch")
	assert.False(t, strings.HasPrefix(res.Descriptions[0].Description, ErrorPrefix))
	assert.True(t, strings.HasPrefix(res.Descriptions[1].Description, ErrorPrefix))
	assert.False(t, strings.HasPrefix(res.Descriptions[2].Description, ErrorPrefix))
	assert.Equal(t, 5.0, res.Descriptions[1].TimestampSec, "the tagged entry keeps its frame timestamp")
}

func TestDescribeFramesOrdersByTimestamp(t *testing.T) {
	vlm := &stubDescriber{}
	c := NewCoordinator(&stubTranscriber{}, vlm, 600000, testLogger())

	shuffled := []core.Frame{
		{TimestampSec: 10, Path: "f3.jpg"},
		{TimestampSec: 0, Path: "f1.jpg"},
		{TimestampSec: 5, Path: "f2.jpg"},
	}
	res := c.Enrich(context.Background(), "src-5", "", shuffled)

	require.Len(t, res.Descriptions, 3)
	assert.Equal(t, 0.0, res.Descriptions[0].TimestampSec)
	assert.Equal(t, 5.0, res.Descriptions[1].TimestampSec)
	assert.Equal(t, 10.0, res.Descriptions[2].TimestampSec)
}
