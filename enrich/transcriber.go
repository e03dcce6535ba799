// Package enrich turns extracted audio and frames into timestamped
// text: transcript segments from speech-to-text and scene descriptions
// from a vision-language provider. Providers are capability interfaces
// selected by configuration, never by branching inside pipeline logic.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoIndex/core"
)

// Transcriber converts an audio file into ordered transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]core.Segment, error)
}

// WhisperTranscriber calls an OpenAI-compatible transcription endpoint.
type WhisperTranscriber struct {
	cli      *openai.Client
	model    string
	language string
	timeout  time.Duration
}

func NewWhisperTranscriber(cli *openai.Client, model, language string, timeout time.Duration) *WhisperTranscriber {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &WhisperTranscriber{cli: cli, model: model, language: language, timeout: timeout}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) ([]core.Segment, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	// verbose_json keeps the model's segment timestamps; downstream
	// only needs segment granularity, not word-level.
	resp, err := w.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Language: w.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription API: %w", err)
	}

	if len(resp.Segments) > 0 {
		segs := make([]core.Segment, 0, len(resp.Segments))
		for _, s := range resp.Segments {
			text := strings.TrimSpace(s.Text)
			if text == "" {
				continue
			}
			segs = append(segs, core.Segment{Start: s.Start, End: s.End, Text: text})
		}
		return segs, nil
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, nil
	}
	return []core.Segment{{Start: 0, End: resp.Duration, Text: text}}, nil
}

// MockTranscriber produces placeholder segments for offline runs.
type MockTranscriber struct {
	SegmentLen float64
	TotalSec   float64
}

func (m MockTranscriber) Transcribe(_ context.Context, _ string) ([]core.Segment, error) {
	segLen := m.SegmentLen
	if segLen <= 0 {
		segLen = 15.0
	}
	total := m.TotalSec
	if total <= 0 {
		total = 60.0
	}
	segs := make([]core.Segment, 0)
	for start := 0.0; start < total; start += segLen {
		end := start + segLen
		if end > total {
			end = total
		}
		segs = append(segs, core.Segment{
			Start: start,
			End:   end,
			Text:  fmt.Sprintf("Placeholder transcript from %.0fs to %.0fs.", start, end),
		})
	}
	return segs, nil
}
