package core

import (
	"fmt"
	"time"
)

// ========== Source lifecycle ==========

type SourceStatus string

const (
	StatusImported   SourceStatus = "imported"
	StatusUploaded   SourceStatus = "uploaded"
	StatusProcessing SourceStatus = "processing"
	StatusAnalyzing  SourceStatus = "analyzing"
	StatusDone       SourceStatus = "done"
	StatusError      SourceStatus = "error"
)

// transitions lists the legal edges of the source state machine.
// Done and Error are stable, not terminal: re-entering Uploaded is the
// only way to (re)start the pipeline.
var transitions = map[SourceStatus][]SourceStatus{
	StatusImported:   {StatusUploaded},
	StatusUploaded:   {StatusProcessing, StatusError},
	StatusProcessing: {StatusAnalyzing, StatusError},
	StatusAnalyzing:  {StatusDone, StatusError},
	StatusDone:       {StatusUploaded},
	StatusError:      {StatusUploaded},
}

func (s SourceStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s SourceStatus) CanTransition(to SourceStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Source is one uploaded video and its processing state. Duration stays
// nil until the extraction stage reports it.
type Source struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	FilePath  string       `json:"file_path"`
	Duration  *float64     `json:"duration,omitempty"`
	Status    SourceStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ========== Pipeline-internal enrichment output ==========

type Frame struct {
	TimestampSec float64 `json:"timestamp_sec"`
	Path         string  `json:"path"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type FrameDescription struct {
	TimestampSec float64 `json:"timestamp_sec"`
	Description  string  `json:"description"`
	FramePath    string  `json:"frame_path"`
}

// ========== Indexed artifacts ==========

type Modality string

const (
	ModalityTranscript Modality = "transcript"
	ModalityVisual     Modality = "visual"
)

// Chunk is the atomic retrievable unit: one transcript sub-chunk or one
// surviving frame description, embedded and tagged. Chunks are never
// mutated; reprocessing deletes and re-inserts them wholesale.
type Chunk struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	Modality   Modality  `json:"modality"`
	Start      float64   `json:"start"`
	End        float64   `json:"end"`
	VideoTitle string    `json:"video_title"`
	Text       string    `json:"text"`
	FramePath  string    `json:"frame_path,omitempty"`
	Vector     []float32 `json:"-"`
}

// Hit is a ranked evidence snippet. Distance is cosine distance from
// the query vector; exactly 0.0 marks the fallback path where no
// similarity ranking happened.
type Hit struct {
	Text       string   `json:"text"`
	SourceID   string   `json:"source_id"`
	Modality   Modality `json:"type"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	VideoTitle string   `json:"video_title"`
	FramePath  string   `json:"frame_path,omitempty"`
	Distance   float64  `json:"distance"`
}

// FormatTimestamp renders seconds as MM:SS for citations.
func FormatTimestamp(seconds float64) string {
	minutes := int(seconds) / 60
	secs := int(seconds) % 60
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// Citation returns the citation-ready reference for chat consumers,
// e.g. "[Launch Review 03:15]".
func (h Hit) Citation() string {
	return fmt.Sprintf("[%s %s]", h.VideoTitle, FormatTimestamp(h.Start))
}

// ========== HTTP request/response shapes ==========

type CreateSourceRequest struct {
	VideoPath string `json:"video_path"`
	Title     string `json:"title"`
}

type SourceResponse struct {
	Source *Source `json:"source"`
}

type SearchRequest struct {
	Query     string   `json:"query"`
	SourceIDs []string `json:"source_ids,omitempty"`
	TopK      int      `json:"top_k"`
}

type SearchResponse struct {
	Query    string `json:"query"`
	Hits     []Hit  `json:"hits"`
	Fallback bool   `json:"fallback"`
}

type ContextBridgeRequest struct {
	SourceID          string   `json:"source_id"`
	TargetTimestamp   float64  `json:"target_timestamp"`
	PreviousTimestamp *float64 `json:"previous_timestamp,omitempty"`
}

type ContextBridgeResponse struct {
	SourceID string `json:"source_id"`
	Target   *Hit   `json:"target,omitempty"`
	Previous *Hit   `json:"previous,omitempty"`
}
