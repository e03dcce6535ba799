package enrich

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorPrefix tags a per-frame captioning failure. The chunker drops
// descriptions carrying this marker instead of indexing them.
const ErrorPrefix = "Error:"

// FrameDescriber produces a free-text scene description for one image.
type FrameDescriber interface {
	Describe(ctx context.Context, framePath string) (string, error)
}

// VisionDescriber calls an OpenAI-compatible vision chat endpoint with
// a fixed scene-description instruction.
type VisionDescriber struct {
	cli      *openai.Client
	model    string
	language string
	timeout  time.Duration
}

func NewVisionDescriber(cli *openai.Client, model, language string, timeout time.Duration) *VisionDescriber {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &VisionDescriber{cli: cli, model: model, language: language, timeout: timeout}
}

func (v *VisionDescriber) instruction() string {
	return fmt.Sprintf(
		"Describe this video frame: the scene, visible objects, any readable text, and the action taking place. Answer in %s, at most 100 words.",
		v.language)
}

func (v *VisionDescriber) Describe(ctx context.Context, framePath string) (string, error) {
	data, err := os.ReadFile(framePath)
	if err != nil {
		return "", fmt.Errorf("read frame: %w", err)
	}
	dataURL := "data:" + mimeForExt(framePath) + ";base64," + base64.StdEncoding.EncodeToString(data)

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: v.instruction()},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
		MaxTokens:   300,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("vision API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision API returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty description")
	}
	return text, nil
}

func mimeForExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

// MockDescriber returns a canned description, for offline runs.
type MockDescriber struct{}

func (MockDescriber) Describe(_ context.Context, framePath string) (string, error) {
	return fmt.Sprintf("Placeholder scene description for %s.", filepath.Base(framePath)), nil
}
