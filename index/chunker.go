// Package index converts enrichment output into embedded, metadata-
// tagged chunks ready for vector storage.
package index

import (
	"strings"

	"videoIndex/core"

	"videoIndex/enrich"
)

// DefaultCharBudget bounds the length of a transcript chunk.
const DefaultCharBudget = 500

// sentence-ending punctuation, ASCII and CJK.
const sentenceEnders = ".!?。！？"

// SplitTranscript splits each segment's text at sentence boundaries
// into chunks no longer than budget characters. Sentences accumulate
// until the budget would be exceeded; a chunk never splits mid-sentence
// unless a single sentence alone exceeds the budget, in which case it
// is hard-split. Chunk timestamps are interpolated inside the parent
// segment proportionally to character offsets.
func SplitTranscript(segments []core.Segment, budget int) []core.Segment {
	if budget <= 0 {
		budget = DefaultCharBudget
	}
	out := make([]core.Segment, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		pieces := packSentences(splitSentences(text), budget)
		total := len(text)
		offset := 0
		segDur := seg.End - seg.Start
		for _, piece := range pieces {
			startFrac := float64(offset) / float64(total)
			offset += len(piece)
			endFrac := float64(offset) / float64(total)
			if endFrac > 1 {
				endFrac = 1
			}
			out = append(out, core.Segment{
				Start: seg.Start + segDur*startFrac,
				End:   seg.Start + segDur*endFrac,
				Text:  strings.TrimSpace(piece),
			})
		}
	}
	return out
}

// splitSentences cuts text after sentence-ending punctuation, keeping
// the punctuation attached to its sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if strings.ContainsRune(sentenceEnders, r) {
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// packSentences greedily accumulates sentences into budget-bounded
// chunks. Oversized single sentences are hard-split at the budget.
func packSentences(sentences []string, budget int) []string {
	var chunks []string
	var current strings.Builder
	for _, sentence := range sentences {
		if len(sentence) > budget {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, hardSplit(sentence, budget)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(sentence) > budget {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func hardSplit(sentence string, budget int) []string {
	var parts []string
	runes := []rune(sentence)
	var current strings.Builder
	for _, r := range runes {
		current.WriteRune(r)
		if current.Len() >= budget {
			parts = append(parts, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// DropInvalidDescription reports whether a frame description must be
// discarded before indexing: empty text or an error marker from a
// failed captioning call.
func DropInvalidDescription(description string) bool {
	text := strings.TrimSpace(description)
	if text == "" {
		return true
	}
	if strings.HasPrefix(text, enrich.ErrorPrefix) {
		return true
	}
	if strings.HasPrefix(text, "Analysis failed") {
		return true
	}
	return false
}
