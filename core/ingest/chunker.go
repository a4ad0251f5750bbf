package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/siherrmann/newsgraph/core/embedding"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

// ChunkFunc splits an unsplit article into positioned chunks.
type ChunkFunc func(ctx context.Context, text string) ([]model.ChunkInput, error)

// splitSentences breaks text after '.', '!' and '?' followed by a space.
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "! ", "!|")
	text = strings.ReplaceAll(text, "? ", "?|")
	text = strings.ReplaceAll(text, ". ", ".|")

	var sentences []string
	for _, s := range strings.Split(text, "|") {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// SentenceChunker groups maxSentencesPerChunk sentences into one chunk.
func SentenceChunker(maxSentencesPerChunk int) ChunkFunc {
	return func(ctx context.Context, text string) ([]model.ChunkInput, error) {
		if maxSentencesPerChunk <= 0 {
			return nil, fmt.Errorf("max sentences per chunk must be positive")
		}

		sentences := splitSentences(text)
		chunks := []model.ChunkInput{}
		for start := 0; start < len(sentences); start += maxSentencesPerChunk {
			end := min(start+maxSentencesPerChunk, len(sentences))
			chunks = append(chunks, model.ChunkInput{
				Text:     strings.Join(sentences[start:end], " "),
				Position: len(chunks),
			})
		}
		return chunks, nil
	}
}

// ParagraphChunker creates one chunk per blank-line separated paragraph.
func ParagraphChunker() ChunkFunc {
	return func(ctx context.Context, text string) ([]model.ChunkInput, error) {
		chunks := []model.ChunkInput{}
		for _, para := range strings.Split(text, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			chunks = append(chunks, model.ChunkInput{Text: para, Position: len(chunks)})
		}
		return chunks, nil
	}
}

// SemanticChunker starts a new chunk where the next sentence drifts away from
// the running chunk (cosine similarity below threshold) or the chunk would
// exceed maxChunkSize characters.
func SemanticChunker(provider embedding.Provider, maxChunkSize int, threshold float64) ChunkFunc {
	return func(ctx context.Context, text string) ([]model.ChunkInput, error) {
		sentences := splitSentences(text)
		chunks := []model.ChunkInput{}
		if len(sentences) == 0 {
			return chunks, nil
		}

		embeddings := make([][]float32, len(sentences))
		for i, s := range sentences {
			vec, err := provider.Embed(ctx, s)
			if err != nil {
				return nil, helper.NewError("embed sentence", err)
			}
			embeddings[i] = vec
		}

		var current []string
		var centroid []float32
		length := 0
		flush := func() {
			chunks = append(chunks, model.ChunkInput{Text: strings.Join(current, " "), Position: len(chunks)})
			current, centroid, length = nil, nil, 0
		}

		for i, sentence := range sentences {
			if len(current) > 0 {
				drift := helper.CosineSimilarity(centroid, embeddings[i]) < threshold
				if drift || length+len(sentence) > maxChunkSize {
					flush()
				}
			}
			centroid = addToMean(centroid, embeddings[i], len(current))
			current = append(current, sentence)
			length += len(sentence)
		}
		flush()
		return chunks, nil
	}
}

// addToMean folds vec into the mean of n vectors.
func addToMean(mean []float32, vec []float32, n int) []float32 {
	if n == 0 || len(mean) != len(vec) {
		return append([]float32(nil), vec...)
	}
	for i := range mean {
		mean[i] = (mean[i]*float32(n) + vec[i]) / float32(n+1)
	}
	return mean
}
