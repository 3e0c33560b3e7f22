package intent

import (
	"context"
	"hash/fnv"
	"math"
)

// hashDims is the embedding dimensionality. 256 buckets keep stored
// vectors small while collisions stay rare for question-length text.
const hashDims = 256

// HashEmbedder is a feature-hashing character-bigram vectorizer. The
// history matcher only needs to recognize near-duplicate questions at a
// high similarity threshold, which hashed n-grams handle without an
// external embedding service.
type HashEmbedder struct{}

// NewHashEmbedder creates an embedder.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

// Embed returns an L2-normalized hashed-bigram vector for the text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashDims)
	runes := []rune(text)
	if len(runes) == 0 {
		return vec, nil
	}

	for i := 0; i < len(runes); i++ {
		end := i + 2
		if end > len(runes) {
			end = len(runes)
		}
		h := fnv.New32a()
		h.Write([]byte(string(runes[i:end])))
		vec[h.Sum32()%hashDims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
