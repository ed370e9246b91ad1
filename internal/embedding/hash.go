package embedding

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"math"
	"strings"
)

// HashEngine produces deterministic pseudo-embeddings derived from an MD5
// digest of the text plus a few coarse lexical features. The same text always
// maps to the same vector, so cosine ranking is stable and exact duplicates
// score 1.0. It needs no network or credentials, which makes it the default
// for development and the fixture engine for tests.
type HashEngine struct {
	dimensions int
}

// NewHashEngine creates a hash-based embedding engine.
func NewHashEngine(dimensions int) *HashEngine {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEngine{dimensions: dimensions}
}

// Name returns the engine identifier.
func (e *HashEngine) Name() string { return "hash" }

// Dimensions returns the vector size.
func (e *HashEngine) Dimensions() int { return e.dimensions }

// Embed returns the deterministic embedding for text.
func (e *HashEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

// EmbedBatch embeds each text independently.
func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = e.vector(t)
	}
	return vectors, nil
}

// vector expands the MD5 digest of the normalized text into the requested
// number of dimensions, mixes in word-level digests so that texts sharing
// vocabulary land closer together, and L2-normalizes the result.
func (e *HashEngine) vector(text string) []float32 {
	normalized := strings.ToLower(strings.TrimSpace(text))
	v := make([]float32, e.dimensions)

	fillFromDigest(v, md5.Sum([]byte(normalized)), 1.0)

	words := strings.Fields(normalized)
	for _, w := range words {
		fillFromDigest(v, md5.Sum([]byte(w)), 0.5)
	}

	// Coarse length features keep very different texts apart even when
	// their digests happen to collide on some dimensions.
	if e.dimensions >= 3 {
		v[0] += float32(len(normalized)) / 1000.0
		v[1] += float32(len(words)) / 100.0
		v[2] += float32(strings.Count(normalized, ".")) / 10.0
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}

	return v
}

// fillFromDigest spreads a 16-byte digest across the vector with the given weight.
func fillFromDigest(v []float32, digest [16]byte, weight float32) {
	for i := range v {
		// Rotate through the digest in 4-byte windows, reseeding with the
		// dimension index so each dimension gets a distinct value.
		off := (i * 4) % (len(digest) - 3)
		raw := binary.LittleEndian.Uint32(digest[off : off+4])
		raw ^= uint32(i) * 2654435761 // Knuth multiplicative hash
		// Map to [-1, 1)
		v[i] += weight * (float32(raw)/float32(math.MaxUint32)*2 - 1)
	}
}
