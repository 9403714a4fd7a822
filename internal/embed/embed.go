// Package embed provides the deterministic embedding provider contract:
// given text, return a unit-normalized vector plus the resolved model
// identifier that produced it.
package embed

import (
	"crypto/sha256"
	"math"
	"regexp"
	"strings"
)

// Embedder computes a vector embedding for a string under a named model.
type Embedder interface {
	// Embed returns a unit-normalized vector for text, or the all-zero
	// vector if text is empty.
	Embed(text string) []float64
	// ModelName is the resolved model identifier stored alongside every
	// vector this embedder produces.
	ModelName() string
	// Dimensions is the length of vectors this embedder produces.
	Dimensions() int
}

const (
	// TokenHashModel is the identifier of the default deterministic
	// embedding provider.
	TokenHashModel    = "token-hash-v1"
	tokenHashDimension = 64
)

var tokenRE = regexp.MustCompile(`[a-z0-9]+`)

// TokenHashEmbedder is the dependency-free default: it hashes each
// lowercased token of length >= 2 into one of Dimensions buckets and
// L2-normalizes the result.
type TokenHashEmbedder struct {
	dimensions int
}

// NewTokenHashEmbedder returns the default 64-dimension token-hash
// embedder.
func NewTokenHashEmbedder() *TokenHashEmbedder {
	return &TokenHashEmbedder{dimensions: tokenHashDimension}
}

func (e *TokenHashEmbedder) ModelName() string { return TokenHashModel }
func (e *TokenHashEmbedder) Dimensions() int    { return e.dimensions }

// Embed tokenizes the lowercased text on [a-z0-9]+, keeps tokens of length
// >= 2 as a set, buckets each by the first two bytes of its SHA-256 digest
// modulo Dimensions, and L2-normalizes the resulting vector.
func (e *TokenHashEmbedder) Embed(text string) []float64 {
	vec := make([]float64, e.dimensions)
	if strings.TrimSpace(text) == "" {
		return vec
	}

	tokens := map[string]struct{}{}
	for _, tok := range tokenRE.FindAllString(strings.ToLower(text), -1) {
		if len(tok) >= 2 {
			tokens[tok] = struct{}{}
		}
	}
	if len(tokens) == 0 {
		return vec
	}

	for tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		bucket := int(uint16(sum[0])<<8|uint16(sum[1])) % e.dimensions
		vec[bucket]++
	}

	return normalize(vec)
}

// normalize L2-normalizes v in place, returning the zero vector unchanged.
func normalize(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// CosineSimilarity returns the dot product of two equal-length unit
// vectors, or 0 if the lengths differ or either is empty.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}
