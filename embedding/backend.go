package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/tmc/langchaingo/embeddings"
)

// LangchainBackend adapts a github.com/tmc/langchaingo embeddings.Embedder
// (OpenAI, local TEI servers, etc. all implement this interface) into our
// Backend contract. The embedding model itself is an external collaborator
// per the specification; this is the wiring layer.
type LangchainBackend struct {
	inner embeddings.Embedder
	dim   int
}

// NewLangchainBackend wraps inner, which must already be configured for
// dim-dimensional output.
func NewLangchainBackend(inner embeddings.Embedder, dim int) *LangchainBackend {
	return &LangchainBackend{inner: inner, dim: dim}
}

func (b *LangchainBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return b.inner.EmbedDocuments(ctx, texts)
}

func (b *LangchainBackend) Dim() int { return b.dim }

func (b *LangchainBackend) Warm(ctx context.Context) error {
	_, err := b.inner.EmbedDocuments(ctx, []string{"warm-up"})
	return err
}

// HashBackend is a deterministic, dependency-free backend; cmd/server always
// uses it, and tests use it too (no config setting selects LangchainBackend).
// It hashes n-grams into a fixed-width vector and L2-normalizes it, which is
// enough to exercise the rest of the pipeline (similarity ranking, caching,
// degraded-mode behavior) without a real model.
type HashBackend struct {
	dim int
}

// NewHashBackend returns a HashBackend producing dim-dimensional vectors.
func NewHashBackend(dim int) *HashBackend { return &HashBackend{dim: dim} }

func (b *HashBackend) Dim() int { return b.dim }

func (b *HashBackend) Warm(ctx context.Context) error { return nil }

func (b *HashBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = b.embedOne(t)
	}
	return out, nil
}

func (b *HashBackend) embedOne(text string) []float32 {
	vec := make([]float32, b.dim)
	words := tokenize(text)
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		idx := int(h.Sum32()) % b.dim
		if idx < 0 {
			idx += b.dim
		}
		vec[idx]++
	}
	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	var words []string
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			cur = append(cur, c)
		default:
			flush()
		}
	}
	flush()
	return words
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
