// Package embedding implements C2, the text-to-vector component. It wraps a
// pluggable model backend (grounded on the langchaingo embeddings interface)
// behind a small synchronous contract with batching and a warm-up pass.
package embedding

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"codeintel.dev/codeerr"
)

// maxBatch bounds how many texts are sent to the backend in one call.
const maxBatch = 32

// Backend produces raw embeddings for a batch of texts. A production backend
// wraps a langchaingo embeddings.Embedder or a remote model HTTP client;
// tests supply a deterministic fake.
type Backend interface {
	// EmbedBatch returns one vector per text, in order, or an error if the
	// model cannot be reached or fails.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dim returns the fixed dimensionality the backend produces.
	Dim() int
	// Warm performs whatever one-time initialization the backend needs
	// (loading weights, opening a connection) so the first real Embed call
	// isn't slower than the rest.
	Warm(ctx context.Context) error
}

// Embedder is C2: Text -> fixed-dimension vector, with batching and warm-up.
type Embedder struct {
	backend Backend
	dim     int
	log     *logrus.Logger

	mu     sync.Mutex
	warmed bool
}

// New constructs an Embedder over backend. The configured dim must match
// backend.Dim(); mismatches are caught at Initialize.
func New(backend Backend, configuredDim int, log *logrus.Logger) (*Embedder, error) {
	if backend.Dim() != configuredDim {
		return nil, codeerr.New(codeerr.ConfigInvalid, "embedding_dim does not match backend dimensionality")
	}
	return &Embedder{backend: backend, dim: configuredDim, log: log}, nil
}

// Initialize warms the backend. Failure here is embedder-unavailable, which
// the caller (cmd/server) treats as fatal unless strict_mode is off and a
// degraded start is acceptable for this deployment.
func (e *Embedder) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.warmed {
		return nil
	}
	if err := e.backend.Warm(ctx); err != nil {
		return codeerr.Wrap(codeerr.EmbedderUnavailable, "warming embedding backend", err)
	}
	e.warmed = true
	return nil
}

// Cleanup is a no-op; the backend owns any connection it opened and closes
// it on process exit via its own lifecycle if it has one.
func (e *Embedder) Cleanup(ctx context.Context) error { return nil }

// Status reports whether Initialize warmed the backend successfully; it
// does not probe the backend again.
func (e *Embedder) Status(ctx context.Context) error {
	e.mu.Lock()
	warmed := e.warmed
	e.mu.Unlock()
	if !warmed {
		return codeerr.New(codeerr.EmbedderUnavailable, "embedder not warmed")
	}
	return nil
}

// Dim returns the configured vector dimension.
func (e *Embedder) Dim() int { return e.dim }

// Embed embeds texts, preserving input order, chunking into batches of at
// most maxBatch for throughput. Safe for concurrent callers; the backend is
// responsible for any internal serialization it needs.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := e.backend.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, codeerr.Wrap(codeerr.EmbedderUnavailable, "embedding batch", err)
		}
		if len(chunk) != end-start {
			return nil, codeerr.New(codeerr.EmbedderUnavailable, "backend returned a mismatched batch size")
		}
		out = append(out, chunk...)
	}
	return out, nil
}
