// Package vectorstore implements C3, a durable named collection of
// (id, vector, payload) backed by an external vector index. The interface
// shape follows the transport-agnostic Store contract used across the
// example pack. Two Clients exist: MemoryClient (in-process, used when no
// vector endpoint is configured or the Redis dial fails) and RedisClient,
// which keeps vectors in plain Redis keys and scores them locally by cosine
// similarity; neither uses Redis's vector search module.
package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"codeintel.dev/codeerr"
)

// Payload is the opaque scalar/string-array mapping attached to a vector,
// used for post-hoc filtering.
type Payload map[string]interface{}

// Match is one ranked result from Search.
type Match struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter is the subset of §4.5's filter language VectorStore understands
// natively; KnowledgeBase applies anything this can't express post-hoc.
type Filter struct {
	KindIn       []string
	TagsContains string
	Language     string
}

// Client is the narrow contract VectorStore needs from a concrete backend.
// A Redis-backed client and an in-memory client both satisfy it.
type Client interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection, id string, vector []float32, payload Payload) error
	Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Match, error)
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection, id string) (Payload, bool, error)
	Ping(ctx context.Context) error
}

// VectorStore is C3. It wraps a Client and tracks a degraded flag so callers
// (C5) can treat connectivity loss as a non-fatal signal rather than an
// error on every call.
type VectorStore struct {
	client Client
	log    *logrus.Logger

	mu       sync.RWMutex
	degraded bool
	dims     map[string]int
}

// New constructs a VectorStore over client.
func New(client Client, log *logrus.Logger) *VectorStore {
	return &VectorStore{client: client, log: log, dims: make(map[string]int)}
}

// Initialize ensures collectionName exists with the given dimension. Per
// §4.3, failure here downgrades to degraded mode rather than failing
// server startup. KnowledgeBase consults Degraded() in its Status and
// Sweep; its other calls go to the backend and surface vector-unavailable
// errors when it is down.
func (vs *VectorStore) Initialize(ctx context.Context, collectionName string, dim int) error {
	if err := vs.EnsureCollection(ctx, collectionName, dim); err != nil {
		vs.log.WithError(err).WithField("collection", collectionName).
			Warn("vector store unreachable at startup; starting in degraded mode")
		vs.setDegraded(true)
		return nil
	}
	return nil
}

// closer is implemented by Client backends that hold a live connection
// (RedisClient); MemoryClient does not need it.
type closer interface {
	Close() error
}

func (vs *VectorStore) Cleanup(ctx context.Context) error {
	if c, ok := vs.client.(closer); ok {
		return c.Close()
	}
	return nil
}

// Status returns nil when the backend answered the last health probe,
// or a vector-unavailable error otherwise.
func (vs *VectorStore) Status(ctx context.Context) error {
	if err := vs.client.Ping(ctx); err != nil {
		vs.setDegraded(true)
		return codeerr.Wrap(codeerr.VectorUnavailable, "vector index unreachable", err)
	}
	vs.setDegraded(false)
	return nil
}

// Degraded reports whether the last known state of the backend was
// unreachable.
func (vs *VectorStore) Degraded() bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.degraded
}

func (vs *VectorStore) setDegraded(v bool) {
	vs.mu.Lock()
	vs.degraded = v
	vs.mu.Unlock()
}

// EnsureCollection is idempotent; a dimension mismatch against a collection
// already ensured through this VectorStore fails with vector-schema-mismatch.
// A dimension the backend recorded in an earlier process is not compared.
func (vs *VectorStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	vs.mu.RLock()
	existing, ok := vs.dims[name]
	vs.mu.RUnlock()
	if ok && existing != dim {
		return codeerr.New(codeerr.VectorSchemaMismatch, "collection exists with a different dimension")
	}
	if err := vs.client.EnsureCollection(ctx, name, dim); err != nil {
		vs.setDegraded(true)
		return codeerr.Wrap(codeerr.VectorUnavailable, "ensuring collection", err)
	}
	vs.mu.Lock()
	vs.dims[name] = dim
	vs.mu.Unlock()
	vs.setDegraded(false)
	return nil
}

// Upsert creates or replaces the vector and payload for id.
func (vs *VectorStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload Payload) error {
	if err := vs.client.Upsert(ctx, collection, id, vector, payload); err != nil {
		vs.setDegraded(true)
		return codeerr.Wrap(codeerr.VectorUnavailable, "upserting vector", err)
	}
	vs.setDegraded(false)
	return nil
}

// Search returns up to k matches ordered by descending score, ties broken
// by id for stability.
func (vs *VectorStore) Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Match, error) {
	matches, err := vs.client.Search(ctx, collection, vector, k, filter)
	if err != nil {
		vs.setDegraded(true)
		return nil, codeerr.Wrap(codeerr.VectorUnavailable, "searching vector index", err)
	}
	vs.setDegraded(false)
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete is idempotent: deleting a missing id is not an error.
func (vs *VectorStore) Delete(ctx context.Context, collection, id string) error {
	if err := vs.client.Delete(ctx, collection, id); err != nil {
		vs.setDegraded(true)
		return codeerr.Wrap(codeerr.VectorUnavailable, "deleting vector", err)
	}
	vs.setDegraded(false)
	return nil
}

// Get returns the payload for id, or ok=false if absent.
func (vs *VectorStore) Get(ctx context.Context, collection, id string) (Payload, bool, error) {
	payload, ok, err := vs.client.Get(ctx, collection, id)
	if err != nil {
		vs.setDegraded(true)
		return nil, false, codeerr.Wrap(codeerr.VectorUnavailable, "fetching vector payload", err)
	}
	vs.setDegraded(false)
	return payload, ok, nil
}

// CosineSimilarity is the scoring function shared by MemoryClient and
// RedisClient. It returns 0 for vectors of different length, empty
// vectors, or a zero vector.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
