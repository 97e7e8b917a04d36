package knowledgebase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"codeintel.dev/cache"
	"codeintel.dev/codeerr"
	"codeintel.dev/embedding"
	"codeintel.dev/vectorstore"
)

// KnowledgeBase is C5.
type KnowledgeBase struct {
	embedder *embedding.Embedder
	vectors  *vectorstore.VectorStore
	cache    *cache.Cache
	sidecars *sidecarStore
	log      *logrus.Logger

	collection     string
	embeddingModel string

	kindKeysMu sync.Mutex
	kindKeys   map[Kind]map[string]bool
}

// New constructs a KnowledgeBase. kbDir is the root under which
// patterns/<id>.json sidecars live.
func New(embedder *embedding.Embedder, vectors *vectorstore.VectorStore, c *cache.Cache, kbDir, collection, embeddingModel string, log *logrus.Logger) (*KnowledgeBase, error) {
	sidecars, err := newSidecarStore(kbDir + "/patterns")
	if err != nil {
		return nil, err
	}
	return &KnowledgeBase{
		embedder:       embedder,
		vectors:        vectors,
		cache:          c,
		sidecars:       sidecars,
		log:            log,
		collection:     collection,
		embeddingModel: embeddingModel,
		kindKeys:       make(map[Kind]map[string]bool),
	}, nil
}

// Initialize runs Sweep once at startup. Sidecars are the source of truth
// for Search/Get hydration; see Sweep for what the startup check covers.
func (kb *KnowledgeBase) Initialize(ctx context.Context) error {
	return kb.Sweep(ctx)
}

func (kb *KnowledgeBase) Cleanup(ctx context.Context) error { return nil }

func (kb *KnowledgeBase) Status(ctx context.Context) error {
	if kb.vectors.Degraded() {
		return codeerr.New(codeerr.VectorUnavailable, "vector store degraded")
	}
	return nil
}

// Sweep logs a warning for every sidecar that has no vector; it deletes
// nothing. Vectors whose sidecar is missing are not found or removed here.
// It is best-effort: a vector store that is itself degraded simply skips
// the sweep rather than failing startup.
func (kb *KnowledgeBase) Sweep(ctx context.Context) error {
	if kb.vectors.Degraded() {
		return nil
	}
	ids, err := kb.sidecars.List()
	if err != nil {
		return err
	}
	// The vector store doesn't expose a collection-wide list operation
	// (§4.3 names only id-keyed Get/Upsert/Delete); a sidecar-pointed
	// vector for every known id is all this sweep can confirm. A vector with
	// no sidecar stays in the store; hydrate drops any search match whose
	// sidecar read misses, so it never reaches a caller.
	for _, id := range ids {
		if _, ok, err := kb.vectors.Get(ctx, kb.collection, id); err == nil && !ok {
			kb.log.WithField("pattern_id", id).Warn("sidecar with no matching vector; leaving for re-index")
		}
	}
	return nil
}

// Index assigns an id if absent, embeds title+body, upserts into the
// vector store, and persists a sidecar. The sidecar is written first; on
// embed/upsert failure it is rolled back so a Pattern is never visible
// without exactly one vector.
func (kb *KnowledgeBase) Index(ctx context.Context, p Pattern) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if err := kb.sidecars.Write(p); err != nil {
		return "", codeerr.Wrap(codeerr.IndexFailed, "writing sidecar", err)
	}

	if err := kb.embedAndUpsert(ctx, p); err != nil {
		_ = kb.sidecars.Delete(p.ID)
		return "", err
	}

	kb.invalidateKind(p.Kind)
	return p.ID, nil
}

func (kb *KnowledgeBase) embedAndUpsert(ctx context.Context, p Pattern) error {
	vecs, err := kb.embedCached(ctx, p.Title+"\n"+p.Body)
	if err != nil {
		return codeerr.Wrap(codeerr.IndexFailed, "embedding pattern", err)
	}
	payload := vectorstore.Payload{
		"kind":       string(p.Kind),
		"tags":       p.Tags,
		"language":   p.Language,
		"updated_at": p.UpdatedAt.Format(time.RFC3339),
	}
	if err := kb.vectors.Upsert(ctx, kb.collection, p.ID, vecs, payload); err != nil {
		return codeerr.Wrap(codeerr.IndexFailed, "upserting pattern vector", err)
	}
	return nil
}

func (kb *KnowledgeBase) embedCached(ctx context.Context, text string) ([]float32, error) {
	key := fmt.Sprintf("embed:%s:%s", kb.embeddingModel, hashText(text))
	if raw, ok := kb.cache.Get(key); ok {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil {
			return vec, nil
		}
	}
	vecs, err := kb.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vec := vecs[0]
	if raw, err := json.Marshal(vec); err == nil {
		kb.cache.Set(key, raw, nil)
	}
	return vec, nil
}

func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Get reads the sidecar record for id.
func (kb *KnowledgeBase) Get(ctx context.Context, id string) (*Pattern, error) {
	p, ok, err := kb.sidecars.Read(id)
	if err != nil {
		return nil, codeerr.Wrap(codeerr.InternalError, "reading sidecar", err)
	}
	if !ok {
		return nil, codeerr.New(codeerr.NotFound, "pattern not found")
	}
	return &p, nil
}

// Update merges mutable fields. If title or body changed it re-embeds;
// otherwise it rewrites the payload with the vector from the embedding
// cache, embedding the unchanged text again only on a cache miss.
func (kb *KnowledgeBase) Update(ctx context.Context, id string, fields map[string]interface{}) (*Pattern, error) {
	existing, ok, err := kb.sidecars.Read(id)
	if err != nil {
		return nil, codeerr.Wrap(codeerr.InternalError, "reading sidecar", err)
	}
	if !ok {
		return nil, codeerr.New(codeerr.NotFound, "pattern not found")
	}

	textChanged := false
	if v, ok := fields["title"].(string); ok && v != existing.Title {
		existing.Title = v
		textChanged = true
	}
	if v, ok := fields["body"].(string); ok && v != existing.Body {
		existing.Body = v
		textChanged = true
	}
	if v, ok := fields["tags"].([]string); ok {
		existing.Tags = v
	}
	if v, ok := fields["language"].(string); ok {
		existing.Language = v
	}
	existing.UpdatedAt = time.Now()

	if err := kb.sidecars.Write(existing); err != nil {
		return nil, codeerr.Wrap(codeerr.InternalError, "rewriting sidecar", err)
	}

	if textChanged {
		if err := kb.embedAndUpsert(ctx, existing); err != nil {
			return nil, err
		}
	} else {
		payload := vectorstore.Payload{
			"kind":       string(existing.Kind),
			"tags":       existing.Tags,
			"language":   existing.Language,
			"updated_at": existing.UpdatedAt.Format(time.RFC3339),
		}
		if vec, err := kb.currentVector(ctx, existing); err == nil {
			_ = kb.vectors.Upsert(ctx, kb.collection, existing.ID, vec, payload)
		}
	}

	kb.invalidateKind(existing.Kind)
	return &existing, nil
}

func (kb *KnowledgeBase) currentVector(ctx context.Context, p Pattern) ([]float32, error) {
	return kb.embedCached(ctx, p.Title+"\n"+p.Body)
}

// Delete removes the sidecar then the vector, so a crash between the two
// leaves at most an orphan vector, never a dangling sidecar pointing at a
// missing vector. Such an orphan vector is not deleted later; Search drops
// it from results because its sidecar is missing.
func (kb *KnowledgeBase) Delete(ctx context.Context, id string) error {
	existing, ok, err := kb.sidecars.Read(id)
	if err != nil {
		return codeerr.Wrap(codeerr.InternalError, "reading sidecar", err)
	}
	if !ok {
		return nil
	}
	if err := kb.sidecars.Delete(id); err != nil {
		return codeerr.Wrap(codeerr.InternalError, "deleting sidecar", err)
	}
	_ = kb.vectors.Delete(ctx, kb.collection, id)
	kb.invalidateKind(existing.Kind)
	return nil
}

// Search embeds query_text, delegates to the vector store, hydrates
// sidecars, and drops results whose sidecar is missing (orphan vector).
func (kb *KnowledgeBase) Search(ctx context.Context, queryText string, k int, filter *Filter) ([]Scored, error) {
	cacheKey := searchCacheKey(queryText, k, filter)
	if raw, ok := kb.cache.Get(cacheKey); ok {
		var cached []Scored
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	vec, err := kb.embedCached(ctx, queryText)
	if err != nil {
		return nil, err
	}

	vsFilter := toVectorStoreFilter(filter)
	matches, err := kb.vectors.Search(ctx, kb.collection, vec, k, vsFilter)
	if err != nil {
		if codeerr.Is(err, codeerr.VectorUnavailable) {
			return nil, nil // degraded mode: empty results, not an error
		}
		return nil, err
	}

	results := kb.hydrate(matches, filter)

	if raw, err := json.Marshal(results); err == nil {
		kb.cache.Set(cacheKey, raw, nil)
	}
	kb.trackCacheKey(cacheKey, filter)
	return results, nil
}

// trackCacheKey remembers which kinds a search cache entry depends on, so
// invalidateKind can find it later. A filter naming no kinds depends on
// every kind (an unfiltered search mixes all of them).
func (kb *KnowledgeBase) trackCacheKey(key string, filter *Filter) {
	kb.kindKeysMu.Lock()
	defer kb.kindKeysMu.Unlock()
	kinds := []Kind{KindCode, KindADR, KindDoc, KindDebugNote}
	if filter != nil && len(filter.KindIn) > 0 {
		kinds = filter.KindIn
	}
	for _, kind := range kinds {
		if kb.kindKeys[kind] == nil {
			kb.kindKeys[kind] = make(map[string]bool)
		}
		kb.kindKeys[kind][key] = true
	}
}

// SimilarTo searches using the stored vector for id instead of a fresh
// query embedding.
func (kb *KnowledgeBase) SimilarTo(ctx context.Context, id string, k int) ([]Scored, error) {
	p, err := kb.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return kb.Search(ctx, p.Title+"\n"+p.Body, k, nil)
}

func (kb *KnowledgeBase) hydrate(matches []vectorstore.Match, filter *Filter) []Scored {
	out := make([]Scored, 0, len(matches))
	for _, m := range matches {
		p, ok, err := kb.sidecars.Read(m.ID)
		if err != nil || !ok {
			continue // orphan vector; dropped per §4.5
		}
		if filter != nil && !postHocMatch(p, filter) {
			continue
		}
		out = append(out, Scored{Pattern: p, Score: m.Score})
	}
	return out
}

func postHocMatch(p Pattern, f *Filter) bool {
	if f.UpdatedAfter != nil && p.UpdatedAt.Before(*f.UpdatedAfter) {
		return false
	}
	return true
}

func toVectorStoreFilter(f *Filter) *vectorstore.Filter {
	if f == nil {
		return nil
	}
	vf := &vectorstore.Filter{TagsContains: f.TagsContains, Language: f.Language}
	for _, k := range f.KindIn {
		vf.KindIn = append(vf.KindIn, string(k))
	}
	return vf
}

func searchCacheKey(queryText string, k int, filter *Filter) string {
	var b strings.Builder
	b.WriteString("search:")
	b.WriteString(hashText(queryText))
	fmt.Fprintf(&b, ":%d", k)
	if filter != nil {
		fmt.Fprintf(&b, ":%v", *filter)
	}
	return b.String()
}

// invalidateKind invalidates every cached query result that depended on
// kind, per the kind-prefix invalidation policy the specification's Open
// Question decided in favor of (coarse but correct: a mutation of any
// pattern of kind K invalidates all query caches tagged K, not just the
// one id that changed).
func (kb *KnowledgeBase) invalidateKind(kind Kind) {
	kb.kindKeysMu.Lock()
	keys := kb.kindKeys[kind]
	delete(kb.kindKeys, kind)
	kb.kindKeysMu.Unlock()
	for key := range keys {
		kb.cache.Invalidate(key)
	}
}
