package vectorstore

import (
	"context"
	"strings"
	"sync"
)

// MemoryClient is an in-process Client implementation used for local
// development and tests, and as the fallback collection store so
// EnsureCollection/Get never panic even before a real backend is wired.
type MemoryClient struct {
	mu          sync.RWMutex
	collections map[string]map[string]entry
	dims        map[string]int
}

type entry struct {
	vector  []float32
	payload Payload
}

// NewMemoryClient returns an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		collections: make(map[string]map[string]entry),
		dims:        make(map[string]int),
	}
}

func (c *MemoryClient) EnsureCollection(ctx context.Context, name string, dim int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.collections[name]; !ok {
		c.collections[name] = make(map[string]entry)
		c.dims[name] = dim
	}
	return nil
}

func (c *MemoryClient) Upsert(ctx context.Context, collection, id string, vector []float32, payload Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	coll, ok := c.collections[collection]
	if !ok {
		coll = make(map[string]entry)
		c.collections[collection] = coll
	}
	coll[id] = entry{vector: vector, payload: payload}
	return nil
}

func (c *MemoryClient) Search(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Match, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	coll := c.collections[collection]
	matches := make([]Match, 0, len(coll))
	for id, e := range coll {
		if filter != nil && !matchesFilter(e.payload, filter) {
			continue
		}
		matches = append(matches, Match{ID: id, Score: CosineSimilarity(vector, e.vector), Payload: e.payload})
	}
	return matches, nil
}

func matchesFilter(p Payload, f *Filter) bool {
	if len(f.KindIn) > 0 {
		kind, _ := p["kind"].(string)
		found := false
		for _, k := range f.KindIn {
			if k == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Language != "" {
		lang, _ := p["language"].(string)
		if lang != f.Language {
			return false
		}
	}
	if f.TagsContains != "" {
		tags, _ := p["tags"].([]string)
		found := false
		for _, t := range tags {
			if strings.EqualFold(t, f.TagsContains) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *MemoryClient) Delete(ctx context.Context, collection, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if coll, ok := c.collections[collection]; ok {
		delete(coll, id)
	}
	return nil
}

func (c *MemoryClient) Get(ctx context.Context, collection, id string) (Payload, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	coll, ok := c.collections[collection]
	if !ok {
		return nil, false, nil
	}
	e, ok := coll[id]
	if !ok {
		return nil, false, nil
	}
	return e.payload, true, nil
}

func (c *MemoryClient) Ping(ctx context.Context) error { return nil }
