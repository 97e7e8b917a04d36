package docmanager

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"codeintel.dev/cache"
	"codeintel.dev/embedding"
	"codeintel.dev/knowledgebase"
	"codeintel.dev/vectorstore"
)

// fakeFetcher serves canned responses keyed by URL, counting calls so tests
// can assert retry behavior without a real network dependency.
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	plan  map[string][]fakeResponse
}

type fakeResponse struct {
	status int
	body   string
}

func newFakeFetcher(plan map[string][]fakeResponse) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), plan: plan}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	responses := f.plan[url]
	i := f.calls[url]
	f.calls[url]++
	if i >= len(responses) {
		i = len(responses) - 1
	}
	r := responses[i]
	return r.status, []byte(r.body), nil
}

func newTestManager(t *testing.T, fetcher Fetcher) *Manager {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)

	c, err := cache.New(cache.Config{MemBudgetBytes: 1 << 20, DiskBudgetBytes: 1 << 20, DiskDir: t.TempDir()}, log)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))

	backend := embedding.NewHashBackend(16)
	embedder, err := embedding.New(backend, 16, log)
	require.NoError(t, err)
	require.NoError(t, embedder.Initialize(context.Background()))

	vs := vectorstore.New(vectorstore.NewMemoryClient(), log)
	require.NoError(t, vs.Initialize(context.Background(), "patterns", 16))

	kb, err := knowledgebase.New(embedder, vs, c, t.TempDir(), "patterns", "hash-16", log)
	require.NoError(t, err)

	return New(kb, fetcher, Config{MaxInFlight: 2}, log)
}

func TestCrawlIndexesNewContent(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]fakeResponse{
		"http://example.com/a": {{status: 200, body: "hello world"}},
	})
	m := newTestManager(t, fetcher)

	results, err := m.Crawl(context.Background(), []string{"http://example.com/a"}, "wiki")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Indexed)
	require.NotEmpty(t, results[0].PatternID)
}

func TestCrawlSkipsUnchangedContent(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]fakeResponse{
		"http://example.com/a": {{status: 200, body: "same"}, {status: 200, body: "same"}},
	})
	m := newTestManager(t, fetcher)

	_, err := m.Crawl(context.Background(), []string{"http://example.com/a"}, "wiki")
	require.NoError(t, err)

	results, err := m.Crawl(context.Background(), []string{"http://example.com/a"}, "wiki")
	require.NoError(t, err)
	require.True(t, results[0].Skipped)
}

func TestCrawlAbandonsOn4xx(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]fakeResponse{
		"http://example.com/missing": {{status: 404, body: ""}},
	})
	m := newTestManager(t, fetcher)

	results, err := m.Crawl(context.Background(), []string{"http://example.com/missing"}, "wiki")
	require.NoError(t, err)
	require.Error(t, results[0].Err)
	require.False(t, results[0].Indexed)
}
