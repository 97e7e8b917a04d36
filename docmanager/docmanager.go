// Package docmanager implements C7: given a list of source URLs and a
// source_type tag, fetch each URL, compute a content hash, and forward new
// (url, hash) pairs to the KnowledgeBase as kind=doc Patterns. Concurrency
// is bounded (default 4 in-flight fetches), grounded on the teacher's
// golang.org/x/time/rate usage in http/server.go; retries use
// cenkalti/backoff/v4's exponential backoff, also a teacher dependency.
package docmanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"codeintel.dev/knowledgebase"
)

// defaultMaxInFlight is §4.7's "bounded in-flight requests (default 4)".
const defaultMaxInFlight = 4

// Fetcher retrieves raw bytes for a URL. The production implementation is
// an *http.Client; tests supply a fake.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

// httpFetcher is the default Fetcher, a thin net/http wrapper.
type httpFetcher struct {
	client *http.Client
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// NewHTTPFetcher returns the default net/http-backed Fetcher with timeout.
func NewHTTPFetcher(timeout time.Duration) Fetcher {
	return &httpFetcher{client: &http.Client{Timeout: timeout}}
}

// seenEntry records the (url, hash) pairs already indexed, satisfying §3's
// "re-crawl with same hash is a no-op" invariant.
type seenEntry struct {
	hash string
}

// Manager is C7.
type Manager struct {
	kb      *knowledgebase.KnowledgeBase
	fetcher Fetcher
	log     *logrus.Logger

	maxInFlight int

	mu   sync.Mutex
	seen map[string]seenEntry // source_url -> last content hash
}

// Config configures a Manager.
type Config struct {
	MaxInFlight int
}

// New constructs a Manager.
func New(kb *knowledgebase.KnowledgeBase, fetcher Fetcher, cfg Config, log *logrus.Logger) *Manager {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &Manager{
		kb:          kb,
		fetcher:     fetcher,
		log:         log,
		maxInFlight: maxInFlight,
		seen:        make(map[string]seenEntry),
	}
}

func (m *Manager) Initialize(ctx context.Context) error { return nil }
func (m *Manager) Cleanup(ctx context.Context) error    { return nil }
func (m *Manager) Status(ctx context.Context) error     { return nil }

// Result is one URL's crawl outcome.
type Result struct {
	URL     string
	Skipped bool // (url, hash) pair already indexed
	Indexed bool
	PatternID string
	Err     error
}

// Crawl fetches every url with bounded concurrency (limiter grounded on
// golang.org/x/time/rate), retries 5xx with exponential backoff up to a
// cap, abandons on 4xx, and forwards new content to the KnowledgeBase.
func (m *Manager) Crawl(ctx context.Context, urls []string, sourceType string) ([]Result, error) {
	limiter := rate.NewLimiter(rate.Limit(m.maxInFlight), m.maxInFlight)
	sem := make(chan struct{}, m.maxInFlight)

	results := make([]Result, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			if err := limiter.Wait(ctx); err != nil {
				results[i] = Result{URL: u, Err: err}
				return
			}
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = m.crawlOne(ctx, u, sourceType)
		}(i, u)
	}
	wg.Wait()
	return results, nil
}

func (m *Manager) crawlOne(ctx context.Context, url, sourceType string) Result {
	var body []byte
	var status int

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	boCtx := backoff.WithContext(bo, ctx)

	err := backoff.Retry(func() error {
		var ferr error
		status, body, ferr = m.fetcher.Fetch(ctx, url)
		if ferr != nil {
			return ferr // network errors are retryable
		}
		if status >= 500 {
			return fmt.Errorf("server error: status %d", status)
		}
		if status >= 400 {
			return backoff.Permanent(fmt.Errorf("client error: status %d", status))
		}
		return nil
	}, boCtx)
	if err != nil {
		return Result{URL: url, Err: err}
	}

	hash := contentHash(body)

	m.mu.Lock()
	prev, ok := m.seen[url]
	m.mu.Unlock()
	if ok && prev.hash == hash {
		return Result{URL: url, Skipped: true}
	}

	p := knowledgebase.Pattern{
		Kind:     knowledgebase.KindDoc,
		Title:    url,
		Body:     string(body),
		Tags:     []string{"source_type:" + sourceType, "source_url:" + url, "content_hash:" + hash},
		Language: "",
	}
	id, err := m.kb.Index(ctx, p)
	if err != nil {
		return Result{URL: url, Err: err}
	}

	m.mu.Lock()
	m.seen[url] = seenEntry{hash: hash}
	m.mu.Unlock()

	return Result{URL: url, Indexed: true, PatternID: id}
}

func contentHash(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}
