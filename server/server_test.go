package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"codeintel.dev/adrmanager"
	"codeintel.dev/cache"
	"codeintel.dev/embedding"
	"codeintel.dev/health"
	"codeintel.dev/knowledgebase"
	"codeintel.dev/registry"
	"codeintel.dev/sse"
	"codeintel.dev/taskmanager"
	"codeintel.dev/vectorstore"
)

func newTestServer(t *testing.T) *Server {
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

	adrs := adrmanager.New(t.TempDir(), kb, log)
	require.NoError(t, adrs.Initialize(context.Background()))

	tasks, err := taskmanager.New(t.TempDir(), taskmanager.Config{Workers: 1, QueueDepth: 8}, log)
	require.NoError(t, err)
	tasks.RegisterHandler("analyze-code", func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, tasks.Initialize(context.Background()))

	reg := registry.New(log)
	reg.KnowledgeBase = kb
	reg.ADRs = adrs
	reg.Tasks = tasks

	mon := health.New(reg, time.Hour, prometheus.NewRegistry(), log)
	sseManager := sse.New(reg, log)

	return New(Config{AllowedOrigins: []string{"*"}}, reg, mon, sseManager, log)
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestCreateADRRoute(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/tools/create-adr", `{"title":"Use PostgreSQL","decision":"adopt PG"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var a map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	require.Equal(t, "Use PostgreSQL", a["title"])
}

func TestCreateADRRouteRejectsMissingFields(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/tools/create-adr", `{"title":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errObj := body["error"].(map[string]interface{})
	require.Equal(t, "validation-failed", errObj["kind"])
}

func TestSearchKnowledgeRejectsOversizedLimit(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/tools/search-knowledge", `{"query":"x","limit":1000}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeCodeRouteReturnsTaskID(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/tools/analyze-code", `{"code":"package main"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["task_id"])
}

func TestHealthRoute(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
