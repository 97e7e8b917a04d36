package debuganalyzer

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"codeintel.dev/cache"
	"codeintel.dev/codeerr"
	"codeintel.dev/embedding"
	"codeintel.dev/knowledgebase"
	"codeintel.dev/vectorstore"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *knowledgebase.KnowledgeBase, context.Context) {
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

	return New(kb, log), kb, context.Background()
}

func TestAnalyzeReturnsFiveSteps(t *testing.T) {
	a, kb, ctx := newTestAnalyzer(t)

	_, err := kb.Index(ctx, knowledgebase.Pattern{
		Kind:  knowledgebase.KindDebugNote,
		Title: "nil pointer in handler",
		Body:  "request handler panicked on missing header",
	})
	require.NoError(t, err)

	report, err := a.Analyze(ctx, "handler panics under load", "")
	require.NoError(t, err)
	require.Equal(t, "handler panics under load", report.Issue)
	require.Len(t, report.Steps, 5)
	require.Equal(t, StepObserve, report.Steps[0].Name)
	require.Equal(t, StepVerify, report.Steps[4].Name)
}

func TestAnalyzeRejectsEmptyIssue(t *testing.T) {
	a, _, ctx := newTestAnalyzer(t)
	_, err := a.Analyze(ctx, "", "")
	require.Error(t, err)
	require.True(t, codeerr.Is(err, codeerr.ValidationFailed))
}
