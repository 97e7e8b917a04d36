package adrmanager

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

func newTestManager(t *testing.T) (*Manager, context.Context) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)

	adrDir := t.TempDir()
	kbDir := t.TempDir()
	cacheDir := t.TempDir()

	c, err := cache.New(cache.Config{MemBudgetBytes: 1 << 20, DiskBudgetBytes: 1 << 20, DiskDir: cacheDir}, log)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))

	backend := embedding.NewHashBackend(16)
	embedder, err := embedding.New(backend, 16, log)
	require.NoError(t, err)
	require.NoError(t, embedder.Initialize(context.Background()))

	vs := vectorstore.New(vectorstore.NewMemoryClient(), log)
	require.NoError(t, vs.Initialize(context.Background(), "patterns", 16))

	kb, err := knowledgebase.New(embedder, vs, c, kbDir, "patterns", "hash-16", log)
	require.NoError(t, err)

	return New(adrDir, kb, log), context.Background()
}

func TestCreateAssignsMonotoneNumbers(t *testing.T) {
	m, ctx := newTestManager(t)

	a1, err := m.Create(ctx, "Use PostgreSQL", "Use PG for persistence", "need durable storage", nil)
	require.NoError(t, err)
	require.Equal(t, 1, a1.Number)
	require.Equal(t, StatusProposed, a1.Status)

	a2, err := m.Create(ctx, "Use Redis for caching", "Use Redis", "need fast cache", nil)
	require.NoError(t, err)
	require.Equal(t, 2, a2.Number)
}

func TestTransitionEnforcesStateMachine(t *testing.T) {
	m, ctx := newTestManager(t)
	a, err := m.Create(ctx, "Use gRPC", "Adopt gRPC for internal APIs", "", nil)
	require.NoError(t, err)

	_, err = m.Transition(ctx, a.ID, StatusImplemented, "")
	require.Error(t, err)
	require.True(t, codeerr.Is(err, codeerr.ADRIllegalTransition))

	unchanged, err := m.Get(a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProposed, unchanged.Status)

	accepted, err := m.Transition(ctx, a.ID, StatusAccepted, "")
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, accepted.Status)
}

func TestSupersedeRequiresSuccessor(t *testing.T) {
	m, ctx := newTestManager(t)
	a, err := m.Create(ctx, "Old decision", "do X", "", nil)
	require.NoError(t, err)
	m.Transition(ctx, a.ID, StatusAccepted, "")
	m.Transition(ctx, a.ID, StatusImplemented, "")

	_, err = m.Transition(ctx, a.ID, StatusSuperseded, "")
	require.Error(t, err)

	successor, err := m.Create(ctx, "New decision", "do Y instead", "", nil)
	require.NoError(t, err)

	superseded, err := m.Transition(ctx, a.ID, StatusSuperseded, successor.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSuperseded, superseded.Status)

	refreshedSuccessor, err := m.Get(successor.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, refreshedSuccessor.Supersedes)
}
