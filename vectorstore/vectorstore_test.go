package vectorstore

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeintel.dev/codeerr"
)

func newTestStore(t *testing.T) *VectorStore {
	t.Helper()
	vs := New(NewMemoryClient(), logrus.New())
	require.NoError(t, vs.Initialize(context.Background(), "patterns", 4))
	return vs
}

func TestEnsureCollectionRejectsDimMismatch(t *testing.T) {
	vs := newTestStore(t)
	err := vs.EnsureCollection(context.Background(), "patterns", 8)
	require.Error(t, err)
	assert.Equal(t, codeerr.VectorSchemaMismatch, codeerr.KindOf(err))
}

func TestUpsertAndSearchOrdering(t *testing.T) {
	vs := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, "patterns", "a", []float32{1, 0, 0, 0}, Payload{"kind": "code"}))
	require.NoError(t, vs.Upsert(ctx, "patterns", "b", []float32{0, 1, 0, 0}, Payload{"kind": "doc"}))

	matches, err := vs.Search(ctx, "patterns", []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestSearchAppliesKindFilter(t *testing.T) {
	vs := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, vs.Upsert(ctx, "patterns", "a", []float32{1, 0, 0, 0}, Payload{"kind": "code"}))
	require.NoError(t, vs.Upsert(ctx, "patterns", "b", []float32{1, 0, 0, 0}, Payload{"kind": "doc"}))

	matches, err := vs.Search(ctx, "patterns", []float32{1, 0, 0, 0}, 5, &Filter{KindIn: []string{"doc"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	vs := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, vs.Delete(ctx, "patterns", "missing"))
	require.NoError(t, vs.Upsert(ctx, "patterns", "a", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, vs.Delete(ctx, "patterns", "a"))
	require.NoError(t, vs.Delete(ctx, "patterns", "a"))
	_, ok, err := vs.Get(ctx, "patterns", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingClient struct{ *MemoryClient }

func (f failingClient) Ping(ctx context.Context) error { return assertErr }

var assertErr = codeerr.New(codeerr.VectorUnavailable, "down")

func TestDegradedModeOnUnreachableBackend(t *testing.T) {
	vs := New(failingClient{NewMemoryClient()}, logrus.New())
	err := vs.Status(context.Background())
	require.Error(t, err)
	assert.Equal(t, codeerr.VectorUnavailable, codeerr.KindOf(err))
	assert.True(t, vs.Degraded())
}
