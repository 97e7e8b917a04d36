package embedding

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeintel.dev/codeerr"
)

func TestEmbedPreservesOrderAndBatches(t *testing.T) {
	e, err := New(NewHashBackend(16), 16, logrus.New())
	require.NoError(t, err)
	require.NoError(t, e.Initialize(context.Background()))

	texts := make([]string, 70)
	for i := range texts {
		texts[i] = "text"
	}
	texts[69] = "distinct marker text"

	vecs, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 70)
	assert.NotEqual(t, vecs[0], vecs[69])
	assert.Equal(t, vecs[0], vecs[1])
}

func TestNewRejectsDimMismatch(t *testing.T) {
	_, err := New(NewHashBackend(8), 16, logrus.New())
	require.Error(t, err)
	assert.Equal(t, codeerr.ConfigInvalid, codeerr.KindOf(err))
}

func TestStatusBeforeInitializeIsUnavailable(t *testing.T) {
	e, err := New(NewHashBackend(16), 16, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, codeerr.EmbedderUnavailable, codeerr.KindOf(e.Status(context.Background())))
	require.NoError(t, e.Initialize(context.Background()))
	assert.NoError(t, e.Status(context.Background()))
}
