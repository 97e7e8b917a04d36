package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeintel.dev/codeerr"
)

func newTestViper(t *testing.T, dim int, port int) *viper.Viper {
	t.Helper()
	base := t.TempDir()
	v := viper.New()
	v.Set("adr_dir", filepath.Join(base, "adrs"))
	v.Set("docs_dir", filepath.Join(base, "docs"))
	v.Set("kb_dir", filepath.Join(base, "kb"))
	v.Set("cache_dir", filepath.Join(base, "cache"))
	v.Set("embedding_dim", dim)
	v.Set("port", port)
	return v
}

func TestLoadAppliesDefaults(t *testing.T) {
	v := newTestViper(t, 384, 8080)
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "patterns", cfg.CollectionName)
	assert.Equal(t, 4, cfg.TaskWorkers)
}

func TestLoadRejectsNonPositiveDim(t *testing.T) {
	v := newTestViper(t, 0, 8080)
	_, err := Load(v, "")
	require.Error(t, err)
	assert.Equal(t, codeerr.ConfigInvalid, codeerr.KindOf(err))
}

func TestLoadRejectsMalformedVectorEndpoint(t *testing.T) {
	v := newTestViper(t, 384, 8080)
	v.Set("vector_endpoint", "not a url")
	_, err := Load(v, "")
	require.Error(t, err)
	assert.Equal(t, codeerr.ConfigInvalid, codeerr.KindOf(err))
}

func TestLoadIsImmutableAfterReturn(t *testing.T) {
	v := newTestViper(t, 384, 8080)
	cfg, err := Load(v, "")
	require.NoError(t, err)
	snapshot := *cfg
	v.Set("port", 9090)
	_, err = Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, snapshot.Port, cfg.Port, "a later Load must not change a Config returned earlier")
}
