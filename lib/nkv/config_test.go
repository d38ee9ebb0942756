package nkv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	data := []byte(`
num_listing_shards: "16"
iteration_prefix_filter: data/
negative_cache_enabled: true
cache_capacity: 128
containers:
  - name: bucket
    paths:
      - address: p0
      - address: p1
        kind: remote
        endpoint: localhost:8080
        transport: tcp
        target_id: 3
`)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.NumListingShards)
	assert.Equal(t, "data/", cfg.IterationPrefixFilter)
	assert.True(t, cfg.NegativeCacheEnabled)
	assert.Equal(t, 128, cfg.CacheCapacity)

	// untouched fields keep their defaults
	assert.True(t, cfg.ListingEnabled)
	assert.Equal(t, "/", cfg.HierarchicalDelimiter)
	assert.Equal(t, defaultMaxKeyLength, cfg.MaxKeyLength)

	require.Len(t, cfg.Containers, 1)
	paths := cfg.Containers[0].Paths
	require.Len(t, paths, 2)
	assert.Equal(t, PathKindMemdev, paths[0].Kind)
	assert.False(t, paths[0].Remote())
	assert.True(t, paths[1].Remote())
	assert.Equal(t, uint64(3), paths[1].TargetID)
}

func TestParseConfigJSON(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"hierarchical_delimiter": ":", "max_paths_to_iterate_per_container": 2}`))
	require.NoError(t, err)
	assert.Equal(t, byte(':'), cfg.Delimiter())
	assert.Equal(t, 2, cfg.MaxPathsToIteratePerContainer)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown field", "no_such_option: 1"},
		{"long delimiter", "hierarchical_delimiter: '//'"},
		{"negative max paths", "max_paths_to_iterate_per_container: -1"},
		{"negative rate", "index_build_rate_limit: -5"},
		{"container without paths", "containers: [{name: c}]"},
		{"duplicate container", "containers: [{name: c, paths: [{address: a}]}, {name: c, paths: [{address: b}]}]"},
		{"duplicate path", "containers: [{name: c, paths: [{address: a}, {address: a}]}]"},
		{"remote without endpoint", "containers: [{name: c, paths: [{address: a, kind: remote}]}]"},
		{"unknown kind", "containers: [{name: c, paths: [{address: a, kind: floppy}]}]"},
		{"not yaml", "containers: [unclosed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.data))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nkv.yaml")
	require.NoError(t, os.WriteFile(file, []byte("containers: [{name: c, paths: [{address: a}]}]\n"), 0o644))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	require.Len(t, cfg.Containers, 1)
	assert.Equal(t, "c", cfg.Containers[0].Name)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	d := DefaultConfig()
	assert.Equal(t, d.NumListingShards, cfg.NumListingShards)
	assert.Equal(t, d.CacheCapacity, cfg.CacheCapacity)
	assert.Equal(t, d.HierarchicalDelimiter, cfg.HierarchicalDelimiter)
	assert.Contains(t, cfg.String(), "LISTING")
}
