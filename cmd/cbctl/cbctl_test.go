package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseViewParams(t *testing.T) {
	params, err := parseViewParams([]string{"key=\"a\"", "limit=10", "stale=false", "group=level"})
	require.NoError(t, err)

	assert.Equal(t, "a", params["key"])
	assert.Equal(t, float64(10), params["limit"])
	assert.Equal(t, false, params["stale"])
	assert.Equal(t, "level", params["group"])

	_, err = parseViewParams([]string{"novalue"})
	require.Error(t, err)
}

func TestBucketSpecFromFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bucket.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ram_quota_mb: 256\nbucket_type: couchbase\nreplica_number: 1\n"), 0o600))

	cmd := bucketCreateCmd
	t.Cleanup(func() {
		cmd.Flags().Set("spec", "")
		cmd.Flags().Set("type", "")
		cmd.Flags().Lookup("type").Changed = false
	})
	require.NoError(t, cmd.Flags().Set("spec", path))
	require.NoError(t, cmd.Flags().Set("type", "memcached"))

	spec, err := bucketSpecFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, 256, spec.RAMQuotaMB)
	assert.Equal(t, 1, spec.ReplicaNumber)
	assert.Equal(t, "memcached", spec.BucketType)
}
