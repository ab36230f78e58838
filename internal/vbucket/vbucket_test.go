package vbucket

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const couchbaseConfig = `{
  "name": "default",
  "bucketType": "membase",
  "nodeLocator": "vbucket",
  "nodes": [
    {"hostname": "$HOST:8091", "couchApiBase": "http://$HOST:8092/default", "ports": {"direct": 11210}},
    {"hostname": "10.0.0.2:8091", "couchApiBase": "http://10.0.0.2:8092/default", "ports": {"direct": 11210}}
  ],
  "vBucketServerMap": {
    "hashAlgorithm": "CRC",
    "numReplicas": 1,
    "serverList": ["$HOST:11210", "10.0.0.2:11210"],
    "vBucketMap": [[0, 1], [1, 0], [0, 1], [-1, 0]]
  }
}`

const memcachedConfig = `{
  "name": "cache",
  "bucketType": "memcached",
  "nodeLocator": "ketama",
  "nodes": [
    {"hostname": "$HOST:8091", "ports": {"direct": 11210}},
    {"hostname": "10.0.0.2:8091", "ports": {"direct": 11211}}
  ]
}`

func TestParseReplacesHost(t *testing.T) {
	cfg, err := Parse([]byte(couchbaseConfig), "192.168.1.5")
	require.NoError(t, err)

	assert.False(t, cfg.IsMemcached())
	assert.Equal(t, []string{"192.168.1.5:11210", "10.0.0.2:11210"}, cfg.KVAddrs())
	assert.Equal(t, "192.168.1.5:8091", cfg.Nodes[0].Hostname)
	assert.Equal(t, "http://192.168.1.5:8092/default/", cfg.ViewBase())
}

func TestParseMemcachedBucket(t *testing.T) {
	cfg, err := Parse([]byte(memcachedConfig), "localhost")
	require.NoError(t, err)

	assert.True(t, cfg.IsMemcached())
	assert.Equal(t, []string{"localhost:11210", "10.0.0.2:11211"}, cfg.KVAddrs())
	assert.Empty(t, cfg.ViewBase())

	for i := range 50 {
		idx, vb, err := cfg.Route(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.Zero(t, vb)
		assert.Contains(t, []int{0, 1}, idx)
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("not json"), "localhost")
	require.Error(t, err)

	_, err = Parse([]byte(`{"name": "empty", "bucketType": "memcached", "nodes": []}`), "localhost")
	require.Error(t, err)
}

func TestVBucketID(t *testing.T) {
	assert.Equal(t, uint16(0), VBucketID("", 1024))
	assert.Equal(t, uint16(183), VBucketID("a", 1024))
	assert.Equal(t, uint16(1012), VBucketID("123456789", 1024))
	assert.Equal(t, uint16(0), VBucketID("a", 0))
}

func TestRouteFollowsVBucketMap(t *testing.T) {
	cfg, err := Parse([]byte(couchbaseConfig), "localhost")
	require.NoError(t, err)

	for i := range 100 {
		key := fmt.Sprintf("key-%d", i)
		idx, vb, err := cfg.Route(key)
		assert.Equal(t, VBucketID(key, 4), vb)

		if vb == 3 {
			require.ErrorIs(t, err, ErrNoServer)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, cfg.VBucketServerMap.VBucketMap[vb][0], idx)
	}
}

func TestJump(t *testing.T) {
	assert.Equal(t, 0, jump(0, 10))
	assert.Equal(t, 0, jump(12345, 1))
	assert.Equal(t, 0, jump(12345, 0))

	// Growing the node count only ever moves keys onto the new node.
	for key := uint64(1); key < 500; key++ {
		for n := 1; n < 8; n++ {
			before, after := jump(key*7919, n), jump(key*7919, n+1)
			if before != after {
				assert.Equal(t, n, after)
			}
		}
	}
}
