package vbucket

import (
	"hash/crc32"

	"github.com/zeebo/xxh3"
)

// VBucketID maps key onto one of n vbuckets the way Couchbase servers do.
func VBucketID(key string, n int) uint16 {
	if n <= 0 {
		return 0
	}
	sum := crc32.ChecksumIEEE([]byte(key))
	return uint16(((sum >> 16) & 0x7fff) % uint32(n))
}

// memcachedNode picks a node for a memcached bucket key.
func memcachedNode(key string, n int) int {
	return jump(xxh3.HashString(key), n)
}

// jump is Google's "Jump" consistent hash, https://arxiv.org/abs/1406.2294
func jump(key uint64, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	var b, j int64 = -1, 0
	for j < int64(buckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int(b)
}
