package couchbase

import (
	"sync/atomic"
)

// ClientStats contains operation counters of one Bucket.
// All fields are safe for concurrent access.
//
// For Prometheus integration, see Metrics.
type ClientStats struct {
	Gets       uint64 // Total Get operations
	GetHits    uint64 // Get operations that found the key
	Stores     uint64 // Set, Add, Replace, Append, Prepend and CompareAndSwap
	Deletes    uint64 // Total Delete operations
	Arithmetic uint64 // Incr and Decr
	Views      uint64 // View queries and design document updates
	Errors     uint64 // Total errors across all operations
}

// clientStatsCollector provides internal methods for updating client stats.
type clientStatsCollector struct {
	stats ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

func (c *clientStatsCollector) recordGet(found bool) {
	atomic.AddUint64(&c.stats.Gets, 1)
	if found {
		atomic.AddUint64(&c.stats.GetHits, 1)
	}
}

func (c *clientStatsCollector) recordStore() {
	atomic.AddUint64(&c.stats.Stores, 1)
}

func (c *clientStatsCollector) recordDelete() {
	atomic.AddUint64(&c.stats.Deletes, 1)
}

func (c *clientStatsCollector) recordArithmetic() {
	atomic.AddUint64(&c.stats.Arithmetic, 1)
}

func (c *clientStatsCollector) recordView() {
	atomic.AddUint64(&c.stats.Views, 1)
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:       atomic.LoadUint64(&c.stats.Gets),
		GetHits:    atomic.LoadUint64(&c.stats.GetHits),
		Stores:     atomic.LoadUint64(&c.stats.Stores),
		Deletes:    atomic.LoadUint64(&c.stats.Deletes),
		Arithmetic: atomic.LoadUint64(&c.stats.Arithmetic),
		Views:      atomic.LoadUint64(&c.stats.Views),
		Errors:     atomic.LoadUint64(&c.stats.Errors),
	}
}
