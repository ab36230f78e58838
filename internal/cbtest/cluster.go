// Package cbtest runs an in-process imitation of a Couchbase cluster for
// tests: a management and view REST API on httptest and binary protocol
// data nodes backed by in-memory buckets. Expiry is recorded, not enforced.
package cbtest

import (
	"fmt"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

// Bucket types as accepted by the REST API.
const (
	BucketCouchbase = "couchbase"
	BucketMemcached = "memcached"
)

const numVBuckets = 64

type Options struct {
	// Username and Password guard REST and SASL. Empty disables auth.
	Username string
	Password string
	// Nodes is the number of data nodes. Default: 1.
	Nodes int
}

type Cluster struct {
	opts Options

	rest    *httptest.Server
	restURL *url.URL
	nodes   []*dataNode

	stallConfigs atomic.Bool

	mu           sync.Mutex
	buckets      map[string]*Bucket
	created      []url.Values
	deleted      []string
	createStatus int
	createWarmup int
}

// NewCluster starts a cluster that shuts down with t.
func NewCluster(t testing.TB, opts Options) *Cluster {
	t.Helper()
	if opts.Nodes <= 0 {
		opts.Nodes = 1
	}

	c := &Cluster{opts: opts, buckets: map[string]*Bucket{}}

	for range opts.Nodes {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("cbtest: listen: %v", err)
		}
		n := &dataNode{cluster: c, listener: ln, sessions: map[net.Conn]*session{}}
		c.nodes = append(c.nodes, n)
		go n.serve()
	}

	c.rest = httptest.NewServer(c.handler())
	u, err := url.Parse(c.rest.URL)
	if err != nil {
		t.Fatalf("cbtest: %v", err)
	}
	c.restURL = u

	t.Cleanup(c.Close)
	return c
}

// Host is the management API address to bootstrap from.
func (c *Cluster) Host() string {
	return c.restURL.Host
}

func (c *Cluster) restPort() string {
	return c.restURL.Port()
}

// NodeAddrs lists the data node addresses.
func (c *Cluster) NodeAddrs() []string {
	addrs := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		addrs[i] = n.listener.Addr().String()
	}
	return addrs
}

func (c *Cluster) nodePort(i int) int {
	return c.nodes[i].listener.Addr().(*net.TCPAddr).Port
}

// Close stops the REST server and every data node.
func (c *Cluster) Close() {
	c.rest.Close()
	for _, n := range c.nodes {
		n.close()
	}
}

// AddBucket creates a ready bucket.
func (c *Cluster) AddBucket(name, bucketType string) *Bucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := newBucket(name, bucketType)
	c.buckets[name] = b
	return b
}

// Bucket returns a bucket by name, nil if absent.
func (c *Cluster) Bucket(name string) *Bucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buckets[name]
}

// selectBucket binds s to the bucket name. It holds c.mu so that a
// concurrent deletion either sees the session or rejects the selection.
func (c *Cluster) selectBucket(n *dataNode, s *session, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.buckets[name]
	if b == nil {
		return false
	}
	n.mu.Lock()
	s.bucket = b
	n.mu.Unlock()
	return true
}

// CreateRequests returns the forms posted to the bucket creation endpoint.
func (c *Cluster) CreateRequests() []url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]url.Values(nil), c.created...)
}

// DeletedBuckets returns the names passed to the bucket deletion endpoint.
func (c *Cluster) DeletedBuckets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// StallBucketConfigs makes bucket config requests hang until the client
// gives up on them.
func (c *Cluster) StallBucketConfigs(stall bool) {
	c.stallConfigs.Store(stall)
}

// FailCreates makes bucket creation answer status. Zero restores the default.
func (c *Cluster) FailCreates(status int) {
	c.mu.Lock()
	c.createStatus = status
	c.mu.Unlock()
}

// SetCreateWarmup makes buckets created over REST answer the first n key
// operations with a temporary failure.
func (c *Cluster) SetCreateWarmup(n int) {
	c.mu.Lock()
	c.createWarmup = n
	c.mu.Unlock()
}

// StallNodes makes every data node read requests without answering.
func (c *Cluster) StallNodes(stall bool) {
	for _, n := range c.nodes {
		n.stalled.Store(stall)
	}
}

func (c *Cluster) bucketConfig(b *Bucket) map[string]any {
	nodes := make([]any, len(c.nodes))
	serverList := make([]string, len(c.nodes))
	for i := range c.nodes {
		node := map[string]any{
			"hostname": "$HOST:" + c.restPort(),
			"ports":    map[string]any{"direct": c.nodePort(i)},
		}
		if b.Type != BucketMemcached {
			node["couchApiBase"] = fmt.Sprintf("http://$HOST:%s/%s", c.restPort(), b.Name)
		}
		nodes[i] = node
		serverList[i] = "$HOST:" + strconv.Itoa(c.nodePort(i))
	}

	cfg := map[string]any{
		"name":  b.Name,
		"nodes": nodes,
		"quota": map[string]any{"ram": b.RAMQuotaMB * 1024 * 1024},
	}
	if b.Type == BucketMemcached {
		cfg["bucketType"] = "memcached"
		cfg["nodeLocator"] = "ketama"
		return cfg
	}

	vbmap := make([][]int, numVBuckets)
	for i := range vbmap {
		vbmap[i] = []int{i % len(c.nodes)}
	}
	cfg["bucketType"] = "membase"
	cfg["nodeLocator"] = "vbucket"
	cfg["vBucketServerMap"] = map[string]any{
		"hashAlgorithm": "CRC",
		"numReplicas":   0,
		"serverList":    serverList,
		"vBucketMap":    vbmap,
	}
	return cfg
}
