// Package vbucket parses bucket configurations served by the cluster REST
// API and maps keys to data nodes.
package vbucket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrNoServer is returned when the vbucket map has no active server for a key.
var ErrNoServer = errors.New("vbucket: no server for key")

// Config is the subset of a bucket configuration needed to route requests.
type Config struct {
	Name             string     `json:"name"`
	BucketType       string     `json:"bucketType"`
	NodeLocator      string     `json:"nodeLocator"`
	Nodes            []Node     `json:"nodes"`
	VBucketServerMap *ServerMap `json:"vBucketServerMap"`
}

type Node struct {
	Hostname     string `json:"hostname"`
	CouchAPIBase string `json:"couchApiBase"`
	Ports        Ports  `json:"ports"`
}

type Ports struct {
	Direct int `json:"direct"`
}

type ServerMap struct {
	HashAlgorithm string   `json:"hashAlgorithm"`
	NumReplicas   int      `json:"numReplicas"`
	ServerList    []string `json:"serverList"`
	VBucketMap    [][]int  `json:"vBucketMap"`
}

// Parse decodes a bucket configuration. Servers advertise "$HOST" in place
// of their own address when they do not know it; it is replaced by host.
func Parse(data []byte, host string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("vbucket: decode config: %w", err)
	}

	for i := range cfg.Nodes {
		cfg.Nodes[i].Hostname = strings.ReplaceAll(cfg.Nodes[i].Hostname, "$HOST", host)
		cfg.Nodes[i].CouchAPIBase = strings.ReplaceAll(cfg.Nodes[i].CouchAPIBase, "$HOST", host)
	}
	if m := cfg.VBucketServerMap; m != nil {
		for i := range m.ServerList {
			m.ServerList[i] = strings.ReplaceAll(m.ServerList[i], "$HOST", host)
		}
	}

	if len(cfg.KVAddrs()) == 0 {
		return nil, errors.New("vbucket: config lists no data nodes")
	}
	return &cfg, nil
}

// IsMemcached reports whether the bucket is a memcached bucket, which has
// no vbucket map and is distributed by key hash.
func (c *Config) IsMemcached() bool {
	return c.BucketType == "memcached" || c.VBucketServerMap == nil || len(c.VBucketServerMap.VBucketMap) == 0
}

// KVAddrs lists the data node addresses in server index order.
func (c *Config) KVAddrs() []string {
	if !c.IsMemcached() {
		return c.VBucketServerMap.ServerList
	}

	addrs := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Ports.Direct == 0 {
			continue
		}
		host := n.Hostname
		if h, _, err := net.SplitHostPort(n.Hostname); err == nil {
			host = h
		}
		addrs = append(addrs, net.JoinHostPort(host, strconv.Itoa(n.Ports.Direct)))
	}
	return addrs
}

// Route returns the index into KVAddrs and the vbucket id for key.
// Memcached buckets always use vbucket 0.
func (c *Config) Route(key string) (int, uint16, error) {
	if c.IsMemcached() {
		n := len(c.KVAddrs())
		if n == 0 {
			return 0, 0, ErrNoServer
		}
		return memcachedNode(key, n), 0, nil
	}

	m := c.VBucketServerMap
	vb := VBucketID(key, len(m.VBucketMap))
	chain := m.VBucketMap[vb]
	if len(chain) == 0 || chain[0] < 0 || chain[0] >= len(m.ServerList) {
		return 0, vb, ErrNoServer
	}
	return chain[0], vb, nil
}

// ViewBase returns the base URL of the view API, ending with a slash.
// Empty when no node advertises one.
func (c *Config) ViewBase() string {
	for _, n := range c.Nodes {
		if n.CouchAPIBase != "" {
			return strings.TrimSuffix(n.CouchAPIBase, "/") + "/"
		}
	}
	return ""
}
