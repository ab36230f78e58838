package couchbase

import (
	"context"
	"errors"
	"time"

	"github.com/pior/couchbase/engine"
)

// readinessProbeKey is fetched to tell whether a new bucket serves requests.
// It is not expected to exist: a not-found answer means the bucket is ready.
const readinessProbeKey = "whatever-probe-key"

// Client holds the credentials of a cluster and opens connections to it.
type Client struct {
	host     string
	username string
	password string
	cfg      Config
}

// NewClient returns a client for the cluster reachable at host, "host" or
// "host:port" of the management API. No connection is opened.
func NewClient(host, username, password string, config Config) (*Client, error) {
	if host == "" {
		return nil, &Error{Op: "client", Kind: KindMalformedArgument, Message: "host is required"}
	}
	config.setDefaults()
	return &Client{host: host, username: username, password: password, cfg: config}, nil
}

// Bucket connects to the bucket name. The caller closes it.
func (c *Client) Bucket(name string) (*Bucket, error) {
	if name == "" {
		return nil, &Error{Op: "connect", Kind: KindMalformedArgument, Message: "bucket name is required"}
	}
	return openBucket(&c.cfg, c.host, c.username, c.password, name)
}

// Cluster opens an administrative connection. The caller closes it.
func (c *Client) Cluster() (*Cluster, error) {
	return openCluster(&c.cfg, c.host, c.username, c.password)
}

// Create creates the bucket name and returns a connection to it once it
// serves requests. It fails with ErrBucketNotReady when the bucket is still
// warming up after Config.ReadyTimeout.
func (c *Client) Create(ctx context.Context, name string, spec BucketSpec) (*Bucket, error) {
	if err := c.withCluster(func(cl *Cluster) error { return cl.CreateBucket(name, spec) }); err != nil {
		return nil, err
	}
	if err := c.waitReady(ctx, name, spec.isMemcached()); err != nil {
		return nil, err
	}
	return c.Bucket(name)
}

// Delete deletes the bucket name.
func (c *Client) Delete(name string) error {
	return c.withCluster(func(cl *Cluster) error { return cl.DeleteBucket(name) })
}

// Buckets lists the buckets of the cluster.
func (c *Client) Buckets() ([]BucketInfo, error) {
	var out []BucketInfo
	err := c.withCluster(func(cl *Cluster) error {
		var err error
		out, err = cl.Buckets()
		return err
	})
	return out, err
}

func (c *Client) withCluster(fn func(*Cluster) error) error {
	cl, err := c.Cluster()
	if err != nil {
		return err
	}
	defer cl.Close()
	return fn(cl)
}

func (c *Client) waitReady(ctx context.Context, name string, memcached bool) error {
	clock := c.cfg.Clock
	deadline := clock.Now().Add(c.cfg.ReadyTimeout)

	for {
		if memcached {
			if err := clock.Sleep(ctx, c.cfg.MemcachedProbeDelay); err != nil {
				return err
			}
		}

		var (
			ready bool
			err   error
		)
		if budget := deadline.Sub(clock.Now()); budget > 0 {
			ready, err = c.probe(ctx, name, budget)
		}
		if ready {
			return nil
		}
		c.cfg.Logger.Debug("couchbase: bucket not ready", "bucket", name, "error", err)

		if !clock.Now().Before(deadline) {
			return &Error{Op: "create", Key: name, Kind: KindTimeout, Message: ErrBucketNotReady.Error(), err: ErrBucketNotReady}
		}
		if !memcached {
			if err := clock.Sleep(ctx, c.cfg.PollInterval); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// probe opens a fresh connection to the bucket and looks up a key that
// does not exist. Only a not-found answer proves the bucket is serving.
// Every request of the probe is bounded by budget and by the ctx deadline.
func (c *Client) probe(ctx context.Context, name string, budget time.Duration) (bool, error) {
	if d, ok := ctx.Deadline(); ok {
		budget = min(budget, time.Until(d))
	}
	if budget <= 0 {
		return false, ctx.Err()
	}

	cfg := c.cfg
	cfg.Timeout = clampTimeout(cfg.Timeout, engine.DefaultTimeout, budget)
	cfg.HTTPTimeout = clampTimeout(cfg.HTTPTimeout, engine.DefaultHTTPTimeout, budget)

	b, err := openBucket(&cfg, c.host, c.username, c.password, name)
	if err != nil {
		return false, err
	}
	defer b.Close()

	_, err = b.Get(readinessProbeKey)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	return false, err
}

// clampTimeout caps d at limit. Zero stands for def.
func clampTimeout(d, def, limit time.Duration) time.Duration {
	if d <= 0 {
		d = def
	}
	return min(d, limit)
}
