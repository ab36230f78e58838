package engine

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/pior/couchbase/internal/vbucket"
)

// bootstrap verifies credentials against the management API and, for
// bucket instances, loads the bucket config and opens one connection per
// data node. Failures are reported through the Error callback.
func (i *Instance) bootstrap(ctx context.Context, _ emitFunc) {
	if i.opts.Type == TypeCluster {
		if _, code, err := i.getJSON(ctx, "pools"); err != nil {
			i.finishBootstrap(code, nil, nil, err)
			return
		}
		i.finishBootstrap(CodeSuccess, nil, nil, nil)
		return
	}

	data, code, err := i.getJSON(ctx, "pools/default/buckets/"+url.PathEscape(i.opts.Bucket))
	if err != nil {
		i.finishBootstrap(code, nil, nil, err)
		return
	}

	cfg, err := vbucket.Parse(data, i.hostname)
	if err != nil {
		i.finishBootstrap(CodeProtocolError, nil, nil, err)
		return
	}

	addrs := cfg.KVAddrs()
	nodes := make([]*node, len(addrs))
	for idx, addr := range addrs {
		n, err := newNode(addr, &i.opts)
		if err != nil {
			for _, created := range nodes[:idx] {
				created.close()
			}
			i.finishBootstrap(CodeInternalError, nil, nil, err)
			return
		}
		nodes[idx] = n
	}

	// A node that cannot be reached now is retried lazily by its pool, but
	// an authentication failure anywhere fails the whole bootstrap.
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failCode = CodeSuccess
		failErr  error
	)
	for _, n := range nodes {
		wg.Add(1)
		go func(n *node) {
			defer wg.Done()
			err := n.warm(ctx)
			if err == nil {
				return
			}
			code := codeFromError(err)
			if code == CodeAuthError || code == CodeBucketNotFound {
				mu.Lock()
				failCode, failErr = code, fmt.Errorf("data node %s: %w", n.addr, err)
				mu.Unlock()
				return
			}
			i.notify(code, fmt.Sprintf("data node %s: %v", n.addr, err))
		}(n)
	}
	wg.Wait()

	if failErr != nil {
		for _, n := range nodes {
			n.close()
		}
		i.finishBootstrap(failCode, nil, nil, failErr)
		return
	}

	i.finishBootstrap(CodeSuccess, cfg, nodes, nil)
}

func (i *Instance) finishBootstrap(code Code, cfg *vbucket.Config, nodes []*node, err error) {
	i.mu.Lock()
	closed := i.closed
	switch {
	case closed:
		i.state = stateFailed
		i.bootCode = CodeNotConnected
	case code == CodeSuccess:
		i.state = stateConnected
		i.cfg = cfg
		i.nodes = nodes
	default:
		i.state = stateFailed
		i.bootCode = code
	}
	i.mu.Unlock()

	if closed {
		for _, n := range nodes {
			n.close()
		}
		return
	}

	if err != nil {
		i.notify(code, "bootstrap: "+err.Error())
		return
	}
	i.logger.Debug("engine: connected", "host", i.restBase, "bucket", i.opts.Bucket, "nodes", len(nodes))
}
