package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/puddle/v2"
	"github.com/pior/couchbase/memd"
)

// node is one data node: a pool of authenticated, bucket-selected connections.
type node struct {
	addr    string
	pool    *puddle.Pool[*memd.Conn]
	breaker CircuitBreaker // nil if not configured
	logger  *slog.Logger
}

func newNode(addr string, opts *Options) (*node, error) {
	n := &node{addr: addr, logger: opts.Logger}

	pool, err := puddle.NewPool(&puddle.Config[*memd.Conn]{
		Constructor: func(ctx context.Context) (*memd.Conn, error) {
			return n.dial(ctx, opts)
		},
		Destructor: func(c *memd.Conn) {
			_ = c.Close()
		},
		MaxSize: opts.ConnectionsPerNode,
	})
	if err != nil {
		return nil, err
	}
	n.pool = pool

	if opts.NewCircuitBreaker != nil {
		n.breaker = opts.NewCircuitBreaker(addr)
	}
	return n, nil
}

func (n *node) dial(ctx context.Context, opts *Options) (*memd.Conn, error) {
	// The pool may detach the constructor from the acquire context.
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	nc, err := opts.Dialer.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		return nil, err
	}
	conn := memd.NewConn(nc, n.logger)

	if opts.Username != "" {
		if err := memd.Authenticate(ctx, conn, opts.Username, opts.Password); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	if opts.Bucket != "" {
		if err := memd.SelectBucket(ctx, conn, opts.Bucket); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	n.logger.Debug("engine: connected to data node", "addr", n.addr, "bucket", opts.Bucket)
	return conn, nil
}

// warm opens one connection so bootstrap surfaces dial and auth failures.
func (n *node) warm(ctx context.Context) error {
	res, err := n.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	res.Release()
	return nil
}

// exchange sends req through the circuit breaker when one is configured.
func (n *node) exchange(ctx context.Context, req *memd.Packet, each func(*memd.Packet)) (*memd.Packet, error) {
	if n.breaker != nil {
		return n.breaker.Execute(func() (*memd.Packet, error) {
			return n.exchangeDirect(ctx, req, each)
		})
	}
	return n.exchangeDirect(ctx, req, each)
}

func (n *node) exchangeDirect(ctx context.Context, req *memd.Packet, each func(*memd.Packet)) (*memd.Packet, error) {
	res, err := n.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	conn := res.Value()
	resp, err := conn.Exchange(ctx, req, each)
	if err != nil {
		if memd.ShouldCloseConnection(err) || conn.IsClosed() {
			res.Destroy()
		} else {
			res.Release()
		}
		return nil, fmt.Errorf("%s %s: %w", req.OpCode, n.addr, err)
	}

	res.Release()
	return resp, nil
}

func (n *node) close() {
	n.pool.Close()
}
