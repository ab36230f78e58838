package couchbase

import (
	"sync"

	"github.com/pior/couchbase/engine"
)

// connection pairs a Transport with the router receiving its completions.
// Calls are serialized: each one arms its slot, submits, waits and reads
// the slot back before the next call may start.
type connection struct {
	mu     sync.Mutex
	t      Transport
	r      *router
	closed bool
}

// openConnection connects a new transport and fails with the last
// connection-level error logged during the connect.
func openConnection(cfg *Config, opts engine.Options) (*connection, error) {
	t, err := cfg.newTransport(opts)
	if err != nil {
		return nil, submitError("connect", opts.Bucket, err)
	}

	r := newRouter(cfg.Logger)
	t.SetCallbacks(r)

	if err := t.Connect(); err != nil {
		_ = t.Close()
		return nil, submitError("connect", opts.Bucket, err)
	}
	if err := t.Wait(); err != nil {
		_ = t.Close()
		return nil, submitError("connect", opts.Bucket, err)
	}
	if err := r.connectError(); err != nil {
		_ = t.Close()
		if e, ok := err.(*Error); ok {
			e.Key = opts.Bucket
		}
		return nil, err
	}
	r.clearErrors()

	return &connection{t: t, r: r}, nil
}

// do runs one operation of the given kind. submit queues it on the
// transport; consume reads the settled slot and runs with the lock held.
func (c *connection) do(op, key string, kind slotKind, submit func(Transport) error, consume func(*router) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.r.slot(kind).pending {
		// Give a late completion of the previous call a chance to land.
		if err := c.t.Wait(); err != nil {
			return submitError(op, key, err)
		}
		if c.r.slot(kind).pending {
			return ErrOperationInProgress
		}
	}

	c.r.arm(kind)
	if err := submit(c.t); err != nil {
		c.r.slot(kind).pending = false
		return submitError(op, key, err)
	}
	if err := c.t.Wait(); err != nil {
		c.r.slot(kind).pending = false
		return submitError(op, key, err)
	}
	// The slot stays armed: a late completion delivered by a later Wait
	// settles it, and until then the kind is refused.
	if c.r.slot(kind).pending {
		return &Error{Op: op, Key: key, Kind: KindProtocol, Message: "wait returned before the operation completed"}
	}
	return consume(c.r)
}

func (c *connection) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.t.Close()
}
