package memd

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Handler receives the response to a dispatched request. err is non-nil
// only when the connection failed before the response arrived.
// Handlers run on the connection's reader goroutine and must not block.
type Handler func(p *Packet, err error)

type waiter struct {
	handler Handler
	stream  bool
}

// Conn is a multiplexed binary protocol connection. Requests are tagged with
// a unique opaque and responses are matched back to their handler, so any
// number of requests may be in flight and late responses to abandoned
// requests are dropped.
type Conn struct {
	nc     net.Conn
	bw     *bufio.Writer
	logger *slog.Logger

	writeMu    sync.Mutex
	pending    *xsync.MapOf[uint32, *waiter]
	nextOpaque atomic.Uint32

	closed    atomic.Bool
	closeOnce sync.Once
	err       error
	done      chan struct{}
}

// NewConn wraps nc and starts its reader goroutine.
func NewConn(nc net.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		nc:      nc,
		bw:      bufio.NewWriterSize(nc, 4096),
		logger:  logger,
		pending: xsync.NewMapOf[uint32, *waiter](),
		done:    make(chan struct{}),
	}
	go c.readLoop(bufio.NewReaderSize(nc, 16*1024))
	return c
}

// RemoteAddr returns the address of the server end.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// Dispatch writes req and registers h for its response. The opaque of req
// is overwritten. STAT requests stay registered until the terminal packet,
// h is called for every packet of the stream.
//
// When Dispatch returns an error, h will not be called.
func (c *Conn) Dispatch(req *Packet, h Handler) (uint32, error) {
	if c.closed.Load() {
		return 0, &ConnectionError{Op: "dispatch", Err: ErrClosed}
	}

	opaque := c.nextOpaque.Add(1)
	req.Opaque = opaque
	c.pending.Store(opaque, &waiter{handler: h, stream: req.OpCode == OpStat})

	// The reader may have failed between the check and the store.
	if c.closed.Load() {
		return opaque, c.abandon(opaque, &ConnectionError{Op: "dispatch", Err: ErrClosed})
	}

	c.writeMu.Lock()
	err := WritePacket(c.bw, req)
	if err == nil {
		err = c.bw.Flush()
	}
	c.writeMu.Unlock()

	if err != nil {
		if _, ok := err.(*InvalidKeyError); ok {
			c.pending.Delete(opaque)
			return 0, err
		}
		connErr := &ConnectionError{Op: "write", Err: err}
		c.fail(connErr)
		return opaque, c.abandon(opaque, connErr)
	}

	return opaque, nil
}

// abandon unregisters opaque. If the failure path already took the waiter,
// its handler has been notified and the error is swallowed.
func (c *Conn) abandon(opaque uint32, err error) error {
	if _, ok := c.pending.LoadAndDelete(opaque); ok {
		return err
	}
	return nil
}

// Cancel drops the handler of an in-flight request. Reports whether it was still pending.
func (c *Conn) Cancel(opaque uint32) bool {
	_, ok := c.pending.LoadAndDelete(opaque)
	return ok
}

type exchangeResult struct {
	p   *Packet
	err error
}

// Exchange dispatches req and waits for its final response. For STAT
// streams each is called with every non-terminal packet, from the reader
// goroutine, and the terminal packet is returned.
func (c *Conn) Exchange(ctx context.Context, req *Packet, each func(*Packet)) (*Packet, error) {
	done := make(chan exchangeResult, 1)

	opaque, err := c.Dispatch(req, func(p *Packet, err error) {
		if err == nil && IsStatItem(p) {
			if each != nil {
				each(p)
			}
			return
		}
		done <- exchangeResult{p: p, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case res := <-done:
		return res.p, res.err
	case <-ctx.Done():
		c.Cancel(opaque)
		return nil, ctx.Err()
	}
}

func (c *Conn) readLoop(br *bufio.Reader) {
	for {
		p, err := ReadPacket(br)
		if err != nil {
			if _, ok := err.(*ParseError); ok {
				c.fail(err)
			} else {
				c.fail(&ConnectionError{Op: "read", Err: err})
			}
			return
		}

		w, ok := c.pending.Load(p.Opaque)
		if !ok {
			c.logger.Warn("memd: dropping response without waiter",
				"addr", c.RemoteAddr(), "opcode", p.OpCode, "opaque", p.Opaque)
			continue
		}

		if w.stream && IsStatItem(p) {
			w.handler(p, nil)
			continue
		}

		if _, ok := c.pending.LoadAndDelete(p.Opaque); ok {
			w.handler(p, nil)
		}
	}
}

// fail closes the connection and notifies every pending handler once.
func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		c.closed.Store(true)
		_ = c.nc.Close()

		c.pending.Range(func(opaque uint32, w *waiter) bool {
			if _, ok := c.pending.LoadAndDelete(opaque); ok {
				w.handler(nil, err)
			}
			return true
		})
		close(c.done)
	})
}

// Err returns the error that closed the connection, if any.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// IsClosed reports whether the connection can no longer dispatch.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Close closes the socket and fails every pending request.
func (c *Conn) Close() error {
	c.fail(&ConnectionError{Op: "close", Err: ErrClosed})
	<-c.done
	return nil
}
