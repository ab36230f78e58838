package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edwingeng/deque/v2"
	"github.com/pior/couchbase/internal/vbucket"
)

// ErrClosed is returned by every call on a closed instance.
var ErrClosed = errors.New("engine: instance closed")

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateFailed
)

// emitFunc hands a callback invocation to the goroutine running Wait.
type emitFunc func(deliver func(Callbacks))

type operation struct {
	name string
	// barrier operations run alone, after everything queued before them
	// and before anything queued after them.
	barrier bool
	timeout time.Duration
	run     func(ctx context.Context, emit emitFunc)
}

type event struct {
	deliver func(Callbacks)
	done    bool
}

type notice struct {
	code Code
	info string
}

// Instance is an asynchronous client of one bucket or of the cluster
// management API. Submission calls only queue work; Wait runs it and
// delivers callbacks until everything submitted has completed.
//
// An Instance is meant to be driven by one goroutine at a time.
type Instance struct {
	opts     Options
	logger   *slog.Logger
	restBase string
	hostname string

	waitMu sync.Mutex

	mu       sync.Mutex
	cb       Callbacks
	queue    *deque.Deque[*operation]
	state    connState
	bootCode Code
	cfg      *vbucket.Config
	nodes    []*node
	notices  []notice
	closed   bool
}

// New validates opts and returns an unconnected instance.
func New(opts Options) (*Instance, error) {
	opts.setDefaults()

	hostport, hostname, err := managementAddr(opts.Host)
	if err != nil {
		return nil, err
	}
	if opts.Type == TypeBucket && opts.Bucket == "" {
		return nil, fmt.Errorf("engine: bucket name is required: %w", CodeInvalidArgs)
	}

	return &Instance{
		opts:     opts,
		logger:   opts.Logger,
		restBase: "http://" + hostport + "/",
		hostname: hostname,
		queue:    deque.NewDeque[*operation](),
	}, nil
}

func managementAddr(host string) (hostport, hostname string, err error) {
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		return "", "", fmt.Errorf("engine: host is required: %w", CodeInvalidArgs)
	}
	if h, _, splitErr := net.SplitHostPort(host); splitErr == nil {
		return host, h, nil
	}
	return net.JoinHostPort(host, strconv.Itoa(DefaultManagementPort)), host, nil
}

// SetCallbacks installs the completion receiver. Completions delivered
// while no receiver is installed are dropped.
func (i *Instance) SetCallbacks(cb Callbacks) {
	i.mu.Lock()
	i.cb = cb
	i.mu.Unlock()
}

// Connect schedules bootstrap. A second call is reported to the Error
// callback as CodeAlreadyConnected and otherwise ignored.
func (i *Instance) Connect() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrClosed
	}
	if i.state != stateIdle {
		i.notices = append(i.notices, notice{code: CodeAlreadyConnected, info: "connect already scheduled"})
		return nil
	}
	i.state = stateConnecting

	i.queue.PushBack(&operation{
		name:    "bootstrap",
		barrier: true,
		timeout: i.opts.HTTPTimeout,
		run:     i.bootstrap,
	})
	return nil
}

func (i *Instance) schedule(op *operation) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrClosed
	}
	if op.timeout == 0 {
		op.timeout = i.opts.Timeout
	}
	i.queue.PushBack(op)
	return nil
}

// notify records a condition for the Error callback. Safe from any goroutine.
func (i *Instance) notify(code Code, info string) {
	i.logger.Warn("engine: "+info, "code", code.String())

	i.mu.Lock()
	i.notices = append(i.notices, notice{code: code, info: info})
	i.mu.Unlock()
}

// Wait runs every queued operation and blocks until all of them have
// delivered their callbacks. Operations queued by callbacks are run too.
func (i *Instance) Wait() error {
	i.waitMu.Lock()
	defer i.waitMu.Unlock()

	for {
		batch := i.nextBatch()
		if batch == nil {
			i.flushNotices()
			return i.closedErr()
		}
		i.drain(batch)
	}
}

func (i *Instance) closedErr() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}
	return nil
}

// nextBatch pops the operations that can run together.
func (i *Instance) nextBatch() []*operation {
	i.mu.Lock()
	defer i.mu.Unlock()

	var batch []*operation
	for i.queue.Len() > 0 {
		op := i.queue.PopFront()
		if op.barrier {
			if len(batch) > 0 {
				i.queue.PushFront(op)
				break
			}
			return []*operation{op}
		}
		batch = append(batch, op)
	}
	return batch
}

func (i *Instance) drain(batch []*operation) {
	events := make(chan event)

	for _, op := range batch {
		i.logger.Debug("engine: dispatch", "op", op.name)
		go func(op *operation) {
			ctx, cancel := context.WithTimeout(context.Background(), op.timeout)
			defer cancel()

			op.run(ctx, func(deliver func(Callbacks)) {
				events <- event{deliver: deliver}
			})
			events <- event{done: true}
		}(op)
	}

	for outstanding := len(batch); outstanding > 0; {
		ev := <-events
		if ev.done {
			outstanding--
			continue
		}
		i.flushNotices()
		if cb := i.callbacks(); cb != nil {
			ev.deliver(cb)
		}
	}
	i.flushNotices()
}

func (i *Instance) callbacks() Callbacks {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cb
}

func (i *Instance) flushNotices() {
	i.mu.Lock()
	notices := i.notices
	i.notices = nil
	cb := i.cb
	i.mu.Unlock()

	if cb == nil {
		return
	}
	for _, n := range notices {
		cb.Error(n.code, n.info)
	}
}

// Close releases every node connection. Later calls return ErrClosed.
func (i *Instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	nodes := i.nodes
	i.nodes = nil
	i.queue = deque.NewDeque[*operation]()
	i.mu.Unlock()

	for _, n := range nodes {
		n.close()
	}
	return nil
}

// topology returns the bucket config and nodes, or the code explaining their absence.
func (i *Instance) topology() (*vbucket.Config, []*node, Code) {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch i.state {
	case stateConnected:
		if i.opts.Type == TypeCluster {
			return nil, nil, CodeNotSupported
		}
		return i.cfg, i.nodes, CodeSuccess
	case stateFailed:
		return nil, nil, i.bootCode
	default:
		return nil, nil, CodeNotConnected
	}
}
