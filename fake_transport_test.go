package couchbase

import (
	"strconv"
	"sync"

	"github.com/pior/couchbase/engine"
)

type fakeDoc struct {
	value []byte
	flags uint32
	cas   uint64
}

type fakeNotice struct {
	code engine.Code
	info string
}

// fakeTransport is an in-memory Transport. Submissions queue a completion
// that the next Wait delivers, unless hold is set, in which case the
// completion is kept for the Wait after. With stall set, completions are
// kept until unstall.
type fakeTransport struct {
	mu sync.Mutex

	opts      engine.Options
	cb        engine.Callbacks
	connected bool
	closed    bool

	docs    map[string]fakeDoc
	nextCas uint64

	// nodes answer stats and flush. nodeCodes fails some of them.
	nodes     []string
	nodeCodes map[string]engine.Code
	stats     [][2]string

	// connectNotices are delivered to Error by the Wait after Connect.
	connectNotices []fakeNotice
	connectErr     error

	// warmup answers that many gets with a temporary failure.
	warmup int

	// submitErr fails every submission.
	submitErr error
	// codes forces the completion code of an operation name.
	codes map[string]engine.Code
	// http answers MakeHTTPRequest.
	http func(req engine.HTTPRequest) (engine.Code, *engine.HTTPResponse)

	hold     bool
	held     []func(engine.Callbacks)
	stall    bool
	stalled  []func(engine.Callbacks)
	queue    []func(engine.Callbacks)
	requests []engine.HTTPRequest
	stores   []fakeStore
	waits    int
	opens    int
	closes   int
}

type fakeStore struct {
	op     engine.StoreOp
	key    string
	expiry uint32
	cas    uint64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		docs:      map[string]fakeDoc{},
		nodes:     []string{"10.0.0.1:11210", "10.0.0.2:11210"},
		nodeCodes: map[string]engine.Code{},
		stats:     [][2]string{{"pid", "42"}, {"curr_items", "7"}},
		codes:     map[string]engine.Code{},
	}
}

// config returns a Config whose transports are t.
func (t *fakeTransport) config() Config {
	return Config{newTransport: func(opts engine.Options) (Transport, error) {
		t.mu.Lock()
		t.opts = opts
		t.opens++
		t.closed = false
		t.connected = false
		t.mu.Unlock()
		return t, nil
	}}
}

// unstall queues the stalled completions for the next Wait.
func (t *fakeTransport) unstall() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stall = false
	t.queue = append(t.queue, t.stalled...)
	t.stalled = nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) SetCallbacks(cb engine.Callbacks) {
	t.mu.Lock()
	t.cb = cb
	t.mu.Unlock()
}

func (t *fakeTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	if t.connected {
		t.push(func(cb engine.Callbacks) { cb.Error(engine.CodeAlreadyConnected, "connect already scheduled") })
		return nil
	}
	t.connected = true
	for _, n := range t.connectNotices {
		t.push(func(cb engine.Callbacks) { cb.Error(n.code, n.info) })
	}
	return nil
}

// push queues a completion. Called with t.mu held.
func (t *fakeTransport) push(fn func(engine.Callbacks)) {
	if t.stall {
		t.stalled = append(t.stalled, fn)
		return
	}
	if t.hold {
		t.hold = false
		t.held = append(t.held, fn)
		return
	}
	t.queue = append(t.queue, fn)
}

func (t *fakeTransport) submit(fn func(engine.Callbacks)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return engine.ErrClosed
	}
	if t.submitErr != nil {
		return t.submitErr
	}
	t.push(fn)
	return nil
}

// code returns the forced code for op, or def. Called with t.mu held.
func (t *fakeTransport) code(op string, def engine.Code) engine.Code {
	if c, ok := t.codes[op]; ok {
		return c
	}
	return def
}

func (t *fakeTransport) Get(cookie any, key string) error {
	return t.submit(func(cb engine.Callbacks) {
		t.mu.Lock()
		d, ok := t.docs[key]
		code := engine.CodeSuccess
		if !ok {
			code = engine.CodeKeyNotFound
		}
		if t.warmup > 0 {
			t.warmup--
			code = engine.CodeTmpFail
		}
		code = t.code("get", code)
		t.mu.Unlock()
		cb.Get(cookie, code, key, d.value, d.flags, d.cas)
	})
}

func (t *fakeTransport) Store(cookie any, op engine.StoreOp, key string, value []byte, flags, expiry uint32, cas uint64) error {
	return t.submit(func(cb engine.Callbacks) {
		t.mu.Lock()
		t.stores = append(t.stores, fakeStore{op: op, key: key, expiry: expiry, cas: cas})
		code, newCas := t.store(op, key, value, flags, cas)
		code = t.code(op.String(), code)
		t.mu.Unlock()
		cb.Store(cookie, code, key, newCas)
	})
}

// store applies a write. Called with t.mu held.
func (t *fakeTransport) store(op engine.StoreOp, key string, value []byte, flags uint32, cas uint64) (engine.Code, uint64) {
	d, exists := t.docs[key]
	switch {
	case cas != 0 && !exists:
		return engine.CodeKeyNotFound, 0
	case cas != 0 && d.cas != cas:
		return engine.CodeKeyExists, 0
	case op == engine.StoreAdd && exists:
		return engine.CodeNotStored, 0
	case (op == engine.StoreReplace || op == engine.StoreAppend || op == engine.StorePrepend) && !exists:
		return engine.CodeNotStored, 0
	}

	switch op {
	case engine.StoreAppend:
		value = append(append([]byte{}, d.value...), value...)
		flags = d.flags
	case engine.StorePrepend:
		value = append(append([]byte{}, value...), d.value...)
		flags = d.flags
	}
	t.nextCas++
	t.docs[key] = fakeDoc{value: value, flags: flags, cas: t.nextCas}
	return engine.CodeSuccess, t.nextCas
}

func (t *fakeTransport) Remove(cookie any, key string, cas uint64) error {
	return t.submit(func(cb engine.Callbacks) {
		t.mu.Lock()
		code := engine.CodeKeyNotFound
		if _, ok := t.docs[key]; ok {
			delete(t.docs, key)
			code = engine.CodeSuccess
		}
		code = t.code("delete", code)
		t.mu.Unlock()
		cb.Remove(cookie, code, key)
	})
}

func (t *fakeTransport) Arithmetic(cookie any, key string, delta int64, initial uint64, create bool, expiry uint32) error {
	return t.submit(func(cb engine.Callbacks) {
		t.mu.Lock()
		code, value := t.arithmetic(key, delta, initial, create)
		code = t.code("arithmetic", code)
		t.mu.Unlock()
		cb.Arithmetic(cookie, code, key, value, 0)
	})
}

// arithmetic applies a counter update. Called with t.mu held.
func (t *fakeTransport) arithmetic(key string, delta int64, initial uint64, create bool) (engine.Code, uint64) {
	d, ok := t.docs[key]
	var value uint64
	switch {
	case !ok && !create:
		return engine.CodeKeyNotFound, 0
	case !ok:
		value = initial
	default:
		current, err := strconv.ParseUint(string(d.value), 10, 64)
		if err != nil {
			return engine.CodeDeltaBadValue, 0
		}
		switch {
		case delta >= 0:
			value = current + uint64(delta)
		case uint64(-delta) > current:
			value = 0
		default:
			value = current - uint64(-delta)
		}
	}
	t.nextCas++
	t.docs[key] = fakeDoc{value: []byte(strconv.FormatUint(value, 10)), cas: t.nextCas}
	return engine.CodeSuccess, value
}

func (t *fakeTransport) Stats(cookie any, name string) error {
	return t.submit(func(cb engine.Callbacks) {
		t.mu.Lock()
		nodes, codes, stats := t.nodes, t.nodeCodes, t.stats
		final := t.code("stats", engine.CodeSuccess)
		t.mu.Unlock()

		for _, n := range nodes {
			if code, failed := codes[n]; failed {
				cb.Stat(cookie, n, code, "", "")
				continue
			}
			for _, s := range stats {
				cb.Stat(cookie, n, engine.CodeSuccess, s[0], s[1])
			}
		}
		cb.Stat(cookie, "", final, "", "")
	})
}

func (t *fakeTransport) Flush(cookie any) error {
	return t.submit(func(cb engine.Callbacks) {
		t.mu.Lock()
		nodes, codes := t.nodes, t.nodeCodes
		final := t.code("flush", engine.CodeSuccess)
		t.docs = map[string]fakeDoc{}
		t.mu.Unlock()

		for _, n := range nodes {
			code, failed := codes[n]
			if !failed {
				code = engine.CodeSuccess
			}
			cb.Flush(cookie, n, code)
		}
		cb.Flush(cookie, "", final)
	})
}

func (t *fakeTransport) MakeHTTPRequest(cookie any, req engine.HTTPRequest) error {
	return t.submit(func(cb engine.Callbacks) {
		t.mu.Lock()
		t.requests = append(t.requests, req)
		handler := t.http
		t.mu.Unlock()

		code, resp := engine.CodeSuccess, &engine.HTTPResponse{Status: 200, Path: req.Path}
		if handler != nil {
			code, resp = handler(req)
		}
		cb.HTTPComplete(cookie, code, resp)
	})
}

func (t *fakeTransport) lastRequest() engine.HTTPRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.requests) == 0 {
		return engine.HTTPRequest{}
	}
	return t.requests[len(t.requests)-1]
}

func (t *fakeTransport) Wait() error {
	t.mu.Lock()
	t.waits++
	queue := t.queue
	t.queue = t.held
	t.held = nil
	cb := t.cb
	closed := t.closed
	t.mu.Unlock()

	for _, fn := range queue {
		fn(cb)
	}
	if closed {
		return engine.ErrClosed
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.closes++
	t.mu.Unlock()
	return nil
}

// put stores a document directly.
func (t *fakeTransport) put(key string, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextCas++
	t.docs[key] = fakeDoc{value: []byte(value), cas: t.nextCas}
}

func (t *fakeTransport) doc(key string) (fakeDoc, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.docs[key]
	return d, ok
}
