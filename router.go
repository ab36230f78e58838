package couchbase

import (
	"log/slog"

	"github.com/pior/couchbase/engine"
)

// maxLoggedErrors bounds the connection-level error log.
const maxLoggedErrors = 64

type slotKind int

const (
	slotGet slotKind = iota
	slotStore
	slotRemove
	slotArithmetic
	slotStat
	slotFlush
	slotHTTP
)

type slotState struct {
	pending bool
	code    engine.Code
}

type getSlot struct {
	slotState
	value []byte
	flags uint32
	cas   uint64
}

type storeSlot struct {
	slotState
	cas uint64
}

type arithmeticSlot struct {
	slotState
	value uint64
}

type statSlot struct {
	slotState
	entries []Stat
}

type flushSlot struct {
	slotState
	acks []FlushAck
}

type httpSlot struct {
	slotState
	resp *engine.HTTPResponse
}

type loggedError struct {
	code engine.Code
	info string
}

// router receives engine callbacks for one connection and stores each
// completion in the slot of its operation kind. It is only touched from
// the goroutine holding the connection lock.
type router struct {
	logger *slog.Logger

	get        getSlot
	store      storeSlot
	remove     slotState
	arithmetic arithmeticSlot
	stat       statSlot
	flush      flushSlot
	http       httpSlot

	errors []loggedError
}

var _ engine.Callbacks = (*router)(nil)

func newRouter(logger *slog.Logger) *router {
	return &router{logger: logger}
}

func (r *router) slot(kind slotKind) *slotState {
	switch kind {
	case slotGet:
		return &r.get.slotState
	case slotStore:
		return &r.store.slotState
	case slotRemove:
		return &r.remove
	case slotArithmetic:
		return &r.arithmetic.slotState
	case slotStat:
		return &r.stat.slotState
	case slotFlush:
		return &r.flush.slotState
	default:
		return &r.http.slotState
	}
}

// arm clears the payload of kind and marks it pending.
func (r *router) arm(kind slotKind) {
	switch kind {
	case slotGet:
		r.get = getSlot{}
	case slotStore:
		r.store = storeSlot{}
	case slotRemove:
		r.remove = slotState{}
	case slotArithmetic:
		r.arithmetic = arithmeticSlot{}
	case slotStat:
		r.stat = statSlot{}
	case slotFlush:
		r.flush = flushSlot{}
	case slotHTTP:
		r.http = httpSlot{}
	}
	r.slot(kind).pending = true
}

func (r *router) Error(code engine.Code, info string) {
	if code != engine.CodeAlreadyConnected {
		r.logger.Warn("couchbase: connection error", "code", code.String(), "info", info)
	}
	if len(r.errors) == maxLoggedErrors {
		r.errors = append(r.errors[:0], r.errors[1:]...)
	}
	r.errors = append(r.errors, loggedError{code: code, info: info})
}

// connectError returns the last logged error that is not benign, nil if none.
func (r *router) connectError() error {
	for i := len(r.errors) - 1; i >= 0; i-- {
		e := r.errors[i]
		if e.code == engine.CodeAlreadyConnected {
			continue
		}
		return &Error{Op: "connect", Kind: kindOf(e.code), Code: e.code, Message: e.info}
	}
	return nil
}

func (r *router) clearErrors() {
	r.errors = r.errors[:0]
}

func (r *router) Get(_ any, code engine.Code, _ string, value []byte, flags uint32, cas uint64) {
	r.get.code = code
	r.get.value = value
	r.get.flags = flags
	r.get.cas = cas
	r.get.pending = false
}

func (r *router) Store(_ any, code engine.Code, _ string, cas uint64) {
	r.store.code = code
	r.store.cas = cas
	r.store.pending = false
}

func (r *router) Remove(_ any, code engine.Code, _ string) {
	r.remove.code = code
	r.remove.pending = false
}

func (r *router) Arithmetic(_ any, code engine.Code, _ string, value uint64, _ uint64) {
	r.arithmetic.code = code
	r.arithmetic.value = value
	r.arithmetic.pending = false
}

// Stat appends one entry per node event; the empty-server sentinel only
// settles the slot.
func (r *router) Stat(_ any, server string, code engine.Code, name, value string) {
	if server == "" {
		r.stat.code = code
		r.stat.pending = false
		return
	}
	r.stat.entries = append(r.stat.entries, Stat{
		Server: server,
		Name:   name,
		Value:  value,
		Err:    codeError("stats", server, code),
	})
}

func (r *router) Flush(_ any, server string, code engine.Code) {
	if server == "" {
		r.flush.code = code
		r.flush.pending = false
		return
	}
	r.flush.acks = append(r.flush.acks, FlushAck{
		Server: server,
		Err:    codeError("flush", server, code),
	})
}

func (r *router) HTTPComplete(_ any, code engine.Code, resp *engine.HTTPResponse) {
	r.http.code = code
	r.http.resp = resp
	r.http.pending = false
}
