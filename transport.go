package couchbase

import "github.com/pior/couchbase/engine"

// Transport is the asynchronous engine a connection drives. Submission
// methods only queue work; Wait runs it and delivers every completion to
// the installed callbacks before returning.
type Transport interface {
	SetCallbacks(cb engine.Callbacks)
	Connect() error

	Get(cookie any, key string) error
	Store(cookie any, op engine.StoreOp, key string, value []byte, flags, expiry uint32, cas uint64) error
	Remove(cookie any, key string, cas uint64) error
	Arithmetic(cookie any, key string, delta int64, initial uint64, create bool, expiry uint32) error
	Stats(cookie any, name string) error
	Flush(cookie any) error
	MakeHTTPRequest(cookie any, req engine.HTTPRequest) error

	Wait() error
	Close() error
}

var _ Transport = (*engine.Instance)(nil)

func newEngineTransport(opts engine.Options) (Transport, error) {
	return engine.New(opts)
}
