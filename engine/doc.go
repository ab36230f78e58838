// Package engine is an asynchronous Couchbase protocol engine.
//
// Work is submitted with non-blocking calls and executed by Wait, which
// delivers completions to a Callbacks implementation on the calling
// goroutine:
//
//	inst, err := engine.New(engine.Options{Host: "localhost", Bucket: "default"})
//	inst.SetCallbacks(cb)
//	inst.Connect()
//	inst.Get(nil, "key")
//	inst.Wait() // cb.Get has been called
//
// Bootstrap reads the bucket configuration from the management REST API,
// routes keys through the vbucket map and keeps a connection pool per data
// node. Every key-value operation is bounded by Options.Timeout and every
// HTTP request by Options.HTTPTimeout; expiry surfaces as CodeTimeout.
package engine
