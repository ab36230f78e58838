package couchbase

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pior/couchbase/engine"
)

// maxRelativeExpiry is the longest expiration sent as a relative number of
// seconds. Longer ones are sent as an absolute unix time.
const maxRelativeExpiry = 30 * 24 * time.Hour

const designDocPrefix = "_design/"

// GetResult is a fetched document. A document holding only decimal digits
// is decoded as a counter: IsCounter is set, Counter holds the number and
// Value is nil.
type GetResult struct {
	Key       string
	Flags     uint32
	Cas       uint64
	Value     []byte
	Counter   uint64
	IsCounter bool
}

// Stat is one statistic of one node. A node that could not be queried
// yields a single Stat with an empty Name and Err set.
type Stat struct {
	Server string
	Name   string
	Value  string
	Err    error
}

// FlushAck is the outcome of a flush on one node.
type FlushAck struct {
	Server string
	Err    error
}

// ViewRow is one row of a view result, with the JSON fields kept raw.
type ViewRow struct {
	ID    string          `json:"id,omitempty"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
	Doc   json.RawMessage `json:"doc,omitempty"`
}

// Bucket is a connection to one bucket. Its methods are safe for concurrent
// use but run one at a time.
type Bucket struct {
	name  string
	conn  *connection
	cfg   *Config
	stats *clientStatsCollector
}

func openBucket(cfg *Config, host, username, password, name string) (*Bucket, error) {
	conn, err := openConnection(cfg, cfg.engineOptions(host, username, password, name, engine.TypeBucket))
	if err != nil {
		return nil, err
	}
	return &Bucket{
		name:  name,
		conn:  conn,
		cfg:   cfg,
		stats: newClientStatsCollector(),
	}, nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Close releases the connection. Every later call fails with ErrClosed.
func (b *Bucket) Close() error {
	return b.conn.close()
}

// OperationStats returns a snapshot of the operation counters.
func (b *Bucket) OperationStats() ClientStats {
	return b.stats.snapshot()
}

func (b *Bucket) record(op string, started time.Time, err error) {
	if err != nil {
		b.stats.recordError()
	}
	b.cfg.Metrics.observe(b.name, op, started, err)
}

// expiry converts an expiration into the protocol representation.
func (b *Bucket) expiry(op, key string, expiration time.Duration) (uint32, error) {
	switch {
	case expiration < 0:
		return 0, &Error{Op: op, Key: key, Kind: KindMalformedArgument, Message: "negative expiration"}
	case expiration == 0:
		return 0, nil
	case expiration > maxRelativeExpiry:
		return uint32(b.cfg.Clock.Now().Add(expiration).Unix()), nil
	}
	secs := (expiration + time.Second - 1) / time.Second
	return uint32(secs), nil
}

// Get fetches a document.
func (b *Bucket) Get(key string) (GetResult, error) {
	started := time.Now()
	var res GetResult

	err := b.conn.do("get", key, slotGet,
		func(t Transport) error { return t.Get(nil, key) },
		func(r *router) error {
			if err := codeError("get", key, r.get.code); err != nil {
				return err
			}
			res = newGetResult(key, r.get.value, r.get.flags, r.get.cas)
			return nil
		})

	b.stats.recordGet(err == nil)
	b.record("get", started, err)
	if err != nil {
		return GetResult{}, err
	}
	return res, nil
}

func newGetResult(key string, value []byte, flags uint32, cas uint64) GetResult {
	res := GetResult{Key: key, Flags: flags, Cas: cas, Value: value}
	if isDigits(value) {
		if n, err := strconv.ParseUint(string(value), 10, 64); err == nil {
			res.Counter = n
			res.IsCounter = true
			res.Value = nil
		}
	}
	return res
}

func isDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Set stores value under key unconditionally and returns the new cas.
func (b *Bucket) Set(key string, expiration time.Duration, flags uint32, value []byte) (uint64, error) {
	return b.store(engine.StoreSet, key, expiration, flags, value, 0)
}

// Add stores value only if key does not exist.
func (b *Bucket) Add(key string, expiration time.Duration, flags uint32, value []byte) (uint64, error) {
	return b.store(engine.StoreAdd, key, expiration, flags, value, 0)
}

// Replace stores value only if key exists.
func (b *Bucket) Replace(key string, expiration time.Duration, flags uint32, value []byte) (uint64, error) {
	return b.store(engine.StoreReplace, key, expiration, flags, value, 0)
}

// Append adds value at the end of an existing document.
func (b *Bucket) Append(key string, value []byte) (uint64, error) {
	return b.store(engine.StoreAppend, key, 0, 0, value, 0)
}

// Prepend adds value at the start of an existing document.
func (b *Bucket) Prepend(key string, value []byte) (uint64, error) {
	return b.store(engine.StorePrepend, key, 0, 0, value, 0)
}

// CompareAndSwap replaces the document only if its cas still equals cas.
func (b *Bucket) CompareAndSwap(key string, cas uint64, expiration time.Duration, flags uint32, value []byte) (uint64, error) {
	if cas == 0 {
		return 0, &Error{Op: "cas", Key: key, Kind: KindMalformedArgument, Message: "cas is required"}
	}
	return b.store(engine.StoreReplace, key, expiration, flags, value, cas)
}

func (b *Bucket) store(mode engine.StoreOp, key string, expiration time.Duration, flags uint32, value []byte, cas uint64) (uint64, error) {
	started := time.Now()
	op := mode.String()
	if cas != 0 {
		op = "cas"
	}

	exp, err := b.expiry(op, key, expiration)
	if err != nil {
		b.record(op, started, err)
		return 0, err
	}

	var newCas uint64
	err = b.conn.do(op, key, slotStore,
		func(t Transport) error { return t.Store(nil, mode, key, value, flags, exp, cas) },
		func(r *router) error {
			if err := storeError(mode, key, cas, r.store.code); err != nil {
				return err
			}
			newCas = r.store.cas
			return nil
		})

	b.stats.recordStore()
	b.record(op, started, err)
	return newCas, err
}

// Delete removes a document. Keys starting with "_design/" name design
// documents, which are deleted through the view API.
func (b *Bucket) Delete(key string) error {
	if strings.HasPrefix(key, designDocPrefix) {
		return b.deleteDesignDoc(key)
	}

	started := time.Now()
	err := b.conn.do("delete", key, slotRemove,
		func(t Transport) error { return t.Remove(nil, key, 0) },
		func(r *router) error { return codeError("delete", key, r.remove.code) })

	b.stats.recordDelete()
	b.record("delete", started, err)
	return err
}

func (b *Bucket) deleteDesignDoc(path string) error {
	started := time.Now()
	err := b.doHTTP("delete", engine.HTTPRequest{Type: engine.HTTPView, Method: http.MethodDelete, Path: path}, nil)

	b.stats.recordDelete()
	b.record("delete", started, err)
	return err
}

// SaveDesignDoc creates or replaces the design document name, given as JSON.
func (b *Bucket) SaveDesignDoc(name string, doc []byte) error {
	started := time.Now()
	req := engine.HTTPRequest{
		Type:        engine.HTTPView,
		Method:      http.MethodPut,
		Path:        designDocPrefix + strings.TrimPrefix(name, designDocPrefix),
		Body:        doc,
		ContentType: "application/json",
	}
	err := b.doHTTP("save_design_doc", req, nil)

	b.stats.recordView()
	b.record("save_design_doc", started, err)
	return err
}

// doHTTP runs an HTTP request on the connection. A 404 fails with
// KindNotFound and any other non-2xx status with KindHTTPStatus.
func (b *Bucket) doHTTP(op string, req engine.HTTPRequest, body *[]byte) error {
	return b.conn.do(op, req.Path, slotHTTP,
		func(t Transport) error { return t.MakeHTTPRequest(nil, req) },
		func(r *router) error {
			resp := r.http.resp
			switch {
			case r.http.code == engine.CodeSuccess:
				if body != nil && resp != nil {
					*body = resp.Body
				}
				return nil
			case r.http.code == engine.CodeHTTPError && resp != nil && resp.Status == http.StatusNotFound:
				return &Error{Op: op, Key: req.Path, Kind: KindNotFound, Code: r.http.code, Status: resp.Status, Message: string(resp.Body)}
			case r.http.code == engine.CodeHTTPError && resp != nil:
				return httpError(op, req.Path, resp.Status, resp.Body)
			}
			return codeError(op, req.Path, r.http.code)
		})
}

// Incr adds delta to a counter and returns the new value. A missing key is
// created with initial, which is then returned.
func (b *Bucket) Incr(key string, delta, initial uint64, expiration time.Duration) (uint64, error) {
	return b.arithmetic("incr", key, delta, false, initial, expiration)
}

// Decr subtracts delta from a counter, stopping at zero. A missing key is
// created with initial, which is then returned.
func (b *Bucket) Decr(key string, delta, initial uint64, expiration time.Duration) (uint64, error) {
	return b.arithmetic("decr", key, delta, true, initial, expiration)
}

func (b *Bucket) arithmetic(op, key string, delta uint64, negative bool, initial uint64, expiration time.Duration) (uint64, error) {
	started := time.Now()

	if delta > math.MaxInt64 {
		err := &Error{Op: op, Key: key, Kind: KindMalformedArgument, Message: "delta out of range"}
		b.record(op, started, err)
		return 0, err
	}
	signed := int64(delta)
	if negative {
		signed = -signed
	}

	exp, err := b.expiry(op, key, expiration)
	if err != nil {
		b.record(op, started, err)
		return 0, err
	}

	var value uint64
	err = b.conn.do(op, key, slotArithmetic,
		func(t Transport) error { return t.Arithmetic(nil, key, signed, initial, true, exp) },
		func(r *router) error {
			if err := codeError(op, key, r.arithmetic.code); err != nil {
				return err
			}
			value = r.arithmetic.value
			return nil
		})

	b.stats.recordArithmetic()
	b.record(op, started, err)
	return value, err
}

// Stats returns the statistics group name of every node, the default group
// when name is empty. A node that fails contributes one entry with Err set.
func (b *Bucket) Stats(name string) ([]Stat, error) {
	started := time.Now()
	var out []Stat

	err := b.conn.do("stats", name, slotStat,
		func(t Transport) error { return t.Stats(nil, name) },
		func(r *router) error {
			if err := codeError("stats", name, r.stat.code); err != nil {
				return err
			}
			out = r.stat.entries
			return nil
		})

	b.record("stats", started, err)
	return out, err
}

// Flush deletes every document of the bucket, on every node.
func (b *Bucket) Flush() ([]FlushAck, error) {
	started := time.Now()
	var out []FlushAck

	err := b.conn.do("flush", "", slotFlush,
		func(t Transport) error { return t.Flush(nil) },
		func(r *router) error {
			if err := codeError("flush", "", r.flush.code); err != nil {
				return err
			}
			out = r.flush.acks
			return nil
		})

	b.record("flush", started, err)
	return out, err
}

// jsonViewParams are the view parameters sent JSON encoded.
var jsonViewParams = map[string]bool{
	"key":      true,
	"keys":     true,
	"startkey": true,
	"endkey":   true,
}

// View queries a view, path being "_design/<ddoc>/_view/<name>". The key,
// keys, startkey and endkey parameters are JSON encoded, the others are
// formatted with fmt.Sprint.
func (b *Bucket) View(path string, params map[string]any) ([]ViewRow, error) {
	started := time.Now()

	query, err := encodeViewParams("view", path, params)
	if err != nil {
		b.record("view", started, err)
		return nil, err
	}
	full := strings.TrimPrefix(path, "/")
	if query != "" {
		full += "?" + query
	}

	var body []byte
	err = b.doHTTP("view", engine.HTTPRequest{Type: engine.HTTPView, Method: http.MethodGet, Path: full}, &body)

	var rows []ViewRow
	if err == nil {
		rows, err = decodeViewRows(path, body)
	}

	b.stats.recordView()
	b.record("view", started, err)
	return rows, err
}

func encodeViewParams(op, path string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}

	values := url.Values{}
	for name, v := range params {
		if !jsonViewParams[name] {
			values.Set(name, fmt.Sprint(v))
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", &Error{Op: op, Key: path, Kind: KindMalformedArgument, Message: fmt.Sprintf("parameter %s: %v", name, err)}
		}
		values.Set(name, string(data))
	}
	return values.Encode(), nil
}

func decodeViewRows(path string, body []byte) ([]ViewRow, error) {
	var result struct {
		Rows []ViewRow `json:"rows"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &Error{Op: "view", Key: path, Kind: KindProtocol, Message: "invalid view response: " + err.Error(), err: err}
	}
	return result.Rows, nil
}
