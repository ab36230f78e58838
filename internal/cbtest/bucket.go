package cbtest

import (
	"encoding/binary"
	"net/url"
	"strconv"
	"sync"

	"github.com/pior/couchbase/memd"
)

type item struct {
	value  []byte
	flags  uint32
	expiry uint32
	cas    uint64
}

// Bucket is an in-memory bucket.
type Bucket struct {
	Name       string
	Type       string
	RAMQuotaMB int

	mu        sync.Mutex
	items     map[string]*item
	cas       uint64
	warmup    int
	designs   map[string][]byte
	views     map[string]string
	viewQuery url.Values
}

func newBucket(name, bucketType string) *Bucket {
	if bucketType == "" {
		bucketType = BucketCouchbase
	}
	return &Bucket{
		Name:       name,
		Type:       bucketType,
		RAMQuotaMB: 100,
		items:      map[string]*item{},
		designs:    map[string][]byte{},
		views:      map[string]string{},
	}
}

// Put stores a document directly.
func (b *Bucket) Put(key string, value []byte, flags uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cas++
	b.items[key] = &item{value: append([]byte(nil), value...), flags: flags, cas: b.cas}
}

// Value returns the stored document.
func (b *Bucket) Value(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.items[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), it.value...), true
}

// Expiry returns the expiry recorded with the last write of key.
func (b *Bucket) Expiry(key string) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if it, ok := b.items[key]; ok {
		return it.expiry
	}
	return 0
}

// Len is the number of stored documents.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// SetWarmup makes the next n key operations fail temporarily.
func (b *Bucket) SetWarmup(n int) {
	b.mu.Lock()
	b.warmup = n
	b.mu.Unlock()
}

// SetView sets the JSON body returned for a view path such as
// "_design/dev_test/_view/all".
func (b *Bucket) SetView(path, body string) {
	b.mu.Lock()
	b.views[path] = body
	b.mu.Unlock()
}

// LastViewQuery returns the query parameters of the last view request.
func (b *Bucket) LastViewQuery() url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewQuery
}

// DesignDoc returns a saved design document.
func (b *Bucket) DesignDoc(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.designs[name]
	return doc, ok
}

func (b *Bucket) nextCas() uint64 {
	b.cas++
	return b.cas
}

// execute applies a key operation and returns its response.
func (b *Bucket) execute(req *memd.Packet) *memd.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp := &memd.Packet{Magic: memd.MagicRes, OpCode: req.OpCode, Opaque: req.Opaque}
	fail := func(s memd.Status, msg string) *memd.Packet {
		resp.Status = s
		resp.Value = []byte(msg)
		return resp
	}

	if b.warmup > 0 {
		b.warmup--
		return fail(memd.StatusTmpFail, "Temporary failure")
	}

	key := string(req.Key)
	it, exists := b.items[key]

	switch req.OpCode {
	case memd.OpGet:
		if !exists {
			return fail(memd.StatusKeyNotFound, "Not found")
		}
		resp.Extras = memd.FlagsExtras(it.flags)
		resp.Value = append([]byte(nil), it.value...)
		resp.Cas = it.cas

	case memd.OpSet, memd.OpAdd, memd.OpReplace:
		if len(req.Extras) != 8 {
			return fail(memd.StatusInvalidArgs, "Invalid arguments")
		}
		switch {
		case req.OpCode == memd.OpAdd && exists:
			return fail(memd.StatusKeyExists, "Data exists for key")
		case req.OpCode == memd.OpReplace && !exists:
			return fail(memd.StatusKeyNotFound, "Not found")
		case req.Cas != 0 && !exists:
			return fail(memd.StatusKeyNotFound, "Not found")
		case req.Cas != 0 && it.cas != req.Cas:
			return fail(memd.StatusKeyExists, "Data exists for key")
		}
		flags := binary.BigEndian.Uint32(req.Extras[0:4])
		expiry := binary.BigEndian.Uint32(req.Extras[4:8])
		next := &item{value: append([]byte(nil), req.Value...), flags: flags, expiry: expiry, cas: b.nextCas()}
		b.items[key] = next
		resp.Cas = next.cas

	case memd.OpAppend, memd.OpPrepend:
		if !exists {
			return fail(memd.StatusNotStored, "Not stored")
		}
		if req.OpCode == memd.OpAppend {
			it.value = append(it.value, req.Value...)
		} else {
			it.value = append(append([]byte(nil), req.Value...), it.value...)
		}
		it.cas = b.nextCas()
		resp.Cas = it.cas

	case memd.OpDelete:
		if !exists {
			return fail(memd.StatusKeyNotFound, "Not found")
		}
		if req.Cas != 0 && it.cas != req.Cas {
			return fail(memd.StatusKeyExists, "Data exists for key")
		}
		delete(b.items, key)
		resp.Cas = b.nextCas()

	case memd.OpIncrement, memd.OpDecrement:
		return b.counter(req, resp, it, exists)

	default:
		return fail(memd.StatusUnknownCommand, "Unknown command")
	}
	return resp
}

func (b *Bucket) counter(req, resp *memd.Packet, it *item, exists bool) *memd.Packet {
	if len(req.Extras) != 20 {
		resp.Status = memd.StatusInvalidArgs
		return resp
	}
	delta := binary.BigEndian.Uint64(req.Extras[0:8])
	initial := binary.BigEndian.Uint64(req.Extras[8:16])
	expiry := binary.BigEndian.Uint32(req.Extras[16:20])
	key := string(req.Key)

	var value uint64
	switch {
	case !exists && expiry == memd.NoCreateExpiry:
		resp.Status = memd.StatusKeyNotFound
		resp.Value = []byte("Not found")
		return resp
	case !exists:
		value = initial
		it = &item{expiry: expiry}
		b.items[key] = it
	default:
		current, err := strconv.ParseUint(string(it.value), 10, 64)
		if err != nil {
			resp.Status = memd.StatusBadDelta
			resp.Value = []byte("Non-numeric server-side value for incr or decr")
			return resp
		}
		if req.OpCode == memd.OpIncrement {
			value = current + delta
		} else if delta > current {
			value = 0
		} else {
			value = current - delta
		}
	}

	it.value = []byte(strconv.FormatUint(value, 10))
	it.cas = b.nextCas()
	resp.Cas = it.cas
	resp.Value = memd.CounterResponseValue(value)
	return resp
}

func (b *Bucket) stats(group string) ([][2]string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch group {
	case "":
		return [][2]string{
			{"pid", "4242"},
			{"curr_items", strconv.Itoa(len(b.items))},
		}, true
	case "memory":
		return [][2]string{{"mem_used", "1048576"}}, true
	}
	return nil, false
}

func (b *Bucket) flush() {
	b.mu.Lock()
	b.items = map[string]*item{}
	b.mu.Unlock()
}
