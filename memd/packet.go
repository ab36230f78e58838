package memd

import (
	"encoding/binary"
	"fmt"
)

// Packet is a single binary protocol frame, request or response.
// Vbucket is meaningful on requests, Status on responses; both share the
// same two header bytes on the wire.
type Packet struct {
	Magic    Magic
	OpCode   OpCode
	Datatype uint8
	Vbucket  uint16
	Status   Status
	Opaque   uint32
	Cas      uint64
	Extras   []byte
	Key      []byte
	Value    []byte
}

// IsResponse reports whether the packet travelled server to client.
func (p *Packet) IsResponse() bool {
	return p.Magic == MagicRes
}

// Flags returns the client flags carried in the extras of a GET response.
func (p *Packet) Flags() uint32 {
	if len(p.Extras) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(p.Extras)
}

// CounterValue decodes the 8 byte value of an INCREMENT/DECREMENT response.
func (p *Packet) CounterValue() (uint64, error) {
	if len(p.Value) != 8 {
		return 0, &ParseError{Message: fmt.Sprintf("counter response has %d value bytes", len(p.Value))}
	}
	return binary.BigEndian.Uint64(p.Value), nil
}

// IsStatItem reports whether p is a non-terminal packet of a STAT stream.
// The stream ends with an empty-key packet or any error status.
func IsStatItem(p *Packet) bool {
	return p.OpCode == OpStat && p.Status == StatusSuccess && len(p.Key) > 0
}

func newRequest(op OpCode, key string, vb uint16) *Packet {
	p := &Packet{Magic: MagicReq, OpCode: op, Vbucket: vb}
	if key != "" {
		p.Key = []byte(key)
	}
	return p
}

// NewGet builds a GET request.
func NewGet(key string, vb uint16) *Packet {
	return newRequest(OpGet, key, vb)
}

// NewStore builds a SET, ADD, REPLACE, APPEND or PREPEND request.
// APPEND and PREPEND carry no extras, so flags and expiry are ignored for them.
func NewStore(op OpCode, key string, value []byte, flags, expiry uint32, cas uint64, vb uint16) *Packet {
	p := newRequest(op, key, vb)
	p.Value = value
	p.Cas = cas
	if op != OpAppend && op != OpPrepend {
		p.Extras = make([]byte, 8)
		binary.BigEndian.PutUint32(p.Extras[0:4], flags)
		binary.BigEndian.PutUint32(p.Extras[4:8], expiry)
	}
	return p
}

// NewDelete builds a DELETE request.
func NewDelete(key string, cas uint64, vb uint16) *Packet {
	p := newRequest(OpDelete, key, vb)
	p.Cas = cas
	return p
}

// NewCounter builds an INCREMENT or DECREMENT request.
// Pass NoCreateExpiry as expiry to leave a missing key missing.
func NewCounter(op OpCode, key string, delta, initial uint64, expiry uint32, vb uint16) *Packet {
	p := newRequest(op, key, vb)
	p.Extras = make([]byte, 20)
	binary.BigEndian.PutUint64(p.Extras[0:8], delta)
	binary.BigEndian.PutUint64(p.Extras[8:16], initial)
	binary.BigEndian.PutUint32(p.Extras[16:20], expiry)
	return p
}

// NewStat builds a STAT request. An empty group asks for the default stats.
func NewStat(group string) *Packet {
	return newRequest(OpStat, group, 0)
}

// NewFlush builds a FLUSH request with no delay.
func NewFlush() *Packet {
	return newRequest(OpFlush, "", 0)
}

// NewNoop builds a NOOP request.
func NewNoop() *Packet {
	return newRequest(OpNoop, "", 0)
}

// NewSelectBucket builds a SELECT_BUCKET request.
func NewSelectBucket(bucket string) *Packet {
	return newRequest(OpSelectBucket, bucket, 0)
}

// NewSASLAuth builds a SASL_AUTH request for the given mechanism.
func NewSASLAuth(mechanism string, payload []byte) *Packet {
	p := newRequest(OpSASLAuth, mechanism, 0)
	p.Value = payload
	return p
}

// CounterResponseValue encodes a counter value the way servers return it.
func CounterResponseValue(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// FlagsExtras encodes client flags for a GET response.
func FlagsExtras(flags uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, flags)
	return b
}
