package memd

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
)

var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 256))
	},
}

func getBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

func putBuffer(buf *bytes.Buffer) {
	// Large values would otherwise pin their buffers in the pool.
	if buf.Cap() > 64*1024 {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// ValidateKey checks a key against the binary protocol limits.
// Unlike the text protocol, whitespace is allowed.
func ValidateKey(key string) error {
	if len(key) < MinKeyLength {
		return &InvalidKeyError{Message: "key is empty"}
	}
	if len(key) > MaxKeyLength {
		return &InvalidKeyError{Message: "key exceeds maximum length of 250 bytes"}
	}
	return nil
}

// WritePacket encodes p and writes it to w in a single Write call.
//
// Header layout:
//
//	0 magic | 1 opcode | 2-3 key length | 4 extras length | 5 datatype
//	6-7 vbucket (request) or status (response) | 8-11 body length
//	12-15 opaque | 16-23 cas
func WritePacket(w io.Writer, p *Packet) error {
	if len(p.Key) > 0xffff || len(p.Extras) > 0xff {
		return &InvalidKeyError{Message: "key or extras too long for header"}
	}

	buf := getBuffer()
	defer putBuffer(buf)

	var hdr [HeaderLen]byte
	bodyLen := len(p.Extras) + len(p.Key) + len(p.Value)

	magic := p.Magic
	if magic == 0 {
		magic = MagicReq
	}
	hdr[0] = byte(magic)
	hdr[1] = byte(p.OpCode)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(p.Key)))
	hdr[4] = byte(len(p.Extras))
	hdr[5] = p.Datatype
	if magic == MagicRes {
		binary.BigEndian.PutUint16(hdr[6:8], uint16(p.Status))
	} else {
		binary.BigEndian.PutUint16(hdr[6:8], p.Vbucket)
	}
	binary.BigEndian.PutUint32(hdr[8:12], uint32(bodyLen))
	binary.BigEndian.PutUint32(hdr[12:16], p.Opaque)
	binary.BigEndian.PutUint64(hdr[16:24], p.Cas)

	buf.Write(hdr[:])
	buf.Write(p.Extras)
	buf.Write(p.Key)
	buf.Write(p.Value)

	_, err := w.Write(buf.Bytes())
	return err
}
