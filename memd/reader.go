package memd

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadPacket reads one complete frame from r.
//
// Go errors returned indicate I/O or framing failures:
//   - io.EOF: connection closed between frames
//   - ParseError: malformed header or truncated body, close the connection
//
// A non-success response status is not an error here; callers inspect Packet.Status.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, &ParseError{Message: "truncated header", Err: err}
		}
		return nil, err
	}

	magic := Magic(hdr[0])
	if magic != MagicReq && magic != MagicRes {
		return nil, &ParseError{Message: fmt.Sprintf("unknown magic 0x%02x", hdr[0])}
	}

	keyLen := int(binary.BigEndian.Uint16(hdr[2:4]))
	extLen := int(hdr[4])
	bodyLen := int(binary.BigEndian.Uint32(hdr[8:12]))

	if bodyLen > MaxBodyLength {
		return nil, &ParseError{Message: fmt.Sprintf("body length %d exceeds limit", bodyLen)}
	}
	if extLen+keyLen > bodyLen {
		return nil, &ParseError{Message: fmt.Sprintf("extras (%d) and key (%d) exceed body length %d", extLen, keyLen, bodyLen)}
	}

	p := &Packet{
		Magic:    magic,
		OpCode:   OpCode(hdr[1]),
		Datatype: hdr[5],
		Opaque:   binary.BigEndian.Uint32(hdr[12:16]),
		Cas:      binary.BigEndian.Uint64(hdr[16:24]),
	}
	field := binary.BigEndian.Uint16(hdr[6:8])
	if magic == MagicRes {
		p.Status = Status(field)
	} else {
		p.Vbucket = field
	}

	if bodyLen == 0 {
		return p, nil
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, &ParseError{Message: "truncated body", Err: err}
	}

	if extLen > 0 {
		p.Extras = body[:extLen]
	}
	if keyLen > 0 {
		p.Key = body[extLen : extLen+keyLen]
	}
	if bodyLen > extLen+keyLen {
		p.Value = body[extLen+keyLen:]
	}

	return p, nil
}
