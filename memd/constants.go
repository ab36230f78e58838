package memd

import "fmt"

// HeaderLen is the fixed size of a binary protocol packet header.
const HeaderLen = 24

// Key length limits
const (
	MinKeyLength = 1
	MaxKeyLength = 250
)

// MaxBodyLength bounds the body a reader accepts before treating the stream as corrupt.
const MaxBodyLength = 20*1024*1024 + 1024

// Magic identifies the direction of a packet.
type Magic uint8

const (
	MagicReq Magic = 0x80
	MagicRes Magic = 0x81
)

// OpCode is a binary protocol command.
type OpCode uint8

const (
	OpGet           OpCode = 0x00
	OpSet           OpCode = 0x01
	OpAdd           OpCode = 0x02
	OpReplace       OpCode = 0x03
	OpDelete        OpCode = 0x04
	OpIncrement     OpCode = 0x05
	OpDecrement     OpCode = 0x06
	OpFlush         OpCode = 0x08
	OpNoop          OpCode = 0x0a
	OpAppend        OpCode = 0x0e
	OpPrepend       OpCode = 0x0f
	OpStat          OpCode = 0x10
	OpSASLListMechs OpCode = 0x20
	OpSASLAuth      OpCode = 0x21
	OpSASLStep      OpCode = 0x22
	OpSelectBucket  OpCode = 0x89
)

var opNames = map[OpCode]string{
	OpGet:           "GET",
	OpSet:           "SET",
	OpAdd:           "ADD",
	OpReplace:       "REPLACE",
	OpDelete:        "DELETE",
	OpIncrement:     "INCREMENT",
	OpDecrement:     "DECREMENT",
	OpFlush:         "FLUSH",
	OpNoop:          "NOOP",
	OpAppend:        "APPEND",
	OpPrepend:       "PREPEND",
	OpStat:          "STAT",
	OpSASLListMechs: "SASL_LIST_MECHS",
	OpSASLAuth:      "SASL_AUTH",
	OpSASLStep:      "SASL_STEP",
	OpSelectBucket:  "SELECT_BUCKET",
}

func (o OpCode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OpCode(0x%02x)", uint8(o))
}

// Status is the response status carried in the vbucket field of a response header.
type Status uint16

const (
	StatusSuccess        Status = 0x00
	StatusKeyNotFound    Status = 0x01
	StatusKeyExists      Status = 0x02
	StatusTooBig         Status = 0x03
	StatusInvalidArgs    Status = 0x04
	StatusNotStored      Status = 0x05
	StatusBadDelta       Status = 0x06
	StatusNotMyVBucket   Status = 0x07
	StatusNoBucket       Status = 0x08
	StatusAuthError      Status = 0x20
	StatusAuthContinue   Status = 0x21
	StatusAccessError    Status = 0x24
	StatusUnknownCommand Status = 0x81
	StatusOutOfMemory    Status = 0x82
	StatusNotSupported   Status = 0x83
	StatusInternalError  Status = 0x84
	StatusBusy           Status = 0x85
	StatusTmpFail        Status = 0x86
)

var statusNames = map[Status]string{
	StatusSuccess:        "success",
	StatusKeyNotFound:    "key not found",
	StatusKeyExists:      "key exists",
	StatusTooBig:         "value too big",
	StatusInvalidArgs:    "invalid arguments",
	StatusNotStored:      "not stored",
	StatusBadDelta:       "non-numeric value",
	StatusNotMyVBucket:   "not my vbucket",
	StatusNoBucket:       "no bucket selected",
	StatusAuthError:      "authentication failed",
	StatusAuthContinue:   "authentication continue",
	StatusAccessError:    "access denied",
	StatusUnknownCommand: "unknown command",
	StatusOutOfMemory:    "out of memory",
	StatusNotSupported:   "not supported",
	StatusInternalError:  "internal error",
	StatusBusy:           "busy",
	StatusTmpFail:        "temporary failure",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(0x%04x)", uint16(s))
}

// NoCreateExpiry in a counter request tells the server to fail instead of
// seeding a missing key.
const NoCreateExpiry uint32 = 0xffffffff
