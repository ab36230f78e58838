package engine

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/pior/couchbase/memd"
	"github.com/sony/gobreaker/v2"
)

// Code is the result of an engine operation, delivered with every callback.
// Codes are also returned as errors by submission calls.
type Code int

const (
	CodeSuccess Code = iota
	CodeKeyNotFound
	CodeKeyExists
	CodeNotStored
	CodeDeltaBadValue
	CodeTooBig
	CodeInvalidArgs
	CodeOutOfMemory
	CodeTmpFail
	CodeBusy
	CodeNotSupported
	CodeUnknownCommand
	CodeNotMyVbucket
	CodeInternalError
	CodeAuthError
	CodeNetworkError
	CodeConnectError
	CodeUnknownHost
	CodeTimeout
	CodeHTTPError
	CodeBucketNotFound
	CodeProtocolError
	CodeNotConnected
	CodeAlreadyConnected
)

var codeNames = [...]string{
	CodeSuccess:          "success",
	CodeKeyNotFound:      "key not found",
	CodeKeyExists:        "key exists",
	CodeNotStored:        "not stored",
	CodeDeltaBadValue:    "non-numeric value",
	CodeTooBig:           "value too big",
	CodeInvalidArgs:      "invalid arguments",
	CodeOutOfMemory:      "out of memory",
	CodeTmpFail:          "temporary failure",
	CodeBusy:             "server busy",
	CodeNotSupported:     "not supported",
	CodeUnknownCommand:   "unknown command",
	CodeNotMyVbucket:     "not my vbucket",
	CodeInternalError:    "internal server error",
	CodeAuthError:        "authentication failed",
	CodeNetworkError:     "network error",
	CodeConnectError:     "connection failed",
	CodeUnknownHost:      "unknown host",
	CodeTimeout:          "operation timed out",
	CodeHTTPError:        "http error",
	CodeBucketNotFound:   "bucket not found",
	CodeProtocolError:    "protocol error",
	CodeNotConnected:     "not connected",
	CodeAlreadyConnected: "already connected",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

func (c Code) Error() string {
	return "engine: " + c.String()
}

// CodeFromStatus converts a data node response status.
func CodeFromStatus(s memd.Status) Code {
	switch s {
	case memd.StatusSuccess:
		return CodeSuccess
	case memd.StatusKeyNotFound:
		return CodeKeyNotFound
	case memd.StatusKeyExists:
		return CodeKeyExists
	case memd.StatusNotStored:
		return CodeNotStored
	case memd.StatusBadDelta:
		return CodeDeltaBadValue
	case memd.StatusTooBig:
		return CodeTooBig
	case memd.StatusInvalidArgs:
		return CodeInvalidArgs
	case memd.StatusOutOfMemory:
		return CodeOutOfMemory
	case memd.StatusTmpFail:
		return CodeTmpFail
	case memd.StatusBusy:
		return CodeBusy
	case memd.StatusNotSupported:
		return CodeNotSupported
	case memd.StatusUnknownCommand:
		return CodeUnknownCommand
	case memd.StatusNotMyVBucket:
		return CodeNotMyVbucket
	case memd.StatusAuthError:
		return CodeAuthError
	case memd.StatusInternalError:
		return CodeInternalError
	default:
		return CodeProtocolError
	}
}

// codeFromError classifies a transport failure.
func codeFromError(err error) Code {
	var (
		code      Code
		statusErr *memd.StatusError
		keyErr    *memd.InvalidKeyError
		parseErr  *memd.ParseError
		dnsErr    *net.DNSError
		opErr     *net.OpError
	)
	switch {
	case errors.As(err, &code):
		return code
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return CodeNetworkError
	case errors.As(err, &statusErr):
		switch statusErr.OpCode {
		case memd.OpSASLAuth:
			return CodeAuthError
		case memd.OpSelectBucket:
			return CodeBucketNotFound
		}
		return CodeFromStatus(statusErr.Status)
	case errors.As(err, &keyErr):
		return CodeInvalidArgs
	case errors.As(err, &parseErr):
		return CodeProtocolError
	case errors.As(err, &dnsErr):
		return CodeUnknownHost
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return CodeConnectError
	default:
		return CodeNetworkError
	}
}
