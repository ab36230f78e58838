package couchbase

import (
	"errors"
	"fmt"

	"github.com/pior/couchbase/engine"
)

// ErrorKind classifies failures. Every *Error has one, and the exported
// sentinels below match on it with errors.Is.
type ErrorKind int

const (
	KindProtocol ErrorKind = iota
	KindNotFound
	KindAlreadyExists
	KindCASMismatch
	KindMalformedArgument
	KindHTTPStatus
	KindConnection
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindCASMismatch:
		return "cas mismatch"
	case KindMalformedArgument:
		return "malformed argument"
	case KindHTTPStatus:
		return "unexpected http status"
	case KindConnection:
		return "connection error"
	case KindTimeout:
		return "timeout"
	default:
		return "protocol error"
	}
}

func (k ErrorKind) Error() string {
	return "couchbase: " + k.String()
}

var (
	ErrNotFound          error = KindNotFound
	ErrAlreadyExists     error = KindAlreadyExists
	ErrCASMismatch       error = KindCASMismatch
	ErrMalformedArgument error = KindMalformedArgument
	ErrHTTPStatus        error = KindHTTPStatus
	ErrConnection        error = KindConnection
	ErrTimeout           error = KindTimeout
	ErrProtocol          error = KindProtocol
)

var (
	// ErrBucketNotReady is returned by Client.Create when the new bucket did
	// not start serving requests in time. It also matches ErrTimeout.
	ErrBucketNotReady = errors.New("couchbase: bucket not ready")

	// ErrOperationInProgress is returned when an operation of the same kind
	// is still pending on the connection.
	ErrOperationInProgress = errors.New("couchbase: operation already in progress")

	// ErrClosed is returned by every call on a closed Bucket or Cluster.
	ErrClosed = errors.New("couchbase: connection closed")
)

// Error describes a failed operation.
type Error struct {
	Op   string
	Key  string
	Kind ErrorKind
	// Code is the engine result code, CodeSuccess when the failure was not
	// reported by the engine.
	Code engine.Code
	// Status is the HTTP status for KindHTTPStatus errors.
	Status  int
	Message string

	err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Code != engine.CodeSuccess && e.Message == "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Code.String())
	}
	if e.Key != "" {
		return fmt.Sprintf("couchbase: %s %q: %s", e.Op, e.Key, msg)
	}
	return fmt.Sprintf("couchbase: %s: %s", e.Op, msg)
}

// Is matches the ErrorKind sentinels.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

func (e *Error) Unwrap() error {
	return e.err
}

// kindOf maps an engine code onto the error taxonomy.
func kindOf(code engine.Code) ErrorKind {
	switch code {
	case engine.CodeKeyNotFound:
		return KindNotFound
	case engine.CodeKeyExists:
		return KindAlreadyExists
	case engine.CodeDeltaBadValue, engine.CodeInvalidArgs, engine.CodeTooBig:
		return KindMalformedArgument
	case engine.CodeAuthError, engine.CodeNetworkError, engine.CodeConnectError,
		engine.CodeUnknownHost, engine.CodeBucketNotFound, engine.CodeNotConnected:
		return KindConnection
	case engine.CodeTimeout:
		return KindTimeout
	case engine.CodeHTTPError:
		return KindHTTPStatus
	default:
		return KindProtocol
	}
}

func codeError(op, key string, code engine.Code) error {
	if code == engine.CodeSuccess {
		return nil
	}
	return &Error{Op: op, Key: key, Kind: kindOf(code), Code: code}
}

// storeError refines codeError for store modes: not-stored means the key
// was missing for append, prepend and replace, and present for add. A key
// conflict on a conditional write is a CAS mismatch.
func storeError(op engine.StoreOp, key string, cas uint64, code engine.Code) error {
	name := op.String()
	if cas != 0 {
		name = "cas"
	}

	switch {
	case code == engine.CodeNotStored && op == engine.StoreAdd:
		return &Error{Op: name, Key: key, Kind: KindAlreadyExists, Code: code}
	case code == engine.CodeNotStored:
		return &Error{Op: name, Key: key, Kind: KindNotFound, Code: code}
	case code == engine.CodeKeyExists && cas != 0:
		return &Error{Op: name, Key: key, Kind: KindCASMismatch, Code: code}
	}
	return codeError(name, key, code)
}

// submitError converts a failed submission.
func submitError(op, key string, err error) error {
	var code engine.Code
	if errors.As(err, &code) {
		return &Error{Op: op, Key: key, Kind: kindOf(code), Code: code, err: err}
	}
	if errors.Is(err, engine.ErrClosed) {
		return ErrClosed
	}
	return &Error{Op: op, Key: key, Kind: KindConnection, Message: err.Error(), err: err}
}

func httpError(op, path string, status int, body []byte) error {
	return &Error{Op: op, Key: path, Kind: KindHTTPStatus, Code: engine.CodeHTTPError, Status: status, Message: string(body)}
}
