package memd

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when dispatching on a connection that has been closed.
var ErrClosed = errors.New("memd: connection closed")

// StatusError is a non-success response to a request that has no useful
// failure payload, such as authentication or bucket selection.
//
// Connection handling: the protocol state is intact, the connection can be REUSED.
type StatusError struct {
	OpCode  OpCode
	Status  Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s failed: %s: %s", e.OpCode, e.Status, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.OpCode, e.Status)
}

// ShouldCloseConnection returns false - the server answered a well formed request
func (e *StatusError) ShouldCloseConnection() bool {
	return false
}

// InvalidKeyError is returned when a key fails validation before reaching the wire.
//
// Connection handling: the request was rejected client side, the connection is untouched.
type InvalidKeyError struct {
	Message string
}

func (e *InvalidKeyError) Error() string {
	return e.Message
}

// ShouldCloseConnection returns false - nothing was written
func (e *InvalidKeyError) ShouldCloseConnection() bool {
	return false
}

// ParseError is returned when a frame cannot be decoded.
//
// Common causes:
//   - Unknown magic byte
//   - Extras and key longer than the body
//   - Truncated frame
//
// Connection handling: the stream position is lost, CLOSE the connection
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "parse error: " + e.Message + ": " + e.Err.Error()
	}
	return "parse error: " + e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - parse errors indicate corrupted state
func (e *ParseError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError wraps I/O failures on the socket.
//
// Connection handling: the connection is already broken, CLOSE and reconnect
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is implemented by every error of this package.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err leaves the connection unusable.
// Errors that do not declare their connection state are treated as fatal.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}
