package engine

import "net/http"

// Callbacks receives operation completions. Methods are only ever called
// from the goroutine running Wait. The cookie is the value passed to the
// submission call.
type Callbacks interface {
	// Error reports a condition not tied to one operation: bootstrap
	// failures, lost node connections, duplicate connects.
	Error(code Code, info string)

	Get(cookie any, code Code, key string, value []byte, flags uint32, cas uint64)
	Store(cookie any, code Code, key string, cas uint64)
	Remove(cookie any, code Code, key string)
	Arithmetic(cookie any, code Code, key string, value uint64, cas uint64)

	// Stat is called once per statistic of every node, once per failed
	// node with an empty name, and finally with an empty server.
	Stat(cookie any, server string, code Code, name, value string)

	// Flush is called once per node, then with an empty server.
	Flush(cookie any, server string, code Code)

	HTTPComplete(cookie any, code Code, resp *HTTPResponse)
}

// StoreOp is the mode of a store operation.
type StoreOp int

const (
	StoreSet StoreOp = iota
	StoreAdd
	StoreReplace
	StoreAppend
	StorePrepend
)

func (o StoreOp) String() string {
	switch o {
	case StoreSet:
		return "set"
	case StoreAdd:
		return "add"
	case StoreReplace:
		return "replace"
	case StoreAppend:
		return "append"
	case StorePrepend:
		return "prepend"
	}
	return "unknown"
}

// HTTPType selects the base URL of an HTTP request.
type HTTPType int

const (
	// HTTPView targets the view API of the bucket.
	HTTPView HTTPType = iota
	// HTTPManagement targets the REST API of the bootstrap node.
	HTTPManagement
	// HTTPRaw targets HTTPRequest.Host.
	HTTPRaw
)

type HTTPRequest struct {
	Type        HTTPType
	Method      string
	Path        string
	Body        []byte
	ContentType string
	// Host is "host:port", used by HTTPRaw only.
	Host string
}

type HTTPResponse struct {
	Status int
	Path   string
	Header http.Header
	Body   []byte
}
