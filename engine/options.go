package engine

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pior/couchbase/memd"
	"github.com/sony/gobreaker/v2"
)

// Type selects what an instance connects to.
type Type int

const (
	// TypeBucket connects to the data nodes of one bucket.
	TypeBucket Type = iota
	// TypeCluster only talks to the management REST API.
	TypeCluster
)

// Default ports of a cluster node.
const (
	DefaultManagementPort = 8091
	DefaultViewPort       = 8092
)

const (
	DefaultTimeout     = 2500 * time.Millisecond
	DefaultHTTPTimeout = 75 * time.Second
)

// CircuitBreaker guards the requests sent to one data node.
// *gobreaker.CircuitBreaker[*memd.Packet] satisfies it.
type CircuitBreaker interface {
	Execute(req func() (*memd.Packet, error)) (*memd.Packet, error)
	State() gobreaker.State
}

var _ CircuitBreaker = (*gobreaker.CircuitBreaker[*memd.Packet])(nil)

// Options configures an Instance.
type Options struct {
	// Host is the bootstrap node, "host" or "host:port" of the management API.
	Host string

	Username string
	Password string

	// Bucket is required for TypeBucket.
	Bucket string
	Type   Type

	// Timeout bounds every key-value operation. Default: 2.5s.
	Timeout time.Duration

	// HTTPTimeout bounds every HTTP request. Default: 75s.
	HTTPTimeout time.Duration

	// HTTPClient is used for the REST and view APIs. Default: http.DefaultClient.
	HTTPClient *http.Client

	// Dialer opens data node connections.
	Dialer *net.Dialer

	// ConnectionsPerNode caps the pooled connections to each data node. Default: 4.
	ConnectionsPerNode int32

	// NewCircuitBreaker creates a circuit breaker for a data node.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(addr string) CircuitBreaker

	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = DefaultHTTPTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{Timeout: o.Timeout}
	}
	if o.ConnectionsPerNode <= 0 {
		o.ConnectionsPerNode = 4
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}
