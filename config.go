package couchbase

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pior/couchbase/engine"
)

const (
	DefaultReadyTimeout        = 60 * time.Second
	DefaultPollInterval        = 250 * time.Millisecond
	DefaultMemcachedProbeDelay = 10 * time.Second
)

// Clock abstracts time for bucket readiness polling.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config holds the client configuration. Zero values select the defaults.
type Config struct {
	// Timeout bounds every key-value operation.
	// Default: 2.5s.
	Timeout time.Duration

	// HTTPTimeout bounds every REST and view request.
	// Default: 75s.
	HTTPTimeout time.Duration

	// HTTPClient is used for REST and view requests.
	// If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// Dialer opens data node connections.
	Dialer *net.Dialer

	// ConnectionsPerNode caps the pooled connections to each data node.
	// Default: 4.
	ConnectionsPerNode int32

	// NewCircuitBreaker creates a circuit breaker for a data node.
	// Called once per node address when a bucket connects.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(addr string) engine.CircuitBreaker

	// Metrics receives per-operation counters and latencies. Optional.
	Metrics *Metrics

	Logger *slog.Logger

	// ReadyTimeout bounds the readiness polling of Client.Create.
	// Default: 60s.
	ReadyTimeout time.Duration

	// PollInterval separates two readiness probes of a couchbase bucket.
	// Default: 250ms.
	PollInterval time.Duration

	// MemcachedProbeDelay is waited before every readiness probe of a
	// memcached bucket. Default: 10s.
	MemcachedProbeDelay time.Duration

	Clock Clock

	// for testing purposes only
	newTransport func(opts engine.Options) (Transport, error)
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MemcachedProbeDelay <= 0 {
		c.MemcachedProbeDelay = DefaultMemcachedProbeDelay
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	if c.newTransport == nil {
		c.newTransport = newEngineTransport
	}
}

func (c *Config) engineOptions(host, username, password, bucket string, typ engine.Type) engine.Options {
	return engine.Options{
		Host:               host,
		Username:           username,
		Password:           password,
		Bucket:             bucket,
		Type:               typ,
		Timeout:            c.Timeout,
		HTTPTimeout:        c.HTTPTimeout,
		HTTPClient:         c.HTTPClient,
		Dialer:             c.Dialer,
		ConnectionsPerNode: c.ConnectionsPerNode,
		NewCircuitBreaker:  c.NewCircuitBreaker,
		Logger:             c.Logger,
	}
}
