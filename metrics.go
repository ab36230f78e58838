package couchbase

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports bucket operations to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	opsTotal    *prometheus.CounterVec
	opsDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the client metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "couchbase_operations_total",
				Help: "Total number of bucket operations",
			},
			[]string{"bucket", "op", "result"}, // result: success or an error kind
		),
		opsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "couchbase_operation_duration_seconds",
				Help:    "Latency of bucket operations",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"bucket", "op"},
		),
	}

	reg.MustRegister(m.opsTotal, m.opsDuration)
	return m
}

func (m *Metrics) observe(bucket, op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.opsTotal.WithLabelValues(bucket, op, resultLabel(err)).Inc()
	m.opsDuration.WithLabelValues(bucket, op).Observe(time.Since(started).Seconds())
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if e, ok := err.(*Error); ok {
		return e.Kind.String()
	}
	switch err {
	case ErrClosed:
		return "closed"
	case ErrOperationInProgress:
		return "in progress"
	}
	return "error"
}
