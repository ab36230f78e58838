package couchbase

import (
	"time"

	"github.com/pior/couchbase/engine"
	"github.com/pior/couchbase/memd"
	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a function that creates circuit breakers for data nodes,
// to be used as Config.NewCircuitBreaker.
// A breaker opens once at least 3 requests were seen and 60% of them failed.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) engine.CircuitBreaker {
	return func(addr string) engine.CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        addr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			// Status replies are answers from a healthy node.
			IsSuccessful: func(err error) bool {
				return err == nil || !memd.ShouldCloseConnection(err)
			},
		}
		return gobreaker.NewCircuitBreaker[*memd.Packet](settings)
	}
}
