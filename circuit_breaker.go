package mcconn

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a function that creates circuit breakers for
// connections, for use as Config.NewCircuitBreaker.
//
// Only transport failures count against the breaker: a server status such as
// not-found is a successful exchange.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[bool] {
	return func(addr string) *gobreaker.CircuitBreaker[bool] {
		settings := gobreaker.Settings{
			Name:        addr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return !ShouldCloseConnection(err)
			},
		}
		return gobreaker.NewCircuitBreaker[bool](settings)
	}
}
