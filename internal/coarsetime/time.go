// Package coarsetime provides a clock refreshed every 50ms, for timestamps
// taken on every operation where precision does not matter, such as the
// last-used time of a connection.
//
// The refresh goroutine starts on first use.
package coarsetime

import (
	"sync"
	"sync/atomic"
	"time"
)

const Resolution = 50 * time.Millisecond

var (
	now   atomic.Pointer[time.Time]
	start sync.Once
)

func run() {
	t := time.Now()
	now.Store(&t)

	ticker := time.NewTicker(Resolution)
	go func() {
		for tick := range ticker.C {
			now.Store(&tick)
		}
	}()
}

// Now returns the current time, at most Resolution old.
func Now() time.Time {
	start.Do(run)
	return *now.Load()
}

// Since returns the time elapsed since t, measured with the coarse clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
