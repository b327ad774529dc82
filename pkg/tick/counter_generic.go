//go:build !amd64 && !arm64

package tick

import "time"

var epoch = time.Now()

// no cycle counter available: monotonic nanoseconds since package init
func readCounter() uint64 {
	return uint64(time.Since(epoch))
}

// CounterName names the counter behind Now.
const CounterName = "monotonic"
