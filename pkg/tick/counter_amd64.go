//go:build amd64

package tick

// rdtsc reads the time stamp counter, serialized with LFENCE.
// Implemented in counter_amd64.s
//
//go:noescape
func rdtsc() uint64

func readCounter() uint64 {
	return rdtsc()
}

// CounterName names the hardware counter behind Now.
const CounterName = "rdtsc"
