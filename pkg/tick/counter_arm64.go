//go:build arm64

package tick

// cntvct reads the virtual counter (CNTVCT_EL0).
// Implemented in counter_arm64.s
//
//go:noescape
func cntvct() uint64

func readCounter() uint64 {
	return cntvct()
}

// CounterName names the hardware counter behind Now.
const CounterName = "cntvct_el0"
