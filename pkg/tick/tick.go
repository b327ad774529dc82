package tick

import (
	"math/bits"
	"time"
)

type (
	Ticks     uint64 // raw cycle counter sample, no defined epoch - differences are elapsed cycles
	Frequency uint64 // ticks per second
)

// Counter samples a monotonically increasing cycle counter.
type Counter func() Ticks

// Now reads the hardware cycle counter of the current CPU.
func Now() Ticks {
	return Ticks(readCounter())
}

// Micros converts a tick count into microseconds.
func (f Frequency) Micros(ticks float64) float64 {
	return 1e6 / (float64(f) / ticks)
}

// Ticks converts a duration into the number of ticks it spans at frequency f.
func (f Frequency) Ticks(d time.Duration) Ticks {
	if d <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(f), uint64(d))
	q, _ := bits.Div64(hi, lo, uint64(time.Second))
	return Ticks(q)
}
