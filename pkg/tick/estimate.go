package tick

import (
	"errors"
	"time"
)

const (
	overheadSleep = time.Microsecond
	measureSleep  = 1001 * time.Microsecond
)

var (
	ErrCounterStalled = errors.New("cycle counter did not advance during calibration")
)

// Estimator derives the counter frequency from the counter itself and two
// sleeps of known relative length. The result is an estimate: preemption
// during either sleep skews it and it is never re-derived.
type Estimator struct {
	Counter Counter
	Sleep   func(time.Duration)
}

// Estimate runs the calibration once.
//
// The first, very short sleep measures the fixed cost of sleeping and
// sampling (syscall and scheduling overhead). The second sleep is longer by
// exactly one millisecond; subtracting the overhead leaves the ticks spent in
// that millisecond, which is scaled to a full second.
func (e Estimator) Estimate() (Frequency, error) {
	counter := e.Counter
	if counter == nil {
		counter = Now
	}
	sleep := e.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	start := counter()
	sleep(overheadSleep)
	overhead := counter() - start

	start = counter()
	sleep(measureSleep)
	elapsed := counter() - start

	scale := uint64(time.Second / (measureSleep - overheadSleep))

	if elapsed > overhead {
		return Frequency(uint64(elapsed-overhead) * scale), nil
	}
	// overhead sample was hit by preemption: fall back to the raw interval
	if elapsed > 0 {
		return Frequency(uint64(elapsed) * uint64(time.Second/measureSleep)), nil
	}
	return 0, ErrCounterStalled
}

// Estimate calibrates the hardware counter behind Now.
func Estimate() (Frequency, error) {
	return Estimator{}.Estimate()
}
