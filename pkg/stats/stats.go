package stats

import (
	"math/big"
	"pflatency/pkg/tick"

	"golang.org/x/exp/constraints"
)

// Latency accumulates round-trip deltas. The sum is kept as a big integer so
// that no amount of accumulation loses precision.
type Latency[T constraints.Unsigned] struct {
	sum   big.Int
	t1    big.Int
	min   T
	max   T
	count int
}

func New[T constraints.Unsigned]() *Latency[T] {
	return &Latency[T]{}
}

func (s *Latency[T]) Update(x T) {
	if s.count == 0 || x < s.min {
		s.min = x
	}
	if x > s.max {
		s.max = x
	}
	s.sum.Add(&s.sum, s.t1.SetUint64(uint64(x)))
	s.count++
}

func (s *Latency[T]) Count() int {
	return s.count
}

func (s *Latency[T]) Min() T {
	return s.min
}

func (s *Latency[T]) Max() T {
	return s.max
}

// Sum returns a copy of the exact sum of all recorded deltas.
func (s *Latency[T]) Sum() *big.Int {
	return new(big.Int).Set(&s.sum)
}

// Report holds the finalized latency figures in microseconds.
type Report struct {
	Received int
	NoData   bool
	MaxUsec  float64
	MinUsec  float64
	AvgUsec  float64
}

// Finalize converts the accumulated ticks into microseconds.
//
// The average divides the sum by target, the number of packets that were
// requested, not by the number actually received. With losses or an early
// cancellation this under-reports the average; the behaviour is kept as is.
func (s *Latency[T]) Finalize(target int, f tick.Frequency) Report {
	if s.count == 0 {
		return Report{NoData: true}
	}
	sum, _ := new(big.Float).SetInt(&s.sum).Float64()
	return Report{
		Received: s.count,
		MaxUsec:  f.Micros(float64(s.max)),
		MinUsec:  f.Micros(float64(s.min)),
		AvgUsec:  f.Micros(sum / float64(target)),
	}
}
