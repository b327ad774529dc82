package cpu

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// cpuSetSize is the number of cores a unix.CPUSet can hold (CPU_SETSIZE).
const cpuSetSize = int(unsafe.Sizeof(unix.CPUSet{})) * 8

// Bind pins the calling goroutine to its OS thread and that thread to core.
// The goroutine stays locked to the thread afterwards.
func Bind(core int) error {
	if core < 0 || core >= cpuSetSize {
		return fmt.Errorf("core %d out of range", core)
	}
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity core %d: %w", core, err)
	}
	return nil
}

// Current returns the cores the calling thread may run on.
func Current() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	var cores []int
	for i := range cpuSetSize {
		if set.IsSet(i) {
			cores = append(cores, i)
		}
	}
	return cores, nil
}
