package tick

import (
	"time"

	"golang.org/x/sys/unix"
)

// Sleep suspends the calling thread with nanosleep(2), resuming after EINTR
// for the remaining time. Unlike time.Sleep it does not go through the
// runtime timer heap, which keeps the overhead sample small and stable.
func Sleep(d time.Duration) {
	ts := unix.NsecToTimespec(int64(d))
	for {
		var rem unix.Timespec
		err := unix.Nanosleep(&ts, &rem)
		if err != unix.EINTR {
			return
		}
		ts = rem
	}
}
