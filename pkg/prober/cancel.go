package prober

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// Flag is a cooperative shutdown flag: the first Cancel wins, later calls
// are no-ops.
type Flag struct {
	set atomic.Bool
}

// Cancel sets the flag and reports whether this call was the one that set it.
func (f *Flag) Cancel() bool {
	return f.set.CompareAndSwap(false, true)
}

func (f *Flag) Cancelled() bool {
	return f.set.Load()
}

type Canceller interface {
	Cancel() bool
}

// WatchSignals cancels c on the first of sigs. Every delivery is logged;
// only the first one has an effect. The returned function stops watching.
func WatchSignals(c Canceller, logger *log.Logger, sigs ...os.Signal) (stop func()) {
	if logger == nil {
		logger = log.Default()
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				logger.Printf("Leaving... (%v)", sig)
				c.Cancel()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}
