package prober_test

import (
	"bytes"
	"log"
	"os"
	"pflatency/pkg/prober"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagFirstCancelWins(t *testing.T) {
	var f prober.Flag
	assert.False(t, f.Cancelled())
	assert.True(t, f.Cancel())
	for range 3 {
		assert.False(t, f.Cancel())
	}
	assert.True(t, f.Cancelled())
}

func TestFlagConcurrentCancel(t *testing.T) {
	var (
		f    prober.Flag
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Cancel() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

// lockedBuffer lets the watcher goroutine log while the test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) count(s string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Count(b.buf.Bytes(), []byte(s))
}

type countingCanceller struct {
	prober.Flag
	calls atomic.Int32
}

func (c *countingCanceller) Cancel() bool {
	c.calls.Add(1)
	return c.Flag.Cancel()
}

func TestWatchSignalsRepeatedDelivery(t *testing.T) {
	var out lockedBuffer
	c := &countingCanceller{}
	stop := prober.WatchSignals(c, log.New(&out, "", 0), syscall.SIGUSR1)
	defer stop()

	self, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)

	require.NoError(t, self.Signal(syscall.SIGUSR1))
	assert.Eventually(t, c.Cancelled, time.Second, time.Millisecond)

	// later deliveries are logged but change nothing
	require.NoError(t, self.Signal(syscall.SIGUSR1))
	assert.Eventually(t, func() bool { return c.calls.Load() >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, out.count("Leaving..."))
	assert.True(t, c.Cancelled())
	assert.False(t, c.Flag.Cancel())

	stop()
	stop()
}
