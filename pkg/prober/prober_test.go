package prober_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"pflatency/pkg/packet"
	"pflatency/pkg/prober"
	"pflatency/pkg/tick"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ghz tick.Frequency = 1_000_000_000

// fakeClock advances by step on every sample.
type fakeClock struct {
	now  tick.Ticks
	step tick.Ticks
}

func (c *fakeClock) counter() tick.Ticks {
	v := c.now
	c.now += c.step
	return v
}

func fixed(f tick.Frequency) func() (tick.Frequency, error) {
	return func() (tick.Frequency, error) { return f, nil }
}

func newLoopback(t *testing.T) *packet.Loopback {
	t.Helper()
	l := packet.NewLoopback(1500, 0)
	require.NoError(t, l.Configure(packet.Options{}))
	require.NoError(t, l.Enable())
	return l
}

// delayedLoopback echoes every frame as if it came back delay ticks after
// its embedded send tick.
func delayedLoopback(t *testing.T, clock *fakeClock, delay tick.Ticks) *packet.Loopback {
	l := newLoopback(t)
	l.OnEcho = func(frame []byte) {
		ts, _, ok := packet.Extract(frame)
		require.True(t, ok)
		clock.now = ts + delay
	}
	return l
}

func newProber(t *testing.T, conf prober.Config, out prober.Sender, in prober.Receiver, clock *fakeClock) *prober.Prober {
	t.Helper()
	p, err := prober.New(conf, out, in)
	require.NoError(t, err)
	p.Counter = clock.counter
	p.Logger = log.New(io.Discard, "", 0)
	_, err = p.Calibrate(fixed(ghz))
	require.NoError(t, err)
	return p
}

func TestFixedDelayLoopback(t *testing.T) {
	clock := &fakeClock{now: 1 << 20, step: 10}
	l := delayedLoopback(t, clock, 100)
	p := newProber(t, prober.Config{Target: 5, Length: 60}, l, l, clock)

	require.NoError(t, p.Run())
	assert.Equal(t, 5, p.Sent())
	assert.Equal(t, 5, p.Received())
	assert.Equal(t, tick.Ticks(100), p.Stats().Min())
	assert.Equal(t, tick.Ticks(100), p.Stats().Max())
	assert.Equal(t, int64(500), p.Stats().Sum().Int64())

	r := p.Report()
	assert.False(t, r.NoData)
	assert.Equal(t, 5, r.Received)
	assert.InDelta(t, 0.1, r.AvgUsec, 1e-12)
	assert.InDelta(t, 0.1, r.MinUsec, 1e-12)
	assert.InDelta(t, 0.1, r.MaxUsec, 1e-12)
}

func TestStateTransitions(t *testing.T) {
	clock := &fakeClock{step: 10}
	l := delayedLoopback(t, clock, 100)
	p, err := prober.New(prober.Config{Target: 1}, l, l)
	require.NoError(t, err)
	p.Counter = clock.counter
	p.Ports = l
	assert.Equal(t, prober.Init, p.State())

	assert.ErrorIs(t, p.Run(), prober.ErrNotCalibrated)

	_, err = p.Calibrate(fixed(ghz))
	require.NoError(t, err)
	assert.Equal(t, prober.Calibrating, p.State())

	require.NoError(t, p.Run())
	assert.Equal(t, prober.ShuttingDown, p.State())

	p.Report()
	assert.Equal(t, prober.Reporting, p.State())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, prober.Closed, p.State())
	_, _, err = l.Receive()
	assert.ErrorIs(t, err, packet.ErrClosed)
}

func TestCalibrateError(t *testing.T) {
	l := newLoopback(t)
	p, err := prober.New(prober.Config{Target: 1}, l, l)
	require.NoError(t, err)
	_, err = p.Calibrate(func() (tick.Frequency, error) { return 0, tick.ErrCounterStalled })
	assert.ErrorIs(t, err, tick.ErrCounterStalled)
}

func TestLengthClamped(t *testing.T) {
	clock := &fakeClock{step: 10}
	rec := &recordingPort{Loopback: newLoopback(t), clock: clock}
	p := newProber(t, prober.Config{Target: 1, Length: 40}, rec, rec, clock)
	require.NoError(t, p.Run())
	require.Len(t, rec.lengths, 1)
	assert.Equal(t, packet.MinFrameLen, rec.lengths[0])
}

// recordingPort logs the embedded send tick of every successful send.
type recordingPort struct {
	*packet.Loopback
	clock   *fakeClock
	sends   []tick.Ticks
	lengths []int
}

func (r *recordingPort) Send(frame []byte) (int, error) {
	n, err := r.Loopback.Send(frame)
	if err == nil {
		ts, _, _ := packet.Extract(frame)
		r.sends = append(r.sends, ts)
		r.lengths = append(r.lengths, len(frame))
	}
	return n, err
}

func TestPacing(t *testing.T) {
	clock := &fakeClock{step: 1000}
	rec := &recordingPort{Loopback: newLoopback(t), clock: clock}
	rec.OnEcho = func(frame []byte) {
		ts, _, _ := packet.Extract(frame)
		clock.now = max(clock.now, ts+50)
	}
	p := newProber(t, prober.Config{Target: 20}, rec, rec, clock)

	require.NoError(t, p.Run())
	require.Len(t, rec.sends, 20)

	gap := ghz.Ticks(time.Millisecond)
	for i := 1; i < len(rec.sends); i++ {
		assert.GreaterOrEqual(t, rec.sends[i]-rec.sends[i-1], gap, "send %d", i)
	}
}

func TestCustomInterval(t *testing.T) {
	clock := &fakeClock{step: 1000}
	rec := &recordingPort{Loopback: newLoopback(t), clock: clock}
	p := newProber(t, prober.Config{Target: 3, Interval: 5 * time.Millisecond}, rec, rec, clock)

	require.NoError(t, p.Run())
	require.Len(t, rec.sends, 3)
	for i := 1; i < len(rec.sends); i++ {
		assert.GreaterOrEqual(t, rec.sends[i]-rec.sends[i-1], ghz.Ticks(5*time.Millisecond))
	}
}

// flakyPort fails the first busy sends with ErrTxBusy and the sends listed
// in invalid with ErrInvalidFrame.
type flakyPort struct {
	*packet.Loopback
	busy     int
	invalid  map[int]bool
	attempts int
	onSend   func(attempt int)
}

func (f *flakyPort) Send(frame []byte) (int, error) {
	f.attempts++
	if f.onSend != nil {
		f.onSend(f.attempts)
	}
	if f.busy > 0 {
		f.busy--
		return 0, packet.ErrTxBusy
	}
	if f.invalid[f.attempts] {
		return 0, packet.ErrInvalidFrame
	}
	return f.Loopback.Send(frame)
}

func TestTransientFailureRetried(t *testing.T) {
	clock := &fakeClock{step: 10}
	f := &flakyPort{Loopback: delayedLoopback(t, clock, 100), busy: 1000}
	sentDuringRetry := -1
	var p *prober.Prober
	f.onSend = func(attempt int) {
		if attempt == 500 {
			sentDuringRetry = p.Sent()
		}
	}
	p = newProber(t, prober.Config{Target: 2}, f, f, clock)

	require.NoError(t, p.Run())
	assert.Equal(t, 0, sentDuringRetry)
	assert.Equal(t, 1002, f.attempts)
	assert.Equal(t, 2, p.Sent())
	assert.Equal(t, 2, p.Received())
}

func TestInvalidFrameNotRetried(t *testing.T) {
	clock := &fakeClock{step: 10}
	f := &flakyPort{Loopback: delayedLoopback(t, clock, 100), invalid: map[int]bool{1: true, 3: true}}
	var p *prober.Prober
	f.onSend = func(attempt int) {
		// a dropped attempt must not have been counted
		if attempt == 2 || attempt == 4 {
			assert.Equal(t, attempt/2-1, p.Sent())
		}
	}
	p = newProber(t, prober.Config{Target: 3}, f, f, clock)

	require.NoError(t, p.Run())
	assert.Equal(t, 5, f.attempts)
	assert.Equal(t, 3, p.Sent())
	assert.Equal(t, 3, p.Received())
}

func TestOversizedFrameDroppedUntilCancelled(t *testing.T) {
	clock := &fakeClock{step: 1000}
	l := newLoopback(t)
	l.SetMTU(20)
	var p *prober.Prober
	f := &flakyPort{Loopback: l}
	f.onSend = func(attempt int) {
		if attempt == 3 {
			p.Cancel()
		}
	}
	p = newProber(t, prober.Config{Target: 10}, f, f, clock)

	require.NoError(t, p.Run())
	assert.Equal(t, 3, f.attempts)
	assert.Equal(t, 0, p.Sent())
	assert.True(t, p.Report().NoData)
}

func TestNilLoggerUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	defer log.SetOutput(log.Writer())
	log.SetOutput(&buf)

	clock := &fakeClock{step: 1000}
	l := newLoopback(t)
	l.SetMTU(20)
	var p *prober.Prober
	f := &flakyPort{Loopback: l}
	f.onSend = func(attempt int) {
		if attempt == 2 {
			p.Cancel()
		}
	}
	p = newProber(t, prober.Config{Target: 1}, f, f, clock)
	p.Logger = nil

	assert.NotPanics(t, func() { assert.NoError(t, p.Run()) })
	assert.Contains(t, buf.String(), "Attempting to send invalid packet")
}

func TestVerboseLogsEveryReceive(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{step: 10}
	l := delayedLoopback(t, clock, 100)
	p := newProber(t, prober.Config{Target: 3}, l, l, clock)
	p.Logger = log.New(&buf, "", 0)
	p.Verbose = true

	require.NoError(t, p.Run())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		assert.True(t, strings.HasPrefix(line, fmt.Sprintf("#%d sent ", i)), line)
		assert.True(t, strings.HasSuffix(line, " delta 100 ticks"), line)
	}
}

func TestQuietByDefault(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{step: 10}
	l := delayedLoopback(t, clock, 100)
	p := newProber(t, prober.Config{Target: 3}, l, l, clock)
	p.Logger = log.New(&buf, "", 0)

	require.NoError(t, p.Run())
	assert.Empty(t, buf.String())
}

func TestCancelStopsRun(t *testing.T) {
	clock := &fakeClock{step: 10}
	l := newLoopback(t) // never delays, but we cancel before running
	p := newProber(t, prober.Config{Target: 10}, l, l, clock)
	assert.True(t, p.Cancel())
	assert.False(t, p.Cancel())

	require.NoError(t, p.Run())
	assert.Equal(t, 0, p.Sent())
	assert.True(t, p.Report().NoData)
}

func TestCancelDuringBusyRetry(t *testing.T) {
	clock := &fakeClock{step: 10}
	var p *prober.Prober
	f := &flakyPort{Loopback: newLoopback(t), busy: 1 << 30}
	f.onSend = func(attempt int) {
		if attempt == 100 {
			p.Cancel()
		}
	}
	p = newProber(t, prober.Config{Target: 1}, f, f, clock)
	require.NoError(t, p.Run())
	assert.Equal(t, 0, p.Sent())
}

// sinkPort accepts frames but never echoes anything.
type sinkPort struct{ sent int }

func (s *sinkPort) Send(frame []byte) (int, error) {
	s.sent++
	return len(frame), nil
}

func (s *sinkPort) MTU() int {
	return 1500
}

func (s *sinkPort) Receive() (packet.Packet, bool, error) {
	return packet.Packet{}, false, nil
}

func TestLossyRunKeepsPolling(t *testing.T) {
	clock := &fakeClock{step: 1000}
	s := &sinkPort{}
	var p *prober.Prober
	polls := 0
	in := receiverFunc(func() (packet.Packet, bool, error) {
		polls++
		if polls == 100_000 {
			p.Cancel()
		}
		return s.Receive()
	})
	p = newProber(t, prober.Config{Target: 3}, s, in, clock)

	require.NoError(t, p.Run())
	assert.Equal(t, 3, s.sent)
	assert.Equal(t, 3, p.Sent())
	assert.Equal(t, 0, p.Received())
	assert.True(t, p.Report().NoData)
}

type receiverFunc func() (packet.Packet, bool, error)

func (f receiverFunc) Receive() (packet.Packet, bool, error) { return f() }

func TestIgnoresForeignAndOutgoingFrames(t *testing.T) {
	clock := &fakeClock{step: 10}
	l := delayedLoopback(t, clock, 100)
	queue := []packet.Packet{
		{Data: make([]byte, 60), Meta: packet.Metadata{Len: 60, CapLen: 60}},
		{Data: make([]byte, 10)},
	}
	in := receiverFunc(func() (packet.Packet, bool, error) {
		if len(queue) > 0 {
			pkt := queue[0]
			queue = queue[1:]
			return pkt, true, nil
		}
		pkt, ok, err := l.Receive()
		if ok {
			// deliver an outgoing copy first, then the echo
			out := pkt
			out.Meta.Outgoing = true
			queue = append(queue, pkt)
			return out, true, nil
		}
		return pkt, ok, err
	})
	p := newProber(t, prober.Config{Target: 2}, l, in, clock)

	require.NoError(t, p.Run())
	assert.Equal(t, 2, p.Received())
	assert.Equal(t, 2, p.Stats().Count())
}

func TestReceiveErrorIsFatal(t *testing.T) {
	clock := &fakeClock{step: 10}
	l := newLoopback(t)
	boom := errors.New("boom")
	in := receiverFunc(func() (packet.Packet, bool, error) { return packet.Packet{}, false, boom })
	p := newProber(t, prober.Config{Target: 1}, l, in, clock)
	assert.ErrorIs(t, p.Run(), boom)
}

func TestSendErrorIsFatal(t *testing.T) {
	clock := &fakeClock{step: 10}
	l := newLoopback(t)
	require.NoError(t, l.Close())
	p := newProber(t, prober.Config{Target: 1}, l, newLoopback(t), clock)
	assert.ErrorIs(t, p.Run(), packet.ErrClosed)
}

func TestAllocFailureRetried(t *testing.T) {
	clock := &fakeClock{step: 10}
	l := delayedLoopback(t, clock, 100)
	p := newProber(t, prober.Config{Target: 2}, l, l, clock)
	fails := 3
	p.Alloc = func(n int) ([]byte, error) {
		if fails > 0 {
			fails--
			return nil, errors.New("out of memory")
		}
		return make([]byte, n), nil
	}
	var slept []time.Duration
	p.Sleep = func(d time.Duration) { slept = append(slept, d) }

	require.NoError(t, p.Run())
	assert.Equal(t, 2, p.Sent())
	assert.Equal(t, 2, p.Received())
	assert.Equal(t, []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, slept)
}

func TestZeroDelayEcho(t *testing.T) {
	l := newLoopback(t)
	p, err := prober.New(prober.Config{Target: 10}, l, l)
	require.NoError(t, err)
	p.Logger = log.New(io.Discard, "", 0)
	f, err := p.Calibrate(tick.Estimate)
	require.NoError(t, err)

	require.NoError(t, p.Run())
	require.Equal(t, 10, p.Received())
	// a software echo is immediate: allow generous scheduler noise
	assert.Less(t, f.Micros(float64(p.Stats().Max())), 10_000.0)
}

func TestZeroTarget(t *testing.T) {
	clock := &fakeClock{step: 10}
	l := newLoopback(t)
	p := newProber(t, prober.Config{Target: 0}, l, l, clock)
	require.NoError(t, p.Run())
	assert.Equal(t, 0, p.Sent())
	assert.True(t, p.Report().NoData)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", prober.Running.String())
	assert.Equal(t, "state(42)", prober.State(42).String())
}
