package packet

import (
	"fmt"

	"github.com/ddirect/container/fifo"
)

// Loopback is an in-memory port: every frame sent is queued unchanged and
// handed back by Receive in order.
type Loopback struct {
	queue   fifo.Fifo[[]byte]
	depth   int
	snaplen int
	mtu     int
	opts    Options
	enabled bool
	closed  bool

	// OnEcho, if set, is called with each frame just before Receive returns it.
	OnEcho func(frame []byte)
}

// NewLoopback returns a loopback port queueing at most depth frames
// (0 = unbounded); a full queue makes Send fail with ErrTxBusy.
func NewLoopback(captureLen, depth int) *Loopback {
	return &Loopback{
		depth:   depth,
		snaplen: captureLen,
		mtu:     loopbackMTU,
	}
}

func (l *Loopback) Name() string {
	return LoopbackDevice
}

func (l *Loopback) MTU() int {
	return l.mtu
}

func (l *Loopback) SetMTU(mtu int) {
	l.mtu = mtu
}

func (l *Loopback) Configure(o Options) error {
	if l.closed {
		return ErrClosed
	}
	l.opts = o
	return nil
}

func (l *Loopback) Enable() error {
	if l.closed {
		return ErrClosed
	}
	l.enabled = true
	return nil
}

func (l *Loopback) Send(frame []byte) (int, error) {
	switch {
	case l.closed:
		return 0, ErrClosed
	case !l.enabled:
		return 0, ErrNotEnabled
	case !l.opts.canSend():
		return 0, ErrWrongMode
	case len(frame) < EthHeaderLen || len(frame) > l.mtu+EthHeaderLen:
		return 0, fmt.Errorf("%w: length %d, limit %d", ErrInvalidFrame, len(frame), l.mtu+EthHeaderLen)
	case l.depth > 0 && l.queue.Len() >= l.depth:
		return 0, ErrTxBusy
	}
	l.queue.Enqueue(frame)
	return len(frame), nil
}

func (l *Loopback) Receive() (Packet, bool, error) {
	switch {
	case l.closed:
		return Packet{}, false, ErrClosed
	case !l.enabled:
		return Packet{}, false, ErrNotEnabled
	case !l.opts.canRecv():
		return Packet{}, false, ErrWrongMode
	}
	frame, ok := l.queue.Dequeue()
	if !ok {
		return Packet{}, false, nil
	}
	if l.OnEcho != nil {
		l.OnEcho(frame)
	}
	capLen := len(frame)
	if l.snaplen > 0 {
		capLen = min(capLen, l.snaplen)
	}
	return Packet{Data: frame[:capLen], Meta: Metadata{Len: len(frame), CapLen: capLen}}, true, nil
}

// Pending reports the number of frames waiting to be received.
func (l *Loopback) Pending() int {
	return l.queue.Len()
}

func (l *Loopback) Close() error {
	l.closed = true
	return nil
}
