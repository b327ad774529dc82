package prober

import (
	"errors"
	"fmt"
	"io"
	"log"
	"pflatency/pkg/packet"
	"pflatency/pkg/stats"
	"pflatency/pkg/tick"
	"time"
)

const (
	DefaultInterval = time.Millisecond
	allocRetryDelay = time.Millisecond
)

var (
	ErrNotCalibrated = errors.New("prober not calibrated")
	errCancelled     = errors.New("cancelled")
)

type State int

const (
	Init State = iota
	Calibrating
	Running
	ShuttingDown
	Reporting
	Closed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Calibrating:
		return "calibrating"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting-down"
	case Reporting:
		return "reporting"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Sender interface {
	Send(frame []byte) (int, error)
	MTU() int
}

type Receiver interface {
	Receive() (packet.Packet, bool, error)
}

type Config struct {
	Target   int           // packets to send and to receive
	Length   int           // frame length, clamped to packet.MinFrameLen
	Interval time.Duration // minimum gap between sends, DefaultInterval if zero
	Forge    packet.ForgeConfig
}

// Prober is the state of one latency measurement. It is driven from a single
// goroutine; only Cancel may be called concurrently.
type Prober struct {
	conf   Config
	out    Sender
	in     Receiver
	forger *packet.Forger
	stats  *stats.Latency[tick.Ticks]
	freq   tick.Frequency
	cancel Flag
	state  State

	sent     int
	received int

	// Hooks, replaceable before Run.
	Counter tick.Counter
	Alloc   func(n int) ([]byte, error)
	Sleep   func(time.Duration)
	Logger  *log.Logger // log.Default() if nil
	Verbose bool        // log every matched receive
	// Ports, if set, is closed by Close.
	Ports io.Closer
}

func New(conf Config, out Sender, in Receiver) (*Prober, error) {
	conf.Length = packet.ClampLength(conf.Length)
	if conf.Interval <= 0 {
		conf.Interval = DefaultInterval
	}
	forger, err := packet.NewForger(conf.Length, conf.Forge)
	if err != nil {
		return nil, err
	}
	return &Prober{
		conf:    conf,
		out:     out,
		in:      in,
		forger:  forger,
		stats:   stats.New[tick.Ticks](),
		Counter: tick.Now,
		Alloc:   func(n int) ([]byte, error) { return make([]byte, n), nil },
		Sleep:   tick.Sleep,
		Logger:  log.Default(),
	}, nil
}

// Calibrate obtains the counter frequency once; it is never re-derived.
func (p *Prober) Calibrate(estimate func() (tick.Frequency, error)) (tick.Frequency, error) {
	p.state = Calibrating
	f, err := estimate()
	if err != nil {
		return 0, fmt.Errorf("calibrate: %w", err)
	}
	p.freq = f
	return f, nil
}

func (p *Prober) Frequency() tick.Frequency { return p.freq }
func (p *Prober) State() State              { return p.state }
func (p *Prober) Sent() int                 { return p.sent }
func (p *Prober) Received() int             { return p.received }
func (p *Prober) Cancel() bool              { return p.cancel.Cancel() }
func (p *Prober) Cancelled() bool           { return p.cancel.Cancelled() }

// Stats exposes the raw tick aggregate.
func (p *Prober) Stats() *stats.Latency[tick.Ticks] {
	return p.stats
}

// Run busy-polls until Target packets have been sent and received, or until
// cancelled. Receiving always has priority over sending. Only fatal port
// errors are returned; a cancelled run is not an error.
func (p *Prober) Run() error {
	if p.freq == 0 {
		return ErrNotCalibrated
	}
	if p.Logger == nil {
		p.Logger = log.Default()
	}
	p.state = Running
	defer func() { p.state = ShuttingDown }()

	var (
		gap      = p.freq.Ticks(p.conf.Interval)
		lastSent tick.Ticks
		started  bool
		seq      uint32
	)

	for p.sent < p.conf.Target || p.received < p.conf.Target {
		if p.cancel.Cancelled() {
			break
		}

		pkt, ok, err := p.in.Receive()
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		if ok {
			p.measure(pkt)
			continue
		}

		if p.sent >= p.conf.Target {
			continue
		}

		if started && p.Counter()-lastSent < gap {
			continue
		}

		buf, err := p.Alloc(p.forger.Len())
		if err != nil {
			p.Logger.Printf("allocating %d byte packet: %v", p.forger.Len(), err)
			p.Sleep(allocRetryDelay)
			continue
		}
		frame := p.forger.Forge(buf)

		lastSent = p.Counter()
		started = true
		packet.Embed(frame, lastSent, seq)

		switch err := p.send(frame); {
		case err == nil:
			seq++
			p.sent++
		case errors.Is(err, packet.ErrInvalidFrame):
			p.Logger.Printf("Attempting to send invalid packet [len: %d][MTU: %d]: %v", len(frame), p.out.MTU(), err)
		case errors.Is(err, errCancelled):
			return nil
		default:
			return fmt.Errorf("send: %w", err)
		}
	}
	return nil
}

// send retries transient failures without bound; only cancellation breaks
// the retry loop.
func (p *Prober) send(frame []byte) error {
	for {
		_, err := p.out.Send(frame)
		if !errors.Is(err, packet.ErrTxBusy) {
			return err
		}
		if p.cancel.Cancelled() {
			return errCancelled
		}
	}
}

func (p *Prober) measure(pkt packet.Packet) {
	now := p.Counter()
	if pkt.Meta.Outgoing {
		return
	}
	sentAt, seq, ok := packet.Extract(pkt.Data)
	if !ok {
		return
	}
	p.received++
	p.stats.Update(now - sentAt)
	if p.Verbose {
		p.Logger.Printf("#%d sent %d received %d delta %d ticks", seq, sentAt, now, now-sentAt)
	}
}

// Report finalizes the statistics. The average is taken over Target.
func (p *Prober) Report() stats.Report {
	p.state = Reporting
	return p.stats.Finalize(p.conf.Target, p.freq)
}

func (p *Prober) Close() error {
	if p.state == Closed {
		return nil
	}
	p.state = Closed
	if p.Ports != nil {
		return p.Ports.Close()
	}
	return nil
}
