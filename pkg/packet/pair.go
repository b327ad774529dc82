package packet

import (
	"errors"
)

// Pair holds the outbound and inbound ports of a probe session. When both
// device names are equal In and Out are the same port.
type Pair struct {
	In  Port
	Out Port
}

func OpenPair(in, out string, captureLen int, flags Flags) (*Pair, error) {
	o, err := Open(out, captureLen, flags)
	if err != nil {
		return nil, err
	}
	if in == out {
		return &Pair{In: o, Out: o}, nil
	}
	i, err := Open(in, captureLen, flags)
	if err != nil {
		o.Close()
		return nil, err
	}
	return &Pair{In: i, Out: o}, nil
}

func (p *Pair) Aliased() bool {
	return p.In == p.Out
}

func (p *Pair) ports() []Port {
	if p.Aliased() {
		return []Port{p.Out}
	}
	return []Port{p.Out, p.In}
}

func (p *Pair) Configure(o Options) error {
	for _, port := range p.ports() {
		if err := port.Configure(o); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pair) Enable() error {
	for _, port := range p.ports() {
		if err := port.Enable(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases each underlying port exactly once.
func (p *Pair) Close() error {
	var errs []error
	for _, port := range p.ports() {
		if err := port.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
