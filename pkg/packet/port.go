package packet

import (
	"errors"
	"fmt"
)

// Send failures: ErrInvalidFrame must never be retried, ErrTxBusy should be
// retried immediately.
var (
	ErrInvalidFrame = errors.New("invalid frame")
	ErrTxBusy       = errors.New("transmit queue busy")
	ErrNotEnabled   = errors.New("port not enabled")
	ErrWrongMode    = errors.New("operation not allowed in socket mode")
	ErrClosed       = errors.New("port closed")
)

const (
	EthHeaderLen = 14
	MinFrameLen  = 60
	MaxFrameLen  = 9000

	// LoopbackDevice opens an in-memory port that echoes every sent frame.
	LoopbackDevice = "mem"
	loopbackMTU    = 1500
	loopbackDepth  = 1024
)

type Flags uint

const (
	Promisc Flags = 1 << iota
)

type Mode int

const (
	SendAndRecv Mode = iota
	RecvOnly
	SendOnly
)

type Direction int

const (
	RxAndTx Direction = iota
	RxOnly
)

// Options controls how a port behaves once enabled. A PollWatermark of 0
// makes Receive return immediately when no frame is queued.
type Options struct {
	Mode          Mode
	Direction     Direction
	PollWatermark int
}

func (o Options) canSend() bool {
	return o.Mode != RecvOnly
}

func (o Options) canRecv() bool {
	return o.Mode != SendOnly
}

type Metadata struct {
	Len      int  // length on the wire
	CapLen   int  // bytes captured
	Outgoing bool // a copy of a frame sent by this host
}

// Packet is a received frame. Data is only valid until the next Receive.
type Packet struct {
	Data []byte
	Meta Metadata
}

// Port is a send/receive capable network endpoint. The frame passed to Send
// belongs to the port afterwards and must not be reused by the caller.
type Port interface {
	Name() string
	MTU() int
	Configure(Options) error
	Enable() error
	Send(frame []byte) (int, error)
	// Receive never blocks with a zero watermark; ok is false when no frame is available.
	Receive() (pkt Packet, ok bool, err error)
	Close() error
}

type OpenError struct {
	Device string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Device, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Open acquires the named device.
func Open(device string, captureLen int, flags Flags) (Port, error) {
	if device == LoopbackDevice {
		return NewLoopback(captureLen, loopbackDepth), nil
	}
	p, err := OpenAFPacket(device, captureLen, flags)
	if err != nil {
		return nil, err
	}
	return p, nil
}
