package packet

import (
	"errors"
	"fmt"
	"net"
	"pflatency/pkg/socket"
	"unsafe"

	"golang.org/x/sys/unix"
)

// AFPacket is a port backed by a raw AF_PACKET socket bound to one interface.
type AFPacket struct {
	ifi     *net.Interface
	fd      int
	snaplen int
	flags   Flags
	opts    Options
	closed  bool

	send func([]byte) (int, error)
	recv func() (Packet, bool, error)
}

func OpenAFPacket(device string, captureLen int, flags Flags) (*AFPacket, error) {
	ifi, err := net.InterfaceByName(device)
	if err != nil {
		return nil, &OpenError{Device: device, Err: err}
	}

	// protocol 0 queues nothing until Enable binds the socket to the interface
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, &OpenError{Device: device, Err: fmt.Errorf("socket: %w", err)}
	}

	return &AFPacket{
		ifi:     ifi,
		fd:      fd,
		snaplen: captureLen,
		flags:   flags,
	}, nil
}

func (p *AFPacket) Name() string {
	return p.ifi.Name
}

func (p *AFPacket) MTU() int {
	return p.ifi.MTU
}

func (p *AFPacket) HardwareAddr() net.HardwareAddr {
	return p.ifi.HardwareAddr
}

func (p *AFPacket) Configure(o Options) error {
	if p.closed {
		return ErrClosed
	}
	ignore := 0
	if o.Direction == RxOnly {
		ignore = 1
	}
	if err := unix.SetsockoptInt(p.fd, unix.SOL_PACKET, unix.PACKET_IGNORE_OUTGOING, ignore); err != nil && ignore == 1 {
		return fmt.Errorf("setsockopt PACKET_IGNORE_OUTGOING: %w", err)
	}
	p.opts = o
	return nil
}

func (p *AFPacket) Enable() error {
	if p.closed {
		return ErrClosed
	}
	addr := socket.LinkAddr(p.ifi)
	if err := unix.Bind(p.fd, addr); err != nil {
		return fmt.Errorf("bind %s: %w", socket.AddrToString(addr), err)
	}
	if p.flags&Promisc != 0 {
		mreq := &unix.PacketMreq{
			Ifindex: int32(p.ifi.Index),
			Type:    unix.PACKET_MR_PROMISC,
		}
		if err := unix.SetsockoptPacketMreq(p.fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
			return fmt.Errorf("setsockopt PACKET_ADD_MEMBERSHIP: %w", err)
		}
	}
	p.send = newSender(p.fd, p.ifi.MTU+EthHeaderLen)
	p.recv = newReceiver(p.fd, p.snaplen, p.opts.PollWatermark)
	return nil
}

func (p *AFPacket) Send(frame []byte) (int, error) {
	switch {
	case p.closed:
		return 0, ErrClosed
	case p.send == nil:
		return 0, ErrNotEnabled
	case !p.opts.canSend():
		return 0, ErrWrongMode
	}
	return p.send(frame)
}

func (p *AFPacket) Receive() (Packet, bool, error) {
	switch {
	case p.closed:
		return Packet{}, false, ErrClosed
	case p.recv == nil:
		return Packet{}, false, ErrNotEnabled
	case !p.opts.canRecv():
		return Packet{}, false, ErrWrongMode
	}
	return p.recv()
}

func (p *AFPacket) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := unix.Close(p.fd); err != nil {
		return fmt.Errorf("close %s: %w", p.ifi.Name, err)
	}
	return nil
}

func newSender(fd int, maxFrame int) func([]byte) (int, error) {
	return func(frame []byte) (int, error) {
		if len(frame) < EthHeaderLen || len(frame) > maxFrame {
			return 0, fmt.Errorf("%w: length %d, limit %d", ErrInvalidFrame, len(frame), maxFrame)
		}
		n, err := unix.SendmsgN(fd, frame, nil, nil, unix.MSG_DONTWAIT)
		if err != nil {
			return 0, classifySendError(err)
		}
		return n, nil
	}
}

func classifySendError(err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOBUFS), errors.Is(err, unix.EINTR):
		return fmt.Errorf("%w: %w", ErrTxBusy, err)
	case errors.Is(err, unix.EMSGSIZE), errors.Is(err, unix.EINVAL):
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	default:
		return fmt.Errorf("sendmsg: %w", err)
	}
}

func newReceiver(fd int, snaplen int, watermark int) func() (Packet, bool, error) {
	buf := make([]byte, max(snaplen, 1))
	flags := unix.MSG_TRUNC
	if watermark == 0 {
		flags |= unix.MSG_DONTWAIT
	}
	var (
		from    unix.RawSockaddrLinklayer
		fromLen uint32
	)

	return func() (Packet, bool, error) {
		from = unix.RawSockaddrLinklayer{}
		fromLen = unix.SizeofSockaddrLinklayer
		// NOTE: unix.Recvfrom would allocate a Sockaddr for every frame
		r, _, errno := unix.Syscall6(unix.SYS_RECVFROM, uintptr(fd),
			uintptr(unsafe.Pointer(unsafe.SliceData(buf))), uintptr(len(buf)), uintptr(flags),
			uintptr(unsafe.Pointer(&from)), uintptr(unsafe.Pointer(&fromLen)))
		if errno != 0 {
			if errno == unix.EAGAIN || errno == unix.EINTR {
				return Packet{}, false, nil
			}
			return Packet{}, false, fmt.Errorf("recvfrom: %w", errno)
		}
		n := int(r)
		capLen := min(n, len(buf))
		meta := Metadata{Len: n, CapLen: capLen}
		if from.Family == unix.AF_PACKET {
			meta.Outgoing = from.Pkttype == unix.PACKET_OUTGOING
		}
		return Packet{Data: buf[:capLen], Meta: meta}, true, nil
	}
}
