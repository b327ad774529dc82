package socket

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Htons converts a protocol number to network byte order, as AF_PACKET expects.
func Htons(x uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], x)
	return binary.NativeEndian.Uint16(b[:])
}

// LinkAddr returns the link-layer address of the named interface, bound to
// all ethertypes.
func LinkAddr(ifi *net.Interface) *unix.SockaddrLinklayer {
	res := &unix.SockaddrLinklayer{
		Protocol: Htons(unix.ETH_P_ALL),
		Ifindex:  ifi.Index,
		Halen:    uint8(len(ifi.HardwareAddr)),
	}
	copy(res.Addr[:], ifi.HardwareAddr)
	return res
}

// AddrToString renders a link-layer address as "if<index>/<mac>".
func AddrToString(sa *unix.SockaddrLinklayer) string {
	n := min(int(sa.Halen), len(sa.Addr))
	return fmt.Sprintf("if%d/%s", sa.Ifindex, net.HardwareAddr(sa.Addr[:n]))
}
