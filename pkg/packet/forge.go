package packet

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	HeaderLen      = EthHeaderLen + 20 + 8 // Ethernet + IPv4 + UDP
	udpChecksumOff = EthHeaderLen + 20 + 6
)

var (
	DefaultSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	DefaultDstMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

type ForgeConfig struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
}

// Forger stamps a pre-serialized Ethernet/IPv4/UDP frame of fixed length
// into caller buffers.
type Forger struct {
	template []byte
}

func NewForger(length int, conf ForgeConfig) (*Forger, error) {
	if length < HeaderLen+ProbeLen || length > MaxFrameLen {
		return nil, fmt.Errorf("frame length %d outside [%d, %d]", length, HeaderLen+ProbeLen, MaxFrameLen)
	}
	if conf.SrcMAC == nil {
		conf.SrcMAC = DefaultSrcMAC
	}
	if conf.DstMAC == nil {
		conf.DstMAC = DefaultDstMAC
	}
	if conf.SrcIP == nil {
		conf.SrcIP = net.IPv4(10, 0, 0, 1)
	}
	if conf.DstIP == nil {
		conf.DstIP = net.IPv4(10, 0, 0, 2)
	}
	if conf.SrcPort == 0 {
		conf.SrcPort = 2012
	}
	if conf.DstPort == 0 {
		conf.DstPort = 3000
	}

	eth := &layers.Ethernet{
		SrcMAC:       conf.SrcMAC,
		DstMAC:       conf.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    conf.SrcIP.To4(),
		DstIP:    conf.DstIP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(conf.SrcPort),
		DstPort: layers.UDPPort(conf.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("udp checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(make([]byte, length-HeaderLen))); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}

	tmpl := append([]byte(nil), buf.Bytes()...)
	// the payload differs per probe; a zero UDP checksum means "not computed" over IPv4
	tmpl[udpChecksumOff], tmpl[udpChecksumOff+1] = 0, 0

	return &Forger{template: tmpl}, nil
}

func (f *Forger) Len() int {
	return len(f.template)
}

// Forge copies the template into buf, which must hold at least Len bytes,
// and returns the frame.
func (f *Forger) Forge(buf []byte) []byte {
	return buf[:copy(buf, f.template)]
}

// ClampLength raises frame lengths below the Ethernet minimum to MinFrameLen.
func ClampLength(n int) int {
	return max(n, MinFrameLen)
}
