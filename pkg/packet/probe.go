package packet

import (
	"encoding/binary"
	"pflatency/pkg/tick"
)

// Probe payload, right after the UDP header:
//
//	[0:8]   send tick, big endian
//	[8:12]  ProbeMagic
//	[12:16] sequence number
const (
	PayloadOffset        = HeaderLen
	ProbeLen             = 16
	ProbeMagic    uint32 = 0x70664c54
)

func Embed(frame []byte, ts tick.Ticks, seq uint32) {
	p := frame[PayloadOffset : PayloadOffset+ProbeLen]
	binary.BigEndian.PutUint64(p[0:8], uint64(ts))
	binary.BigEndian.PutUint32(p[8:12], ProbeMagic)
	binary.BigEndian.PutUint32(p[12:16], seq)
}

// Extract reads the probe back; ok is false for frames that do not carry one.
func Extract(frame []byte) (ts tick.Ticks, seq uint32, ok bool) {
	if len(frame) < PayloadOffset+ProbeLen {
		return 0, 0, false
	}
	p := frame[PayloadOffset : PayloadOffset+ProbeLen]
	if binary.BigEndian.Uint32(p[8:12]) != ProbeMagic {
		return 0, 0, false
	}
	return tick.Ticks(binary.BigEndian.Uint64(p[0:8])), binary.BigEndian.Uint32(p[12:16]), true
}
