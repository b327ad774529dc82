package main

import (
	"net"
	"pflatency/pkg/packet"
)

const (
	defaultLength     = packet.MinFrameLen
	defaultCount      = 1
	defaultCaptureLen = 1500
)

type hardwareAddresser interface {
	HardwareAddr() net.HardwareAddr
}

// forgeConfig addresses probes from the outbound interface, to the reforged
// destination MAC when one was given.
func forgeConfig(conf Config, out packet.Port) packet.ForgeConfig {
	var fc packet.ForgeConfig
	if h, ok := out.(hardwareAddresser); ok && len(h.HardwareAddr()) == 6 {
		fc.SrcMAC = h.HardwareAddr()
	}
	if conf.dstMAC != nil {
		fc.DstMAC = conf.dstMAC
	}
	return fc
}
