package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"pflatency/pkg/packet"
	"pflatency/pkg/prober"
	"syscall"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Server runs the responder side: probe frames received on the input device
// are sent back out of the output device with their MAC addresses swapped.
func Server(conf Config, stdout io.Writer) error {
	ports, err := packet.OpenPair(conf.inDev, conf.outDev, defaultCaptureLen, packet.Promisc)
	if err != nil {
		return err
	}
	defer ports.Close()

	var cancel prober.Flag
	stop := prober.WatchSignals(&cancel, nil, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := packet.Options{
		Mode:      packet.SendAndRecv,
		Direction: packet.RxOnly,
	}
	if err := ports.Configure(opts); err != nil {
		return fmt.Errorf("%w: %w", errEnable, err)
	}
	if err := ports.Enable(); err != nil {
		return fmt.Errorf("%w: %w", errEnable, err)
	}

	log.Printf("reflecting probes from %s to %s", ports.In.Name(), ports.Out.Name())

	n, err := Reflect(ports.In, ports.Out, &cancel)
	fmt.Fprintf(stdout, "\nPackets reflected: %d\n", n)
	return err
}

// Reflect echoes probe frames until cancelled and returns how many it sent.
func Reflect(in prober.Receiver, out prober.Sender, cancel *prober.Flag) (int, error) {
	var reflected int
	for !cancel.Cancelled() {
		pkt, ok, err := in.Receive()
		if err != nil {
			return reflected, fmt.Errorf("receive: %w", err)
		}
		if !ok || pkt.Meta.Outgoing {
			continue
		}
		if _, _, isProbe := packet.Extract(pkt.Data); !isProbe {
			continue
		}

		// the receive buffer is reused, the port keeps what it is sent
		frame := append([]byte(nil), pkt.Data...)
		if err := swapMACs(frame); err != nil {
			log.Printf("dropping frame: %v", err)
			continue
		}

	again:
		_, err = out.Send(frame)
		switch {
		case err == nil:
			reflected++
		case errors.Is(err, packet.ErrTxBusy):
			if !cancel.Cancelled() {
				goto again
			}
		case errors.Is(err, packet.ErrInvalidFrame):
			log.Printf("Attempting to send invalid packet [len: %d][MTU: %d]: %v", len(frame), out.MTU(), err)
		default:
			return reflected, fmt.Errorf("send: %w", err)
		}
	}
	return reflected, nil
}

func swapMACs(frame []byte) error {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("decode ethernet: %w", err)
	}
	dst := append([]byte(nil), eth.DstMAC...)
	copy(frame[0:6], eth.SrcMAC)
	copy(frame[6:12], dst)
	return nil
}
