package main

import (
	"fmt"
	"io"
	"log"
	"pflatency/pkg/cpu"
	"pflatency/pkg/packet"
	"pflatency/pkg/prober"
	"pflatency/pkg/tick"
	"syscall"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func Client(conf Config, stdout io.Writer) error {
	fmt.Fprintf(stdout, "Sending packets on %s. Receiving on %s\n", conf.outDev, conf.inDev)

	ports, err := packet.OpenPair(conf.inDev, conf.outDev, defaultCaptureLen, packet.Promisc)
	if err != nil {
		return err
	}

	p, err := prober.New(prober.Config{
		Target: conf.count,
		Length: conf.length,
		Forge:  forgeConfig(conf, ports.Out),
	}, ports.Out, ports.In)
	if err != nil {
		ports.Close()
		return err
	}
	p.Ports = ports
	p.Verbose = conf.verbose
	defer p.Close()

	stop := prober.WatchSignals(p, nil, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.core >= 0 {
		if err := cpu.Bind(conf.core); err != nil {
			log.Print(err)
		}
	}

	freq, err := p.Calibrate(tick.Estimate)
	if err != nil {
		return err
	}
	message.NewPrinter(language.English).Fprintf(stdout, "Estimated CPU freq: %d Hz (%s)\n", uint64(freq), tick.CounterName)

	opts := packet.Options{
		Mode:          packet.SendAndRecv,
		Direction:     packet.RxAndTx,
		PollWatermark: 0,
	}
	if err := ports.Configure(opts); err != nil {
		return fmt.Errorf("%w: %w", errEnable, err)
	}
	if err := ports.Enable(); err != nil {
		return fmt.Errorf("%w: %w", errEnable, err)
	}

	if err := p.Run(); err != nil {
		return err
	}

	Process(stdout, p.Report())
	return nil
}
