package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"pflatency/pkg/packet"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
)

var (
	// configuration errors are reported before any resource is acquired and exit with status 0
	errConfig = errors.New("invalid configuration")
	errEnable = errors.New("unable to enable port")
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := mainErr(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var oe *packet.OpenError
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp), errors.Is(err, errConfig):
		return 0
	case errors.As(err, &oe), errors.Is(err, errEnable):
		return -1
	default:
		return 1
	}
}

type Config struct {
	inDev   string
	outDev  string
	length  int
	count   int
	core    int
	dstMAC  net.HardwareAddr
	reflect bool
	verbose bool
}

func mainErr(args []string, stdout io.Writer) error {
	conf, err := parseFlags(args, stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if conf.reflect {
		return Server(conf, stdout)
	}
	return Client(conf, stdout)
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "pflatency - Sends a packet and wait actively for the packet back, computing the rtt latency")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: pflatency -i <device> [-o <device>] [-l <length>] [-c <count>] [-g <core_id>] [-m <dst MAC>] [-v]")
	fmt.Fprintln(w, "")
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nDevice %q is an in-memory loopback that echoes every frame.\n", packet.LoopbackDevice)
}

func parseFlags(args []string, stdout io.Writer) (Config, error) {
	conf := Config{
		length: defaultLength,
		count:  defaultCount,
		core:   -1,
	}
	var (
		mac  string
		help bool
	)

	fs := flag.NewFlagSet("pflatency", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.SortFlags = false
	fs.StringVarP(&conf.inDev, "in", "i", "", "Producer device name")
	fs.StringVarP(&conf.outDev, "out", "o", "", "Receiver device name (same as -i by default)")
	fs.IntVarP(&conf.length, "len", "l", defaultLength, "Packet length to send (minimum 60)")
	fs.IntVarP(&conf.count, "count", "c", defaultCount, "Number of packets to send")
	fs.IntVarP(&conf.core, "core", "g", -1, "Bind this app to a core")
	fs.StringVarP(&mac, "mac", "m", "", "Reforge destination MAC (format AA:BB:CC:DD:EE:FF)")
	fs.BoolVarP(&conf.reflect, "reflect", "r", false, "Echo probe frames received on -i back out of -o")
	fs.BoolVarP(&conf.verbose, "verbose", "v", false, "Log send and receive ticks of every packet")
	fs.BoolVarP(&help, "help", "h", false, "Print this help")
	fs.Usage = func() { usage(stdout, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return conf, err
		}
		return conf, fmt.Errorf("%w: %w", errConfig, err)
	}

	if help || conf.inDev == "" {
		fs.Usage()
		return conf, flag.ErrHelp
	}

	if mac != "" {
		hw, err := parseMAC(mac)
		if err != nil {
			return conf, err
		}
		conf.dstMAC = hw
	}

	if conf.outDev == "" {
		conf.outDev = conf.inDev
	}
	conf.length = packet.ClampLength(conf.length)

	return conf, nil
}

// parseMAC accepts exactly six colon separated hex octets.
func parseMAC(s string) (net.HardwareAddr, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return nil, fmt.Errorf("%w: invalid MAC address format %q (XX:XX:XX:XX:XX:XX)", errConfig, s)
	}
	hw := make(net.HardwareAddr, 6)
	for i, p := range parts {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: invalid MAC address format %q (XX:XX:XX:XX:XX:XX)", errConfig, s)
		}
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid MAC address format %q (XX:XX:XX:XX:XX:XX)", errConfig, s)
		}
		hw[i] = byte(b)
	}
	return hw, nil
}
