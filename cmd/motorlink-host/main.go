package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amken3d/motorlink/config"
	"github.com/amken3d/motorlink/endpoint"
	"github.com/amken3d/motorlink/framing"
	"github.com/amken3d/motorlink/logging"
	"github.com/amken3d/motorlink/serialio"
	"github.com/amken3d/motorlink/transport"
)

var (
	configPath = flag.String("config", "", "Path to a link.toml configuration file (optional)")
	device     = flag.String("device", "", "Serial device path, overrides the config file")
	baud       = flag.Int("baud", 0, "Baud rate, overrides the config file")
)

func main() {
	flag.Parse()
	logging.Configure("motorlink-host")
	log := logging.Get()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *baud != 0 {
		cfg.Baud = *baud
	}

	fmt.Println("motorlink-host")
	fmt.Println("==============")
	fmt.Printf("Connecting to %s at %d baud...\n", cfg.Device, cfg.Baud)

	port, err := serialio.Open(serialio.Config{Device: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()

	source, sink := transport.NewStreamAdapter(port)
	unwrapper := framing.NewPacketUnwrapper(source)
	unwrapper.SetLogger(log)
	wrapper := framing.NewPacketWrapper(sink)

	loop := newRunLoop()
	go loop.run()

	eng := endpoint.New(&serializingSink{wrapper, loop}, &serializingSource{unwrapper, loop}, cfg.MTU)
	eng.SetLogger(log)

	stopped := make(chan transport.Status, 1)
	if err := eng.Start(func(status transport.Status) { stopped <- status }); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start engine: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Connected. Type 'help' for available commands, 'quit' to exit.")

	go func() {
		status := <-stopped
		fmt.Printf("\nLink closed (%s).\n", status)
		os.Exit(0)
	}()

	runRepl(eng, loop, cfg.MTU, cfg.InvokeTimeout)
}

func runRepl(eng *endpoint.EndpointProtocol, loop *runLoop, mtu int, timeout time.Duration) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit", "q":
			return
		case "help", "?":
			printHelp()
		case "stats":
			printStats(call(loop, eng.Stats))
		case "invoke":
			if err := doInvoke(eng, loop, fields[1:], mtu, timeout); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", fields[0])
		}
	}
}

func doInvoke(eng *endpoint.EndpointProtocol, loop *runLoop, args []string, mtu int, timeout time.Duration) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: invoke <endpoint-id> [hex-payload]")
	}
	endpointID, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid endpoint id %q: %w", args[0], err)
	}
	var tx []byte
	if len(args) > 1 {
		tx, err = hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("invalid hex payload %q: %w", args[1], err)
		}
	}

	rx := make([]byte, mtu)
	done := make(chan endpoint.InvokeResult, 1)
	outcome := call(loop, func() invokeOutcome {
		handle, err := eng.Invoke(uint16(endpointID), tx, rx, func(r endpoint.InvokeResult) { done <- r })
		return invokeOutcome{handle, err}
	})
	if outcome.err != nil {
		return outcome.err
	}

	select {
	case result := <-done:
		if result.Status != transport.Ok {
			return fmt.Errorf("invoke failed: %s", result.Status)
		}
		fmt.Printf("reply (%d bytes): %s\n", result.N, hex.EncodeToString(rx[:result.N]))
		return nil
	case <-time.After(timeout):
		loop.post(func() { eng.Cancel(outcome.handle) })
		return fmt.Errorf("invoke timed out after %s", timeout)
	}
}

func printStats(stats endpoint.EndpointStats) {
	fmt.Printf("invokes=%d busy_rejections=%d dropped_packets=%d bad_frames=%d seqno_collisions=%d\n",
		stats.Invokes, stats.BusyRejections, stats.DroppedPackets, stats.BadFrames, stats.SeqnoCollisions)
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  help                          - Show this help message")
	fmt.Println("  invoke <endpoint-id> [hex]    - Call an endpoint with an optional hex payload")
	fmt.Println("  stats                         - Print engine counters")
	fmt.Println("  quit/exit/q                   - Exit the program")
	fmt.Println()
}
