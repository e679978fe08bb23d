// Package serialio opens a physical serial link and exposes it as the
// blocking io.ReadWriteCloser that transport.NewStreamAdapter expects.
package serialio

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Config describes how to open the link to the motor controller.
type Config struct {
	// Device is the OS path to the serial device, e.g. "/dev/ttyACM0".
	Device string
	// Baud is the line rate. USB CDC controllers generally ignore this.
	Baud int
	// ReadTimeout bounds how long a single blocking Read call may wait
	// before returning a timeout error; 0 means block indefinitely.
	ReadTimeout time.Duration
}

// DefaultConfig returns reasonable defaults for a USB CDC motor controller.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 0,
	}
}

// Port is a physical serial connection. It satisfies io.ReadWriteCloser so
// it can be handed directly to transport.NewStreamAdapter, and also
// exposes Flush for callers that need to discard buffered data.
type Port struct {
	port *serial.Port
}

// Open opens the serial device described by cfg.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serialio: device path is empty")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serialio: open %s: %w", cfg.Device, err)
	}
	return &Port{port: port}, nil
}

func (p *Port) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *Port) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *Port) Close() error                { return p.port.Close() }
func (p *Port) Flush() error                { return p.port.Flush() }
