// Package serial opens the host side of the G-code link
package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is an open serial link
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not read
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC ignores this)
	Baud int

	// ReadTimeout bounds each read (0 = block until data arrives)
	ReadTimeout time.Duration
}

// DefaultConfig returns a blocking configuration at the usual 250000 baud
func DefaultConfig(device string) *Config {
	return &Config{
		Device: device,
		Baud:   250000,
	}
}

// nativePort wraps the tarm/serial implementation
type nativePort struct {
	port *serial.Port
	cfg  Config
}

// Open opens a serial device
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("no serial device configured")
	}
	baud := cfg.Baud
	if baud <= 0 {
		baud = DefaultConfig(cfg.Device).Baud
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return &nativePort{port: port, cfg: *cfg}, nil
}

// Read reads data from the serial port
func (p *nativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// Write writes data to the serial port
func (p *nativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the serial port
func (p *nativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush discards unread input
func (p *nativePort) Flush() error {
	return p.port.Flush()
}
