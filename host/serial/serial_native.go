package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// ErrInvalidConfig is returned by Open for unusable settings
var ErrInvalidConfig = errors.New("serial: invalid config")

// NativePort is a tty driven through github.com/tarm/serial
type NativePort struct {
	port *serial.Port
	cfg  Config

	writeMu sync.Mutex
}

// Open opens the device named by cfg. A zero Baud uses DefaultBaud.
func Open(cfg *Config) (Port, error) {
	c, err := checkConfig(cfg)
	if err != nil {
		return nil, err
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        c.Device,
		Baud:        c.Baud,
		ReadTimeout: time.Duration(c.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", c.Device, err)
	}
	return &NativePort{port: port, cfg: c}, nil
}

func checkConfig(cfg *Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	c := *cfg
	if c.Device == "" {
		return c, fmt.Errorf("%w: no device", ErrInvalidConfig)
	}
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	if c.Baud < 0 || c.ReadTimeout < 0 {
		return c, fmt.Errorf("%w: baud %d, read timeout %d", ErrInvalidConfig, c.Baud, c.ReadTimeout)
	}
	return c, nil
}

// Read returns (0, nil) when the read timeout expires with nothing
// received, so callers can tell a quiet line from a closed port.
func (p *NativePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && errors.Is(err, io.EOF) && p.cfg.ReadTimeout > 0 {
		return 0, nil
	}
	return n, err
}

// Write writes all of b. Frames from concurrent writers do not interleave.
func (p *NativePort) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	written := 0
	for written < len(b) {
		n, err := p.port.Write(b[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

func (p *NativePort) Close() error {
	return p.port.Close()
}

// Flush discards data received but not yet read
func (p *NativePort) Flush() error {
	return p.port.Flush()
}

// Device returns the device path
func (p *NativePort) Device() string {
	return p.cfg.Device
}

// Baud returns the configured line speed
func (p *NativePort) Baud() int {
	return p.cfg.Baud
}
