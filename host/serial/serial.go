package serial

import (
	"io"
)

// Port is a byte stream to the controller. Implementations:
//   - NativePort, a tty opened with github.com/tarm/serial
//   - SocketPort, the unix socket served by the simulated rack
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyS0", "/dev/ttyACM0")
	Device string

	// Baud rate; the controller link runs at 1152000
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultBaud is the controller link speed
const DefaultBaud = 1152000

// DefaultConfig returns the standard controller link configuration
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}
