package serial

import (
	"fmt"
	"net"
	"time"
)

// SocketPort carries the controller link over a unix socket
type SocketPort struct {
	conn net.Conn
	path string
}

// DialSocket connects to a controller link served on a unix socket
func DialSocket(path string, timeout time.Duration) (*SocketPort, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	return &SocketPort{conn: conn, path: path}, nil
}

// Read reads from the socket
func (p *SocketPort) Read(b []byte) (int, error) {
	return p.conn.Read(b)
}

// Write writes to the socket
func (p *SocketPort) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

// Close closes the socket
func (p *SocketPort) Close() error {
	return p.conn.Close()
}

// Flush is a no-op; a socket has no driver buffer to discard
func (p *SocketPort) Flush() error {
	return nil
}

// Path returns the socket path
func (p *SocketPort) Path() string {
	return p.path
}
