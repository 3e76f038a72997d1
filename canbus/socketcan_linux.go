//go:build linux

package canbus

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrTxBusy is returned when the interface transmit queue stays full.
var ErrTxBusy = errors.New("canbus: transmit queue full")

// txWaitMs bounds how long Send waits for room in the transmit queue.
const txWaitMs = 5

// SocketCAN implements Bus over a Linux raw CAN socket.
type SocketCAN struct {
	mu     sync.Mutex
	fd     int
	iface  string
	closed bool
}

// DialSocketCAN opens a non-blocking raw CAN socket bound to the given
// interface name (e.g., "can0").
func DialSocketCAN(iface string) (*SocketCAN, error) {
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("canbus: interface %s: %w", iface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canbus: failed to create socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canbus: failed to bind %s: %w", iface, err)
	}

	return &SocketCAN{fd: fd, iface: iface}, nil
}

// Interface returns the bound interface name.
func (s *SocketCAN) Interface() string {
	return s.iface
}

// Send writes one frame, waiting briefly if the transmit queue is full.
func (s *SocketCAN) Send(frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for attempt := 0; attempt < 2; attempt++ {
		n, err := unix.Write(s.fd, buf)
		switch {
		case err == nil && n == len(buf):
			return nil
		case err == nil:
			return fmt.Errorf("canbus: short write %d/%d", n, len(buf))
		case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOBUFS):
			pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLOUT}}
			if _, perr := unix.Poll(pfd, txWaitMs); perr != nil && !errors.Is(perr, unix.EINTR) {
				return fmt.Errorf("canbus: poll: %w", perr)
			}
		default:
			return fmt.Errorf("canbus: write: %w", err)
		}
	}
	return ErrTxBusy
}

// TryReceive reads one frame if the socket has one pending.
func (s *SocketCAN) TryReceive() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Frame{}, false
	}

	var buf [frameSize]byte
	n, err := unix.Read(s.fd, buf[:])
	if err != nil || n != frameSize {
		return Frame{}, false
	}

	var f Frame
	if err := f.UnmarshalBinary(buf[:]); err != nil {
		return Frame{}, false
	}
	return f, true
}

// Wait blocks up to timeoutMs for an inbound frame. It returns true when
// a frame is ready to read.
func (s *SocketCAN) Wait(timeoutMs int) bool {
	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, timeoutMs)
	return err == nil && n > 0 && pfd[0].Revents&unix.POLLIN != 0
}

// Close closes the socket.
func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
