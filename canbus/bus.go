package canbus

// Bus is a polled CAN connection. The controller and panels run
// single-threaded superloops, so receiving never blocks.
type Bus interface {
	// Send queues a frame for transmission. A non-nil error means the
	// frame was not transmitted.
	Send(frame Frame) error

	// TryReceive returns the next pending frame, if any.
	TryReceive() (Frame, bool)

	// Close releases resources. Further Send returns ErrClosed.
	Close() error
}

// FrameFilter reports whether a frame should be accepted.
type FrameFilter func(Frame) bool
