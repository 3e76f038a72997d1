package canbus

import (
	"context"
	"log/slog"
)

// LogOption is a bitmask for selecting which operations to log.
type LogOption uint8

const (
	LogNone  LogOption = 0
	LogRead  LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedBus wraps the given Bus and logs selected operations at the
// given level. Only frames accepted by filter are logged; a nil filter logs
// every frame. Send failures are always logged at Warn.
func NewLoggedBus(inner Bus, logger *slog.Logger, level slog.Level, opts LogOption, filter FrameFilter) Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggedBus{
		inner:  inner,
		logger: logger,
		level:  level,
		opts:   opts,
		filter: filter,
	}
}

type loggedBus struct {
	inner  Bus
	logger *slog.Logger
	level  slog.Level
	opts   LogOption
	filter FrameFilter
}

func (l *loggedBus) wants(f Frame) bool {
	return l.filter == nil || l.filter(f)
}

// Send logs the frame and the result when write logging is enabled.
func (l *loggedBus) Send(frame Frame) error {
	if l.opts&LogWrite != 0 && l.wants(frame) {
		l.logger.Log(context.Background(), l.level, "canbus send", "frame", frame.String())
	}
	err := l.inner.Send(frame)
	if err != nil {
		l.logger.Warn("canbus send failed", "frame", frame.String(), "error", err)
	}
	return err
}

// TryReceive logs received frames when read logging is enabled.
func (l *loggedBus) TryReceive() (Frame, bool) {
	f, ok := l.inner.TryReceive()
	if ok && l.opts&LogRead != 0 && l.wants(f) {
		l.logger.Log(context.Background(), l.level, "canbus receive", "frame", f.String())
	}
	return f, ok
}

// Close forwards to the inner Bus without logging.
func (l *loggedBus) Close() error {
	return l.inner.Close()
}
