package config

import (
	"errors"
	"fmt"
	"log/slog"

	"panelbus/core"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Validate checks configuration correctness.
// It performs declarative validation only and never mutates cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalid)
	}

	// ---- gateway ----
	g := cfg.Gateway
	if g.Baud < 0 || cfg.Host.Baud < 0 {
		return fmt.Errorf("%w: negative baud rate", ErrInvalid)
	}
	if g.ReadTimeoutMs < 0 {
		return fmt.Errorf("%w: gateway.read_timeout_ms must not be negative", ErrInvalid)
	}
	if g.SessionTimeoutMs != 0 && g.QuiescenceMs != 0 && g.QuiescenceMs <= g.SessionTimeoutMs {
		return fmt.Errorf("%w: gateway.quiescence_ms (%d) must exceed session_timeout_ms (%d)",
			ErrInvalid, g.QuiescenceMs, g.SessionTimeoutMs)
	}
	for name, level := range map[string]string{
		"gateway.log_level": g.LogLevel,
		"host.log_level":    cfg.Host.LogLevel,
		"sim.log_level":     cfg.Sim.LogLevel,
	} {
		if level == "" {
			continue
		}
		if _, err := ParseLogLevel(level); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	}

	// ---- host ----
	if cfg.Host.QueryTimeoutMs < 0 {
		return fmt.Errorf("%w: host.query_timeout_ms must not be negative", ErrInvalid)
	}

	// ---- sim ----
	s := cfg.Sim
	if s.LEDCount < 0 || s.LEDCount > 256 {
		return fmt.Errorf("%w: sim.led_count %d out of range", ErrInvalid, s.LEDCount)
	}
	if len(s.Panels) > core.MaxShortID+1 {
		return fmt.Errorf("%w: sim has %d panels, at most %d", ErrInvalid, len(s.Panels), core.MaxShortID+1)
	}

	seen := make(map[core.UID]int)
	for i, p := range s.Panels {
		uid, err := core.ParseUID(p.UID)
		if err != nil {
			return fmt.Errorf("%w: sim.panels[%d].uid: %v", ErrInvalid, i, err)
		}
		if uid.IsZero() {
			return fmt.Errorf("%w: sim.panels[%d].uid must not be zero", ErrInvalid, i)
		}
		if prev, dup := seen[uid]; dup {
			return fmt.Errorf("%w: sim.panels[%d] repeats the uid of panels[%d]", ErrInvalid, i, prev)
		}
		seen[uid] = i
	}
	return nil
}

// ParseLogLevel accepts debug, info, warn and error (any case)
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return level, nil
}
