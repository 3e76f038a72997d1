package config

import (
	"panelbus/brain"
	"panelbus/panel"
)

// Defaults
const (
	DefaultCANInterface   = "can0"
	DefaultSerialDevice   = "/dev/ttyS0"
	DefaultBaud           = 1152000
	DefaultReadTimeoutMs  = 10
	DefaultQueryTimeoutMs = 1000
	DefaultSimSocket      = "/tmp/panelbus.sock"
	DefaultLogLevel       = "info"
)

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields. It is allowed to mutate configuration
// and must be called before Validate.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	g := &cfg.Gateway
	if g.CANInterface == "" {
		g.CANInterface = DefaultCANInterface
	}
	if g.SerialDevice == "" {
		g.SerialDevice = DefaultSerialDevice
	}
	if g.Baud == 0 {
		g.Baud = DefaultBaud
	}
	if g.ReadTimeoutMs == 0 {
		g.ReadTimeoutMs = DefaultReadTimeoutMs
	}
	if g.QuiescenceMs == 0 {
		g.QuiescenceMs = brain.DefaultQuiescenceMs
	}
	if g.SessionTimeoutMs == 0 {
		g.SessionTimeoutMs = brain.DefaultSessionTimeoutMs
	}
	if g.LogLevel == "" {
		g.LogLevel = DefaultLogLevel
	}

	h := &cfg.Host
	if h.Device == "" {
		h.Device = DefaultSerialDevice
	}
	if h.Baud == 0 {
		h.Baud = DefaultBaud
	}
	if h.QueryTimeoutMs == 0 {
		h.QueryTimeoutMs = DefaultQueryTimeoutMs
	}
	if h.LogLevel == "" {
		h.LogLevel = DefaultLogLevel
	}

	s := &cfg.Sim
	if s.Socket == "" {
		s.Socket = DefaultSimSocket
	}
	if s.MessageTimeoutMs == 0 {
		s.MessageTimeoutMs = panel.DefaultMessageTimeoutMs
	}
	if s.LEDCount == 0 {
		s.LEDCount = panel.DefaultLEDCount
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
}
