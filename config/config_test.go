package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"panelbus/brain"
	"panelbus/core"
)

const sampleYAML = `
gateway:
  can_interface: vcan0
  serial_device: /dev/ttyAMA0
  baud: 115200
  quiescence_ms: 800
  log_level: debug
host:
  socket: /run/panelbus.sock
  monitor_addr: ":8090"
sim:
  message_timeout_ms: 100
  panels:
    - uid: "0011223344556677 8899aabb"
      type: 3
      version: 2
    - uid: "ffeeddcc-bbaa9988-77665544"
      type: 4
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	g := cfg.Gateway
	if g.CANInterface != "vcan0" || g.Baud != 115200 || g.QuiescenceMs != 800 {
		t.Errorf("gateway = %+v", g)
	}
	// Defaults fill the rest
	if g.SessionTimeoutMs != brain.DefaultSessionTimeoutMs || g.ReadTimeoutMs != DefaultReadTimeoutMs {
		t.Errorf("gateway defaults not applied: %+v", g)
	}
	if cfg.Host.Socket != "/run/panelbus.sock" || cfg.Host.QueryTimeoutMs != DefaultQueryTimeoutMs {
		t.Errorf("host = %+v", cfg.Host)
	}

	rack, err := cfg.RackConfig()
	if err != nil {
		t.Fatalf("RackConfig failed: %v", err)
	}
	if len(rack.Panels) != 2 || rack.MessageTimeoutMs != 100 {
		t.Fatalf("rack = %+v", rack)
	}
	want := core.UID{0x00112233, 0x44556677, 0x8899AABB}
	if rack.Panels[0].UID != want || rack.Panels[0].Type != 3 || rack.Panels[0].Version != 2 {
		t.Errorf("panel 0 = %+v", rack.Panels[0])
	}
	if rack.Brain.Arbiter.QuiescenceMs != 800 {
		t.Errorf("arbiter = %+v", rack.Brain.Arbiter)
	}

	level, err := ParseLogLevel(g.LogLevel)
	if err != nil || level != slog.LevelDebug {
		t.Errorf("log level = %v, %v", level, err)
	}
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) failed: %v", err)
	}
	def := Default()
	if cfg.Gateway != def.Gateway || cfg.Host != def.Host || cfg.Sim.Socket != def.Sim.Socket {
		t.Errorf("empty config = %+v", cfg)
	}
	if len(cfg.Sim.Panels) != 0 {
		t.Errorf("unexpected panels %+v", cfg.Sim.Panels)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("gateway:\n  can_iface: can1\n"))
	if err == nil || !strings.Contains(err.Error(), "can_iface") {
		t.Errorf("expected unknown field error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"quiescence not above session timeout", func(c *Config) {
			c.Gateway.QuiescenceMs = 300
			c.Gateway.SessionTimeoutMs = 300
		}},
		{"bad log level", func(c *Config) { c.Host.LogLevel = "chatty" }},
		{"negative timeout", func(c *Config) { c.Host.QueryTimeoutMs = -1 }},
		{"bad uid", func(c *Config) { c.Sim.Panels = []PanelConfig{{UID: "1234"}} }},
		{"zero uid", func(c *Config) { c.Sim.Panels = []PanelConfig{{UID: strings.Repeat("0", 24)}} }},
		{"duplicate uid", func(c *Config) {
			c.Sim.Panels = []PanelConfig{{UID: strings.Repeat("a", 24)}, {UID: strings.Repeat("A", 24)}}
		}},
		{"too many panels", func(c *Config) {
			c.Sim.Panels = make([]PanelConfig, core.MaxShortID+2)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}

	if err := Validate(Default()); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	cfg := &Config{}
	Validate(cfg)
	if cfg.Gateway.CANInterface != "" || cfg.Host.Baud != 0 {
		t.Error("Validate must not apply defaults")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panelbus.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Sim.Panels) != 2 {
		t.Errorf("panels = %+v", cfg.Sim.Panels)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
}
