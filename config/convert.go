package config

import (
	"panelbus/brain"
	"panelbus/core"
	"panelbus/sim"
)

// BrainConfig returns the controller settings of the gateway section
func (g GatewayConfig) BrainConfig() brain.Config {
	return brain.Config{Arbiter: brain.ArbiterConfig{
		QuiescenceMs:     g.QuiescenceMs,
		SessionTimeoutMs: g.SessionTimeoutMs,
	}}
}

// RackConfig builds the simulated rack. Panel UIDs must already have
// passed Validate.
func (c *Config) RackConfig() (sim.Config, error) {
	specs := make([]sim.PanelSpec, 0, len(c.Sim.Panels))
	for _, p := range c.Sim.Panels {
		uid, err := core.ParseUID(p.UID)
		if err != nil {
			return sim.Config{}, err
		}
		specs = append(specs, sim.PanelSpec{UID: uid, Type: p.Type, Version: p.Version})
	}
	return sim.Config{
		Brain:            c.Gateway.BrainConfig(),
		MessageTimeoutMs: c.Sim.MessageTimeoutMs,
		LEDCount:         c.Sim.LEDCount,
		Panels:           specs,
	}, nil
}
