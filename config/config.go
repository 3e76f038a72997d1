package config

// Config is the panelbus YAML configuration. Each binary reads the
// section it needs.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Host    HostConfig    `yaml:"host"`
	Sim     SimConfig     `yaml:"sim"`
}

// ---- GATEWAY ----

// GatewayConfig configures the controller gateway (targets/linux)
type GatewayConfig struct {
	CANInterface  string `yaml:"can_interface"`
	SerialDevice  string `yaml:"serial_device"`
	Baud          int    `yaml:"baud"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`

	QuiescenceMs     uint32 `yaml:"quiescence_ms"`
	SessionTimeoutMs uint32 `yaml:"session_timeout_ms"`

	LogLevel string `yaml:"log_level"`
	LogCAN   bool   `yaml:"log_can"` // log every CAN frame at debug
}

// ---- HOST ----

// HostConfig configures the host tools. Socket, when set, takes
// precedence over Device.
type HostConfig struct {
	Device         string `yaml:"device"`
	Baud           int    `yaml:"baud"`
	Socket         string `yaml:"socket"`
	QueryTimeoutMs int    `yaml:"query_timeout_ms"`
	MonitorAddr    string `yaml:"monitor_addr"`
	LogLevel       string `yaml:"log_level"`
}

// ---- SIM ----

// SimConfig configures the simulated rack (targets/sim)
type SimConfig struct {
	Socket           string        `yaml:"socket"`
	MessageTimeoutMs uint32        `yaml:"message_timeout_ms"`
	LEDCount         int           `yaml:"led_count"`
	Panels           []PanelConfig `yaml:"panels"`
	LogLevel         string        `yaml:"log_level"`
}

// PanelConfig is one simulated panel. UID is 24 hex digits.
type PanelConfig struct {
	UID     string `yaml:"uid"`
	Type    uint32 `yaml:"type"`
	Version uint32 `yaml:"version"`
}
