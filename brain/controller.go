package brain

import (
	"log/slog"

	"panelbus/canbus"
	"panelbus/core"
	"panelbus/protocol"
)

// Config configures a Controller
type Config struct {
	Arbiter ArbiterConfig
}

// DefaultConfig returns the standard controller configuration
func DefaultConfig() Config {
	return Config{Arbiter: DefaultArbiterConfig()}
}

// PanelEvent is a runtime frame received from a registered panel
type PanelEvent struct {
	ShortID uint8
	Opcode  core.Opcode
	Payload []byte
	Time    uint32
}

// ControllerStats counts bridge traffic
type ControllerStats struct {
	ToHost          uint32 // runtime frames forwarded to the host
	ToBus           uint32 // host frames forwarded to the bus
	Unroutable      uint32 // host frames for a short id with no row
	UnknownSource   uint32 // runtime frames from a short id with no row
	HostCommands    uint32
	UnknownCommands uint32
	BadMessages     uint32
	TxFailures      uint32
}

// Controller is the gateway between the CAN panels and the host serial
// link. It is driven by a superloop: Poll for timers and CAN traffic,
// ReceiveSerial for bytes from the host.
type Controller struct {
	bus      canbus.Bus
	table    *PanelTable
	arbiter  *Arbiter
	serial   *protocol.Transport
	commands *CommandRegistry
	log      *slog.Logger

	now          uint32
	onPanelEvent func(PanelEvent)

	stats ControllerStats
}

// NewController creates a controller on bus writing host frames to out
func NewController(bus canbus.Bus, out protocol.OutputBuffer, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		bus:      bus,
		table:    NewPanelTable(),
		commands: NewCommandRegistry(),
		log:      logger.With("component", "controller"),
	}
	c.arbiter = NewArbiter(bus, c.table, cfg.Arbiter, logger)
	c.arbiter.SetRegisteredHandler(c.panelRegistered)
	c.serial = protocol.NewTransport(out, c.handleSerialFrame)

	c.commands.Register(protocol.HostCmdNumPanels, "num_panels", c.cmdNumPanels)
	c.commands.Register(protocol.HostCmdPanelInfo, "panel_info", c.cmdPanelInfo)
	c.commands.Register(protocol.HostCmdReset, "reset", c.cmdReset)

	return c
}

// SetPanelEventHandler sets a callback for runtime frames from panels
func (c *Controller) SetPanelEventHandler(fn func(PanelEvent)) {
	c.onPanelEvent = fn
}

// Start announces the controller to the host and asks every panel to
// (re)announce itself
func (c *Controller) Start(now uint32) {
	c.now = now
	c.sendHost(protocol.HostCommand(protocol.HostCmdReset))
	c.arbiter.Restart(now, true)
}

// Poll runs one superloop iteration: detection timers and at most one CAN
// frame
func (c *Controller) Poll(now uint32) {
	c.now = now
	c.arbiter.Poll(now)

	f, ok := c.bus.TryReceive()
	if !ok {
		return
	}
	if c.arbiter.HandleFrame(f, now) {
		return
	}
	if core.Classify(f) == core.KindRuntime {
		c.handleRuntime(f, now)
	}
}

// ReceiveSerial consumes bytes from the host link
func (c *Controller) ReceiveSerial(input protocol.InputBuffer, now uint32) {
	c.now = now
	c.serial.Receive(input)
}

func (c *Controller) handleRuntime(f canbus.Frame, now uint32) {
	op, id, payload, err := core.DecodeRuntime(f)
	if err != nil {
		return
	}
	if !c.table.Touch(id, now) {
		c.stats.UnknownSource++
		c.log.Debug("runtime frame from unregistered id", "frame", f.String())
		return
	}

	c.stats.ToHost++
	c.sendHost(protocol.CANMessage(uint16(f.ID), payload))

	if c.onPanelEvent != nil {
		c.onPanelEvent(PanelEvent{ShortID: id, Opcode: op, Payload: payload, Time: now})
	}
}

func (c *Controller) handleSerialFrame(payload []byte) {
	msg, err := protocol.ParseMessage(payload)
	if err != nil {
		c.stats.BadMessages++
		return
	}

	if msg.Host {
		c.stats.HostCommands++
		if err := c.commands.Dispatch(msg.Command, msg.Data); err != nil {
			c.stats.UnknownCommands++
			c.log.Warn("host command failed", "command", msg.Command, "error", err)
		}
		return
	}

	id := uint8(msg.CANID & core.ShortIDMask)
	if _, ok := c.table.Lookup(id); !ok {
		c.stats.Unroutable++
		return
	}
	f, err := canbus.NewStandard(uint32(msg.CANID), msg.Data)
	if err != nil {
		c.stats.BadMessages++
		return
	}
	if err := c.bus.Send(f); err != nil {
		c.stats.TxFailures++
		c.log.Warn("forward to panel failed", "frame", f.String(), "error", err)
		return
	}
	c.stats.ToBus++
}

func (c *Controller) cmdNumPanels(args []byte) error {
	return c.sendHost(protocol.NumPanelsResponse(c.table.Count()))
}

func (c *Controller) cmdPanelInfo(args []byte) error {
	for _, info := range c.table.Info() {
		if err := c.sendHost(protocol.PanelInfoResponse(info.ID, info.Type)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) cmdReset(args []byte) error {
	c.log.Info("host requested detection reset")
	if err := c.sendHost(protocol.HostCommand(protocol.HostCmdReset)); err != nil {
		return err
	}
	c.arbiter.Restart(c.now, true)
	return nil
}

// panelRegistered tells the host about a new or re-announced panel
func (c *Controller) panelRegistered(p core.PanelIdentity) {
	c.sendHost(protocol.PanelInfoResponse(p.ShortID, p.Type))
}

func (c *Controller) sendHost(msg protocol.Message) error {
	return c.serial.SendMessage(msg)
}

// Table returns the panel table
func (c *Controller) Table() *PanelTable {
	return c.table
}

// Arbiter returns the detection arbiter
func (c *Controller) Arbiter() *Arbiter {
	return c.arbiter
}

// Mode returns the controller run mode
func (c *Controller) Mode() core.RunMode {
	return c.arbiter.Mode()
}

// Commands returns the host command registry
func (c *Controller) Commands() *CommandRegistry {
	return c.commands
}

// Stats returns bridge counters
func (c *Controller) Stats() ControllerStats {
	return c.stats
}

// SerialStats returns the host link receive counters
func (c *Controller) SerialStats() protocol.ReceiveStats {
	return c.serial.Stats()
}
