package panel

import (
	"errors"
	"fmt"
	"log/slog"

	"panelbus/canbus"
	"panelbus/core"
)

// DefaultMessageTimeoutMs is how long a pending panel waits for an echo
const DefaultMessageTimeoutMs = 250

// DefaultMaxRetries is the number of consecutive timeouts before a panel
// stops retrying on its own and waits for the next StartDetect
const DefaultMaxRetries = 3

// ErrNotRunning is returned when a runtime event is sent outside RUN
var ErrNotRunning = errors.New("panel: not in RUN mode")

// Config describes one panel
type Config struct {
	UID     core.UID
	Type    uint32
	Version uint32

	MessageTimeoutMs uint32
	MaxRetries       int
}

// Stats counts detection outcomes seen by a panel
type Stats struct {
	Detections     uint32 // detection rounds started
	Fallbacks      uint32 // echoes carrying another panel's fragment
	Timeouts       uint32
	Rejections     uint32 // stage-4 echoes refusing this UID
	TxFailures     uint32
	LEDCommands    uint32
	FirmwareBlocks uint32
}

// Client is the panel half of short id detection plus the small runtime
// surface a panel needs once it has an id. It is driven by a superloop:
// Poll for timers, HandleFrame for each received frame.
type Client struct {
	bus canbus.Bus
	cfg Config
	log *slog.Logger

	mode    core.RunMode
	shortID uint8
	lastTx  uint32
	retries int

	// DETECT_1 could not be sent; Poll retries it
	restartPending bool

	// Re-announce cycle last joined, and whether this panel has
	// registered in it since the last RUN
	cycle     uint8
	announced bool

	// The controller had no free id; only a new re-announce cycle or a
	// reset makes the panel try again
	rejected bool

	onLED  func(core.LEDCommand)
	onMode func(from, to core.RunMode)

	events core.EventRing
	stats  Stats
}

// NewClient creates a panel transmitting on bus
func NewClient(bus canbus.Bus, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MessageTimeoutMs == 0 {
		cfg.MessageTimeoutMs = DefaultMessageTimeoutMs
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Client{
		bus: bus,
		cfg: cfg,
		log: logger.With("component", "panel", "uid", cfg.UID.String()),
	}
}

// SetLEDHandler sets the sink for LED commands received in RUN
func (c *Client) SetLEDHandler(fn func(core.LEDCommand)) {
	c.onLED = fn
}

// SetModeHandler sets a callback invoked on every mode change
func (c *Client) SetModeHandler(fn func(from, to core.RunMode)) {
	c.onMode = fn
}

// Start begins detection from stage 1
func (c *Client) Start(now uint32) {
	c.retries = 0
	c.restart(now)
}

func (c *Client) restart(now uint32) {
	c.restartPending = true
	c.lastTx = now

	f, err := core.DetectRequest(1, c.cfg.UID.Fragment(1))
	if err != nil || !c.transmit(f, now) {
		return
	}
	c.restartPending = false
	c.stats.Detections++
	c.setMode(core.ModePending1, now)
}

// fallback abandons the current round. A panel that already holds an id
// keeps it.
func (c *Client) fallback(now uint32) {
	c.restartPending = false
	if c.shortID != 0 {
		c.setMode(core.ModeReady, now)
	} else {
		c.setMode(core.ModeInit, now)
	}
}

// Poll runs the panel timers
func (c *Client) Poll(now uint32) {
	if core.Elapsed(now, c.lastTx) < c.cfg.MessageTimeoutMs {
		return
	}

	if stage := c.mode.PendingStage(); stage != 0 {
		c.stats.Timeouts++
		c.retries++
		c.events.Record(core.EvtTimeout, c.shortID, now, uint32(stage), uint32(c.retries))
		if c.retries > c.cfg.MaxRetries {
			c.log.Warn("detection gave up", "stage", stage, "retries", c.retries)
			c.fallback(now)
			return
		}
		c.log.Debug("echo timeout", "stage", stage)
		c.restart(now)
		return
	}

	if c.restartPending && c.mode != core.ModeFirmware {
		c.restart(now)
	}
}

// HandleFrame processes one received frame. It reports whether the frame
// passed the current acceptance filter.
func (c *Client) HandleFrame(f canbus.Frame, now uint32) bool {
	if !c.Filter()(f) {
		return false
	}

	switch core.Classify(f) {
	case core.KindBroadcast:
		if cmd, flags, err := core.ParseBroadcast(f); err == nil {
			c.handleBroadcast(cmd, flags, core.BroadcastCycle(f), now)
		}
	case core.KindDetectEcho:
		if stage, fragment, id, err := core.ParseDetectEcho(f); err == nil {
			c.handleEcho(stage, fragment, id, now)
		}
	case core.KindRuntime:
		c.handleRuntime(f)
	case core.KindFirmware:
		c.stats.FirmwareBlocks++
	}
	return true
}

func (c *Client) handleBroadcast(cmd core.BroadcastCommand, flags, cycle byte, now uint32) {
	switch cmd {
	case core.BroadcastStartDetect:
		reannounce := flags&core.FlagReannounce != 0
		sameCycle := reannounce && cycle == c.cycle
		switch {
		case c.mode == core.ModeFirmware:
			return
		case c.rejected:
			if !reannounce || sameCycle {
				return
			}
		case c.mode == core.ModeReady || c.mode == core.ModeRun:
			if !reannounce || (sameCycle && c.announced) {
				return
			}
		}
		if reannounce && !sameCycle {
			c.cycle = cycle
			c.announced = false
		}
		c.rejected = false
		c.Start(now)

	case core.BroadcastRun:
		if c.mode == core.ModeReady {
			c.announced = false
			c.setMode(core.ModeRun, now)
		}

	case core.BroadcastReset:
		c.log.Info("reset by controller")
		c.shortID = 0
		c.rejected = false
		c.announced = false
		c.setMode(core.ModeInit, now)
		c.Start(now)

	case core.BroadcastFirmware:
		c.restartPending = false
		c.setMode(core.ModeFirmware, now)
	}
}

func (c *Client) handleEcho(stage int, fragment uint32, id uint8, now uint32) {
	if stage != c.mode.PendingStage() {
		return
	}
	if fragment != c.cfg.UID.Fragment(stage) {
		c.stats.Fallbacks++
		c.events.Record(core.EvtFallback, c.shortID, now, uint32(stage), fragment)
		c.log.Debug("lost detection round", "stage", stage)
		c.fallback(now)
		return
	}

	if stage < core.DetectStages {
		next := stage + 1
		f, err := core.DetectRequest(next, c.cfg.UID.Fragment(next))
		if err != nil || !c.transmit(f, now) {
			return
		}
		c.lastTx = now
		c.events.Record(core.EvtDetectStage, c.shortID, now, uint32(next), 0)
		c.setMode(core.PendingMode(next), now)
		return
	}

	if id == 0 {
		c.stats.Rejections++
		c.events.Record(core.EvtAllocFail, c.shortID, now, uint32(stage), fragment)
		c.log.Warn("controller has no free short id")
		c.shortID = 0
		c.rejected = true
		c.retries = 0
		c.fallback(now)
		return
	}

	ack, err := core.AckFrame(id, c.cfg.Type, c.cfg.Version)
	if err != nil {
		c.log.Warn("invalid grant", "id", id)
		c.fallback(now)
		return
	}
	if !c.transmit(ack, now) {
		return
	}
	c.shortID = id
	c.retries = 0
	c.announced = true
	c.lastTx = now
	c.events.Record(core.EvtRegistered, id, now, c.cfg.Type, c.cfg.Version)
	c.log.Info("short id assigned", "id", id)
	c.setMode(core.ModeReady, now)
}

func (c *Client) handleRuntime(f canbus.Frame) {
	op, _, payload, err := core.DecodeRuntime(f)
	if err != nil || op != core.OpLED {
		return
	}
	cmd, err := core.ParseLEDCommand(payload)
	if err != nil {
		return
	}
	c.stats.LEDCommands++
	if c.onLED != nil {
		c.onLED(cmd)
	}
}

// SendEvent transmits a runtime frame (ADC, SWITCH, QUADENC) tagged with
// this panel's short id
func (c *Client) SendEvent(op core.Opcode, payload []byte) error {
	if c.mode != core.ModeRun {
		return ErrNotRunning
	}
	f, err := core.EncodeRuntime(op, c.shortID, payload)
	if err != nil {
		return err
	}
	if err := c.bus.Send(f); err != nil {
		c.stats.TxFailures++
		return fmt.Errorf("panel %d: send %v: %w", c.shortID, op, err)
	}
	return nil
}

// Filter returns the acceptance filter for the current mode
func (c *Client) Filter() canbus.FrameFilter {
	bcast := core.BroadcastFilter()
	switch {
	case c.mode.PendingStage() != 0:
		return canbus.Or(bcast, core.DetectEchoFilter(c.mode.PendingStage()))
	case c.mode == core.ModeRun:
		return canbus.Or(bcast, core.RuntimeFilter(c.shortID))
	case c.mode == core.ModeFirmware:
		return canbus.Or(bcast, core.FirmwareFilter())
	}
	return bcast
}

func (c *Client) transmit(f canbus.Frame, now uint32) bool {
	if err := c.bus.Send(f); err != nil {
		c.stats.TxFailures++
		c.events.Record(core.EvtTxFail, c.shortID, now, f.ID, 0)
		c.log.Warn("transmit failed", "frame", f.String(), "error", err)
		return false
	}
	return true
}

func (c *Client) setMode(m core.RunMode, now uint32) {
	if m == c.mode {
		return
	}
	old := c.mode
	c.mode = m
	c.events.Record(core.EvtModeChange, c.shortID, now, uint32(old), uint32(m))
	if c.onMode != nil {
		c.onMode(old, m)
	}
}

// Mode returns the panel run mode
func (c *Client) Mode() core.RunMode {
	return c.mode
}

// ShortID returns the assigned short id, 0 before the first ACK
func (c *Client) ShortID() uint8 {
	return c.shortID
}

// Rejected reports whether the controller refused this panel an id
func (c *Client) Rejected() bool {
	return c.rejected
}

// Configured reports whether the panel holds a short id
func (c *Client) Configured() bool {
	return c.shortID != 0
}

// UID returns the panel unique id
func (c *Client) UID() core.UID {
	return c.cfg.UID
}

// Stats returns the panel counters
func (c *Client) Stats() Stats {
	return c.stats
}

// Events returns the panel event ring
func (c *Client) Events() *core.EventRing {
	return &c.events
}
