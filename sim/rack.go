package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"panelbus/brain"
	"panelbus/canbus"
	"panelbus/core"
	"panelbus/panel"
	"panelbus/protocol"
)

// ErrNotQuiet is returned when detection has not settled in time
var ErrNotQuiet = errors.New("sim: rack did not settle")

// hostBufferSize bounds bytes queued from the host to the controller
const hostBufferSize = 4096

// maxFramesPerStep bounds the controller's receive work per millisecond
const maxFramesPerStep = 64

// PanelSpec describes one simulated panel
type PanelSpec struct {
	UID     core.UID
	Type    uint32
	Version uint32
}

// Config configures a Rack
type Config struct {
	Brain            brain.Config
	MessageTimeoutMs uint32
	LEDCount         int
	Panels           []PanelSpec
}

// Node is one panel slot in the rack
type Node struct {
	Spec   PanelSpec
	Client *panel.Client
	LEDs   *panel.LEDBank

	ep     *canbus.Endpoint
	online bool
}

// Online reports whether the panel is plugged in
func (n *Node) Online() bool {
	return n.online
}

// Rack is a controller and its panels on one arbitrating loopback bus,
// driven by a manual millisecond clock. The controller's serial link is
// exposed through HostWrite and HostRead.
type Rack struct {
	mu sync.Mutex

	cfg   Config
	log   *slog.Logger
	bus   *canbus.LoopbackBus
	clock core.ManualClock

	ctrlEP     *canbus.Endpoint
	controller *brain.Controller
	hostOut    *protocol.ScratchOutput
	hostIn     *protocol.FifoBuffer

	nodes []*Node
}

// NewRack builds a rack with the configured panels, all powered off
func NewRack(cfg Config, logger *slog.Logger) *Rack {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rack{
		cfg:     cfg,
		log:     logger,
		bus:     canbus.NewLoopbackBus(canbus.WithArbitration()),
		hostOut: protocol.NewScratchOutput(),
		hostIn:  protocol.NewFifoBuffer(hostBufferSize),
	}
	r.ctrlEP = r.bus.Open()
	r.controller = brain.NewController(r.ctrlEP, r.hostOut, cfg.Brain, logger)

	for _, spec := range cfg.Panels {
		r.nodes = append(r.nodes, &Node{Spec: spec, LEDs: panel.NewLEDBank(cfg.LEDCount)})
	}
	return r
}

// Start boots the controller and powers on every panel
func (r *Rack) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Millis()
	r.controller.Start(now)
	for _, n := range r.nodes {
		r.plugLocked(n, now)
	}
}

// RebootController replaces the controller with a fresh one and boots it.
// The panel table is lost; panels keep their state.
func (r *Rack) RebootController() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.ctrlEP.Pending() > 0 {
		r.ctrlEP.TryReceive()
	}
	r.controller = brain.NewController(r.ctrlEP, r.hostOut, r.cfg.Brain, r.log)
	r.controller.Start(r.clock.Millis())
}

// AddPanel plugs a new panel into the running rack
func (r *Rack) AddPanel(spec PanelSpec) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := &Node{Spec: spec, LEDs: panel.NewLEDBank(r.cfg.LEDCount)}
	r.nodes = append(r.nodes, n)
	r.plugLocked(n, r.clock.Millis())
	return n
}

// Unplug disconnects panel i. It loses all state.
func (r *Rack) Unplug(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.nodeLocked(i)
	if err != nil {
		return err
	}
	if !n.online {
		return nil
	}
	n.ep.Close()
	n.online = false
	n.Client = nil
	n.LEDs.Clear()
	return nil
}

// Plug reconnects panel i with fresh state
func (r *Rack) Plug(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.nodeLocked(i)
	if err != nil {
		return err
	}
	if n.online {
		return nil
	}
	r.plugLocked(n, r.clock.Millis())
	return nil
}

func (r *Rack) nodeLocked(i int) (*Node, error) {
	if i < 0 || i >= len(r.nodes) {
		return nil, fmt.Errorf("sim: no panel %d", i)
	}
	return r.nodes[i], nil
}

func (r *Rack) plugLocked(n *Node, now uint32) {
	n.ep = r.bus.Open()
	n.Client = panel.NewClient(n.ep, panel.Config{
		UID:              n.Spec.UID,
		Type:             n.Spec.Type,
		Version:          n.Spec.Version,
		MessageTimeoutMs: r.cfg.MessageTimeoutMs,
	}, r.log)
	leds := n.LEDs
	n.Client.SetLEDHandler(func(cmd core.LEDCommand) { leds.Apply(cmd) })
	n.online = true
	n.Client.Start(now)
}

// Step advances the clock by one millisecond and runs one superloop
// iteration on every node, then resolves the bus
func (r *Rack) Step() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stepLocked()
}

func (r *Rack) stepLocked() {
	now := r.clock.Advance(1)

	if !r.hostIn.IsEmpty() {
		r.controller.ReceiveSerial(r.hostIn, now)
	}
	r.controller.Poll(now)
	for i := 1; i < maxFramesPerStep && r.ctrlEP.Pending() > 0; i++ {
		r.controller.Poll(now)
	}

	for _, n := range r.nodes {
		if !n.online {
			continue
		}
		for {
			f, ok := n.ep.TryReceive()
			if !ok {
				break
			}
			n.Client.HandleFrame(f, now)
		}
		n.Client.Poll(now)
	}

	r.bus.Tick()
}

// Run steps the rack for ms milliseconds
func (r *Rack) Run(ms uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := uint32(0); i < ms; i++ {
		r.stepLocked()
	}
}

// RunUntilQuiet steps until the controller has broadcast RUN and every
// online panel is either running or parked without an id. It returns the
// milliseconds taken.
func (r *Rack) RunUntilQuiet(limitMs uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ms := uint32(0); ms < limitMs; ms++ {
		r.stepLocked()
		if r.quietLocked() {
			return ms + 1, nil
		}
	}
	return limitMs, fmt.Errorf("%w after %d ms (controller %v)", ErrNotQuiet, limitMs, r.controller.Mode())
}

func (r *Rack) quietLocked() bool {
	if r.controller.Mode() != core.ModeRun {
		return false
	}
	for _, n := range r.nodes {
		if !n.online {
			continue
		}
		switch n.Client.Mode() {
		case core.ModeRun:
		case core.ModeInit:
			if n.Client.Configured() {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// HostWrite queues bytes from the host to the controller's serial port.
// It returns how many bytes were accepted.
func (r *Rack) HostWrite(p []byte) int {
	return r.hostIn.Write(p)
}

// HostRead drains bytes the controller sent to the host
func (r *Rack) HostRead() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostOut.Take()
}

// SendEvent makes panel i emit a runtime frame
func (r *Rack) SendEvent(i int, op core.Opcode, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.nodeLocked(i)
	if err != nil {
		return err
	}
	if !n.online {
		return fmt.Errorf("sim: panel %d is unplugged", i)
	}
	return n.Client.SendEvent(op, payload)
}

// Nodes returns the panel slots
func (r *Rack) Nodes() []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Controller returns the rack's controller. Callers must not use it
// concurrently with Step.
func (r *Rack) Controller() *brain.Controller {
	return r.controller
}

// Now returns the rack clock in milliseconds
func (r *Rack) Now() uint32 {
	return r.clock.Millis()
}
