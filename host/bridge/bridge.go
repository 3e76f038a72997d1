package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"panelbus/canbus"
	"panelbus/core"
	"panelbus/host/serial"
	"panelbus/protocol"
)

// ErrNotConnected is returned after Close
var ErrNotConnected = errors.New("bridge: not connected")

// PanelInfo is one row of the controller's panel table as seen by the host
type PanelInfo struct {
	ID   uint8
	Type uint32
}

// PanelEvent is a runtime frame a panel sent through the controller
type PanelEvent struct {
	ShortID uint8
	Opcode  core.Opcode
	Payload []byte
	Time    time.Time
}

// Bridge is the host's view of the controller. It only observes: the
// panel cache is filled from controller responses and unsolicited
// PNL_INFO notifications, and cleared when the controller announces a
// reset.
type Bridge struct {
	transport *protocol.HostTransport
	log       *slog.Logger

	// One query in flight at a time
	queryMu sync.Mutex

	mu        sync.RWMutex
	panels    map[uint8]PanelInfo
	connected bool
	onEvent   func(PanelEvent)
	onPanel   func(PanelInfo)
	onReset   func()
}

// New attaches a bridge to an open controller link
func New(port io.ReadWriteCloser, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		log:       logger.With("component", "bridge"),
		panels:    make(map[uint8]PanelInfo),
		connected: true,
	}
	b.transport = protocol.NewHostTransport(port)
	b.transport.SetResponseHandler(b.handleMessage)
	return b
}

// Connect opens a serial device with the default link settings
func Connect(device string, logger *slog.Logger) (*Bridge, error) {
	return ConnectWithConfig(serial.DefaultConfig(device), logger)
}

// ConnectWithConfig opens a serial device with a custom config
func ConnectWithConfig(cfg *serial.Config, logger *slog.Logger) (*Bridge, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return New(port, logger), nil
}

// ConnectSocket connects to a simulated rack's unix socket
func ConnectSocket(path string, logger *slog.Logger) (*Bridge, error) {
	port, err := serial.DialSocket(path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return New(port, logger), nil
}

// Close closes the link
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return b.transport.Close()
}

// Done is closed when the link has gone away
func (b *Bridge) Done() <-chan struct{} {
	return b.transport.Done()
}

// OnPanelEvent sets the callback for runtime frames from panels. It runs
// on the link's reader goroutine.
func (b *Bridge) OnPanelEvent(fn func(PanelEvent)) {
	b.mu.Lock()
	b.onEvent = fn
	b.mu.Unlock()
}

// OnPanelInfo sets the callback for every PNL_INFO received
func (b *Bridge) OnPanelInfo(fn func(PanelInfo)) {
	b.mu.Lock()
	b.onPanel = fn
	b.mu.Unlock()
}

// OnReset sets the callback for controller reset announcements
func (b *Bridge) OnReset(fn func()) {
	b.mu.Lock()
	b.onReset = fn
	b.mu.Unlock()
}

// handleMessage runs for every message from the controller
func (b *Bridge) handleMessage(msg protocol.Message) {
	if !msg.Host {
		b.handleRuntime(msg)
		return
	}

	switch msg.Command {
	case protocol.HostCmdPanelInfo:
		id, panelType, err := protocol.ParsePanelInfo(msg)
		if err != nil {
			return
		}
		info := PanelInfo{ID: id, Type: panelType}
		b.mu.Lock()
		b.panels[id] = info
		fn := b.onPanel
		b.mu.Unlock()
		if fn != nil {
			fn(info)
		}

	case protocol.HostCmdReset:
		b.log.Info("controller reset")
		b.mu.Lock()
		clear(b.panels)
		fn := b.onReset
		b.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

func (b *Bridge) handleRuntime(msg protocol.Message) {
	f, err := canbus.NewStandard(uint32(msg.CANID), msg.Data)
	if err != nil {
		return
	}
	op, id, payload, err := core.DecodeRuntime(f)
	if err != nil {
		b.log.Debug("ignoring frame", "frame", f.String())
		return
	}

	b.mu.RLock()
	fn := b.onEvent
	b.mu.RUnlock()
	if fn != nil {
		fn(PanelEvent{ShortID: id, Opcode: op, Payload: payload, Time: time.Now()})
	}
}

func (b *Bridge) send(msg protocol.Message) error {
	b.mu.RLock()
	connected := b.connected
	b.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}
	return b.transport.Send(msg)
}

// await returns the next host response with the given sub-command.
// Other responses are skipped; the reader goroutine has already applied
// them to the cache.
func (b *Bridge) await(ctx context.Context, cmd byte) (protocol.Message, error) {
	for {
		msg, err := b.transport.ReceiveResponse(ctx)
		if err != nil {
			return protocol.Message{}, err
		}
		if msg.Command == cmd {
			return msg, nil
		}
	}
}

// QueryPanelCount asks the controller how many panels it has registered
func (b *Bridge) QueryPanelCount(ctx context.Context) (uint8, error) {
	b.queryMu.Lock()
	defer b.queryMu.Unlock()
	return b.queryCount(ctx)
}

func (b *Bridge) queryCount(ctx context.Context) (uint8, error) {
	b.transport.DrainResponses()
	if err := b.send(protocol.HostCommand(protocol.HostCmdNumPanels)); err != nil {
		return 0, err
	}
	msg, err := b.await(ctx, protocol.HostCmdNumPanels)
	if err != nil {
		return 0, fmt.Errorf("NUM_PNLS: %w", err)
	}
	if len(msg.Data) < 1 {
		return 0, fmt.Errorf("NUM_PNLS: empty response")
	}
	return msg.Data[0], nil
}

// QueryPanelInfo asks the controller for every registered panel. The
// count is queried first so the right number of responses is awaited.
func (b *Bridge) QueryPanelInfo(ctx context.Context) ([]PanelInfo, error) {
	b.queryMu.Lock()
	defer b.queryMu.Unlock()

	count, err := b.queryCount(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	if err := b.send(protocol.HostCommand(protocol.HostCmdPanelInfo)); err != nil {
		return nil, err
	}
	got := make(map[uint8]PanelInfo, count)
	for len(got) < int(count) {
		msg, err := b.await(ctx, protocol.HostCmdPanelInfo)
		if err != nil {
			return nil, fmt.Errorf("PNL_INFO (%d of %d): %w", len(got), count, err)
		}
		id, panelType, err := protocol.ParsePanelInfo(msg)
		if err != nil {
			continue
		}
		got[id] = PanelInfo{ID: id, Type: panelType}
	}
	return sortedInfo(got), nil
}

// Reset asks the controller to rerun detection. Every panel re-announces
// and keeps its short id, since the controller's table survives. The
// local cache is cleared on the RESET reply and refills from PNL_INFO.
func (b *Bridge) Reset(ctx context.Context) error {
	b.queryMu.Lock()
	defer b.queryMu.Unlock()

	b.transport.DrainResponses()
	if err := b.send(protocol.HostCommand(protocol.HostCmdReset)); err != nil {
		return err
	}
	if _, err := b.await(ctx, protocol.HostCmdReset); err != nil {
		return fmt.Errorf("RESET: %w", err)
	}
	return nil
}

// SendLedCommand sets one LED on panel id. Up to two colours may follow
// the mode: primary then secondary.
func (b *Bridge) SendLedCommand(id, led uint8, mode core.LEDMode, colours ...core.Colour) error {
	if !core.ValidShortID(id) {
		return fmt.Errorf("%w: %d", core.ErrInvalidShortID, id)
	}
	payload, err := core.LEDCommand{LED: led, Mode: mode, Colours: colours}.Payload()
	if err != nil {
		return err
	}
	return b.send(protocol.CANMessage(uint16(core.RuntimeID(core.OpLED, id)), payload))
}

// Panels returns the cached panel list ordered by short id
func (b *Bridge) Panels() []PanelInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedInfo(b.panels)
}

// Stats returns the link receive counters
func (b *Bridge) Stats() protocol.ReceiveStats {
	return b.transport.Stats()
}

func sortedInfo(m map[uint8]PanelInfo) []PanelInfo {
	out := make([]PanelInfo, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, c PanelInfo) int { return int(a.ID) - int(c.ID) })
	return out
}
