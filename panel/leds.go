package panel

import (
	"sync"

	"panelbus/core"
)

// DefaultLEDCount is the number of LEDs on a generic panel
const DefaultLEDCount = 16

// LEDState is the last command applied to one LED
type LEDState struct {
	Mode      core.LEDMode
	Primary   core.Colour
	Secondary core.Colour
}

// LEDBank holds the state of a panel's LEDs. It is safe for concurrent
// use so a monitor can read it while the superloop applies commands.
type LEDBank struct {
	mu   sync.RWMutex
	leds []LEDState
}

// NewLEDBank creates a bank of n LEDs, all off
func NewLEDBank(n int) *LEDBank {
	if n <= 0 {
		n = DefaultLEDCount
	}
	return &LEDBank{leds: make([]LEDState, n)}
}

// Apply updates one LED. Colours not carried by the command are kept.
// Commands for LEDs the panel does not have are ignored.
func (b *LEDBank) Apply(cmd core.LEDCommand) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(cmd.LED) >= len(b.leds) {
		return false
	}
	led := &b.leds[cmd.LED]
	led.Mode = cmd.Mode
	if len(cmd.Colours) > 0 {
		led.Primary = cmd.Colours[0]
	}
	if len(cmd.Colours) > 1 {
		led.Secondary = cmd.Colours[1]
	}
	return true
}

// Get returns the state of LED i
func (b *LEDBank) Get(i int) (LEDState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.leds) {
		return LEDState{}, false
	}
	return b.leds[i], true
}

// Snapshot returns a copy of every LED state
func (b *LEDBank) Snapshot() []LEDState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]LEDState, len(b.leds))
	copy(out, b.leds)
	return out
}

// Clear turns every LED off
func (b *LEDBank) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.leds {
		b.leds[i] = LEDState{}
	}
}
