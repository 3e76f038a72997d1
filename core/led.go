package core

import (
	"fmt"

	"panelbus/canbus"
)

// LEDMode selects how a panel drives one LED
type LEDMode uint8

const (
	LEDOff LEDMode = iota
	LEDDim
	LEDOn
	LEDFlashing
	LEDFastFlashing
	LEDPulsing
	LEDFastPulsing
)

var ledModeNames = [...]string{
	LEDOff:          "off",
	LEDDim:          "dim",
	LEDOn:           "on",
	LEDFlashing:     "flash",
	LEDFastFlashing: "fastflash",
	LEDPulsing:      "pulse",
	LEDFastPulsing:  "fastpulse",
}

func (m LEDMode) String() string {
	if int(m) < len(ledModeNames) {
		return ledModeNames[m]
	}
	return "LED(" + itoa(int(m)) + ")"
}

// ParseLEDMode accepts the names printed by String
func ParseLEDMode(s string) (LEDMode, bool) {
	for i, name := range ledModeNames {
		if name == s {
			return LEDMode(i), true
		}
	}
	return 0, false
}

// Colour is an RGB triple
type Colour struct {
	R, G, B uint8
}

// LEDCommand is the payload of an OpLED frame: LED index, mode and up to
// two colours (primary, secondary).
type LEDCommand struct {
	LED     uint8
	Mode    LEDMode
	Colours []Colour
}

// MaxLEDColours is the number of colours an LED frame can carry
const MaxLEDColours = 2

// Payload returns the frame data for the command
func (c LEDCommand) Payload() ([]byte, error) {
	if len(c.Colours) > MaxLEDColours {
		return nil, fmt.Errorf("%w: %d colours", ErrMalformed, len(c.Colours))
	}
	p := make([]byte, 0, 2+3*len(c.Colours))
	p = append(p, c.LED, byte(c.Mode))
	for _, col := range c.Colours {
		p = append(p, col.R, col.G, col.B)
	}
	return p, nil
}

// ParseLEDCommand decodes an OpLED payload. Partial colour triples are
// ignored.
func ParseLEDCommand(p []byte) (LEDCommand, error) {
	if len(p) < 2 {
		return LEDCommand{}, fmt.Errorf("%w: LED payload of %d bytes", ErrMalformed, len(p))
	}
	cmd := LEDCommand{LED: p[0], Mode: LEDMode(p[1])}
	for off := 2; off+3 <= len(p) && len(cmd.Colours) < MaxLEDColours; off += 3 {
		cmd.Colours = append(cmd.Colours, Colour{p[off], p[off+1], p[off+2]})
	}
	return cmd, nil
}

// EncodeLED builds the runtime frame carrying cmd to short id
func EncodeLED(id uint8, cmd LEDCommand) (canbus.Frame, error) {
	p, err := cmd.Payload()
	if err != nil {
		return canbus.Frame{}, err
	}
	return EncodeRuntime(OpLED, id, p)
}
