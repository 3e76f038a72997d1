package core

import (
	"errors"
	"testing"
)

func TestLEDCommandFrame(t *testing.T) {
	tests := []struct {
		name string
		cmd  LEDCommand
		dlc  uint8
	}{
		{"state only", LEDCommand{LED: 3, Mode: LEDOn}, 2},
		{"one colour", LEDCommand{LED: 0, Mode: LEDFlashing, Colours: []Colour{{255, 0, 10}}}, 5},
		{"two colours", LEDCommand{LED: 15, Mode: LEDPulsing, Colours: []Colour{{1, 2, 3}, {4, 5, 6}}}, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := EncodeLED(9, tt.cmd)
			if err != nil {
				t.Fatalf("EncodeLED failed: %v", err)
			}
			if f.Len != tt.dlc || f.ID != RuntimeID(OpLED, 9) {
				t.Errorf("frame %s, want dlc %d", f, tt.dlc)
			}

			got, err := ParseLEDCommand(f.Payload())
			if err != nil {
				t.Fatalf("ParseLEDCommand failed: %v", err)
			}
			if got.LED != tt.cmd.LED || got.Mode != tt.cmd.Mode || len(got.Colours) != len(tt.cmd.Colours) {
				t.Fatalf("got %+v, want %+v", got, tt.cmd)
			}
			for i := range got.Colours {
				if got.Colours[i] != tt.cmd.Colours[i] {
					t.Errorf("colour %d = %+v", i, got.Colours[i])
				}
			}
		})
	}
}

func TestLEDCommandRejects(t *testing.T) {
	cmd := LEDCommand{Colours: make([]Colour, 3)}
	if _, err := cmd.Payload(); !errors.Is(err, ErrMalformed) {
		t.Errorf("three colours: expected ErrMalformed, got %v", err)
	}
	if _, err := ParseLEDCommand([]byte{1}); !errors.Is(err, ErrMalformed) {
		t.Errorf("short payload: expected ErrMalformed, got %v", err)
	}

	// A partial second colour is dropped
	got, err := ParseLEDCommand([]byte{1, 2, 10, 20, 30, 40})
	if err != nil || len(got.Colours) != 1 {
		t.Errorf("partial colour: %+v, %v", got, err)
	}
}

func TestLEDModeNames(t *testing.T) {
	for m := LEDOff; m <= LEDFastPulsing; m++ {
		got, ok := ParseLEDMode(m.String())
		if !ok || got != m {
			t.Errorf("ParseLEDMode(%q) = %v, %v", m.String(), got, ok)
		}
	}
	if _, ok := ParseLEDMode("sparkle"); ok {
		t.Error("unknown mode name accepted")
	}
	if LEDMode(40).String() != "LED(40)" {
		t.Errorf("unknown mode string = %s", LEDMode(40).String())
	}
}
