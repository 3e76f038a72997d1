package main

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"panelbus/core"
	"panelbus/host/bridge"
	"panelbus/protocol"
)

func TestParseLED(t *testing.T) {
	id, cmd, err := parseLED([]string{"12", "3", "flash", "ff0000", "#000810"})
	if err != nil {
		t.Fatalf("parseLED failed: %v", err)
	}
	if id != 12 || cmd.LED != 3 || cmd.Mode != core.LEDFlashing {
		t.Errorf("id=%d cmd=%+v", id, cmd)
	}
	want := []core.Colour{{R: 0xFF}, {G: 0x08, B: 0x10}}
	if len(cmd.Colours) != 2 || cmd.Colours[0] != want[0] || cmd.Colours[1] != want[1] {
		t.Errorf("colours = %+v", cmd.Colours)
	}

	bad := [][]string{
		{"1", "2"},
		{"x", "2", "on"},
		{"1", "300", "on"},
		{"1", "2", "blink"},
		{"1", "2", "on", "red"},
		{"1", "2", "on", "ff", "00", "11"},
	}
	for _, args := range bad {
		if _, _, err := parseLED(args); err == nil {
			t.Errorf("parseLED(%q) should fail", args)
		}
	}
}

func TestShell(t *testing.T) {
	hostEnd, ctrlEnd := net.Pipe()
	b := bridge.New(hostEnd, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		b.Close()
		ctrlEnd.Close()
	})

	var out bytes.Buffer
	sh := newShell(b, &out, 50*time.Millisecond)

	if quit, err := sh.exec("   "); quit || err != nil {
		t.Errorf("blank line: %v %v", quit, err)
	}
	if _, err := sh.exec("frobnicate"); err == nil {
		t.Error("unknown command should fail")
	}
	if _, err := sh.exec(`led "1`); err == nil {
		t.Error("unterminated quote should fail")
	}

	sh.exec("panels")
	if !strings.Contains(out.String(), "No panels") {
		t.Errorf("output = %q", out.String())
	}

	frame, _ := protocol.Encode(protocol.PanelInfoResponse(4, 0xAB).Bytes())
	done := make(chan struct{})
	b.OnPanelInfo(func(bridge.PanelInfo) { close(done) })
	if _, err := ctrlEnd.Write(frame); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PNL_INFO not received")
	}

	out.Reset()
	sh.exec("panels")
	if !strings.Contains(out.String(), "0x000000AB") {
		t.Errorf("output = %q", out.String())
	}

	if quit, _ := sh.exec("quit"); !quit {
		t.Error("quit should quit")
	}
}
