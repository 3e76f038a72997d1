package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"panelbus/core"
	"panelbus/host/bridge"
)

// shell runs REPL commands against a bridge
type shell struct {
	b       *bridge.Bridge
	out     io.Writer
	timeout time.Duration
}

func newShell(b *bridge.Bridge, out io.Writer, timeout time.Duration) *shell {
	return &shell{b: b, out: out, timeout: timeout}
}

// exec runs one command line. It reports whether the user asked to quit.
func (s *shell) exec(line string) (bool, error) {
	parts, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}
	if len(parts) == 0 {
		return false, nil
	}

	switch cmd, args := parts[0], parts[1:]; cmd {
	case "quit", "exit", "q":
		return true, nil

	case "help", "?":
		s.printHelp()

	case "count":
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		n, err := s.b.QueryPanelCount(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "%d panels\n", n)

	case "info":
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		panels, err := s.b.QueryPanelInfo(ctx)
		if err != nil {
			return false, err
		}
		s.printPanels(panels)

	case "panels":
		s.printPanels(s.b.Panels())

	case "reset":
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.b.Reset(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "Detection restarted")

	case "led":
		id, led, err := parseLED(args)
		if err != nil {
			return false, err
		}
		if err := s.b.SendLedCommand(id, led.LED, led.Mode, led.Colours...); err != nil {
			return false, err
		}

	default:
		return false, fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
	return false, nil
}

func (s *shell) printPanels(panels []bridge.PanelInfo) {
	if len(panels) == 0 {
		fmt.Fprintln(s.out, "No panels")
		return
	}
	fmt.Fprintln(s.out, "  ID  TYPE")
	for _, p := range panels {
		fmt.Fprintf(s.out, "  %2d  0x%08X\n", p.ID, p.Type)
	}
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, "\nAvailable commands:")
	fmt.Fprintln(s.out, "  help                             - Show this help message")
	fmt.Fprintln(s.out, "  count                            - Query the number of registered panels")
	fmt.Fprintln(s.out, "  info                             - Query every registered panel")
	fmt.Fprintln(s.out, "  panels                           - Show the cached panel list")
	fmt.Fprintln(s.out, "  led <id> <led> <mode> [rgb] [rgb] - Set an LED (modes: off dim on flash fastflash pulse fastpulse)")
	fmt.Fprintln(s.out, "  reset                            - Rerun detection; every panel re-announces")
	fmt.Fprintln(s.out, "  quit/exit/q                      - Exit the program")
	fmt.Fprintln(s.out)
}

// parseLED parses "<id> <led> <mode> [rgb] [rgb]"
func parseLED(args []string) (uint8, core.LEDCommand, error) {
	if len(args) < 3 || len(args) > 3+core.MaxLEDColours {
		return 0, core.LEDCommand{}, fmt.Errorf("usage: led <id> <led> <mode> [rgb] [rgb]")
	}
	id, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return 0, core.LEDCommand{}, fmt.Errorf("bad panel id %q", args[0])
	}
	led, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return 0, core.LEDCommand{}, fmt.Errorf("bad LED index %q", args[1])
	}
	mode, ok := core.ParseLEDMode(args[2])
	if !ok {
		return 0, core.LEDCommand{}, fmt.Errorf("unknown LED mode %q", args[2])
	}

	cmd := core.LEDCommand{LED: uint8(led), Mode: mode}
	for _, arg := range args[3:] {
		c, err := parseColour(arg)
		if err != nil {
			return 0, core.LEDCommand{}, err
		}
		cmd.Colours = append(cmd.Colours, c)
	}
	return uint8(id), cmd, nil
}

// parseColour accepts RRGGBB with an optional # prefix
func parseColour(s string) (core.Colour, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil || len(raw) != 3 {
		return core.Colour{}, fmt.Errorf("bad colour %q (want RRGGBB)", s)
	}
	return core.Colour{R: raw[0], G: raw[1], B: raw[2]}, nil
}
