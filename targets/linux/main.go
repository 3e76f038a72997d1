//go:build linux

// Command panelbus-gateway runs the controller on a Linux board: panels on
// a SocketCAN interface, the host on a serial port.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"panelbus/brain"
	"panelbus/canbus"
	"panelbus/config"
	"panelbus/core"
	"panelbus/host/serial"
	"panelbus/protocol"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

// inputBufferSize bounds serial bytes waiting for the superloop
const inputBufferSize = 1024

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	g := cfg.Gateway

	level, _ := config.ParseLogLevel(g.LogLevel)
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, g, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, g config.GatewayConfig, logger *slog.Logger) error {
	can, err := canbus.DialSocketCAN(g.CANInterface)
	if err != nil {
		return err
	}
	defer can.Close()

	var bus canbus.Bus = can
	if g.LogCAN {
		bus = canbus.NewLoggedBus(can, logger, slog.LevelDebug, canbus.LogAll, nil)
	}

	port, err := serial.Open(&serial.Config{Device: g.SerialDevice, Baud: g.Baud, ReadTimeout: g.ReadTimeoutMs})
	if err != nil {
		return err
	}
	defer port.Close()
	port.Flush()

	input := protocol.NewFifoBuffer(inputBufferSize)
	output := protocol.NewScratchOutput()
	ctrl := brain.NewController(bus, output, g.BrainConfig(), logger)
	ctrl.SetPanelEventHandler(func(e brain.PanelEvent) {
		logger.Debug("panel event", "id", e.ShortID, "op", e.Opcode.String(), "payload", e.Payload)
	})

	go serialReader(ctx, port, input, logger)

	logger.Info("gateway running",
		"can", can.Interface(), "serial", g.SerialDevice, "baud", g.Baud)

	clock := core.NewSystemClock()
	ctrl.Start(clock.Millis())

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "stats", ctrl.Stats())
			return nil
		default:
		}

		now := clock.Millis()
		if !input.IsEmpty() {
			ctrl.ReceiveSerial(input, now)
		}
		ctrl.Poll(now)

		if output.Len() > 0 {
			if _, err := port.Write(output.Take()); err != nil {
				return fmt.Errorf("serial write: %w", err)
			}
		}

		if input.IsEmpty() {
			can.Wait(1)
		}
	}
}

// serialReader feeds the superloop's input buffer
func serialReader(ctx context.Context, port serial.Port, input *protocol.FifoBuffer, logger *slog.Logger) {
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := port.Read(buf)
		if n > 0 {
			if stored := input.Write(buf[:n]); stored < n {
				logger.Warn("serial input overflow", "dropped", n-stored)
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("serial read failed", "error", err)
			}
			return
		}
	}
}
