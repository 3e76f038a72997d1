// Command panelbus-sim runs a simulated rack and serves the controller's
// serial link on a unix socket, so the host tools can run without
// hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"panelbus/config"
	"panelbus/core"
	"panelbus/sim"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	socketPath = flag.String("socket", "", "Unix socket path (overrides the config)")
	panelCount = flag.Int("panels", 4, "Number of random panels when the config lists none")
	seed       = flag.Uint64("seed", 1, "Seed for random panel UIDs")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

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
	if *socketPath != "" {
		cfg.Sim.Socket = *socketPath
	}

	level, _ := config.ParseLogLevel(cfg.Sim.LogLevel)
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rackCfg, err := cfg.RackConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(rackCfg.Panels) == 0 {
		rackCfg.Panels = randomPanels(*panelCount, *seed)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg.Sim.Socket, sim.NewRack(rackCfg, logger), logger); err != nil {
		logger.Error("simulator stopped", "error", err)
		os.Exit(1)
	}
}

func randomPanels(n int, seed uint64) []sim.PanelSpec {
	rng := rand.New(rand.NewPCG(seed, ^seed))
	specs := make([]sim.PanelSpec, 0, n)
	for i := 0; i < n; i++ {
		uid := core.UID{rng.Uint32(), rng.Uint32(), rng.Uint32()}
		specs = append(specs, sim.PanelSpec{UID: uid, Type: uint32(i%4 + 1), Version: 1})
	}
	return specs
}

// serve steps the rack in real time and bridges its serial link to one
// socket client at a time
func serve(ctx context.Context, path string, rack *sim.Rack, logger *slog.Logger) error {
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", path, err)
	}
	defer os.Remove(path)
	defer ln.Close()

	conns := make(chan net.Conn)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					logger.Error("accept failed", "error", err)
				}
				close(conns)
				return
			}
			conns <- c
		}
	}()

	rack.Start()
	for _, n := range rack.Nodes() {
		logger.Info("panel", "uid", n.Spec.UID.String(), "type", n.Spec.Type)
	}
	logger.Info("simulator listening", "socket", path, "panels", len(rack.Nodes()))

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	var client net.Conn
	for {
		select {
		case <-ctx.Done():
			if client != nil {
				client.Close()
			}
			return nil

		case c, ok := <-conns:
			if !ok {
				return fmt.Errorf("listener closed")
			}
			if client != nil {
				client.Close()
			}
			client = c
			logger.Info("host connected")
			go readHost(c, rack, logger)

		case <-ticker.C:
			rack.Step()
			out := rack.HostRead()
			if client == nil || len(out) == 0 {
				continue
			}
			if _, err := client.Write(out); err != nil {
				logger.Info("host disconnected", "error", err)
				client.Close()
				client = nil
			}
		}
	}
}

func readHost(c net.Conn, rack *sim.Rack, logger *slog.Logger) {
	buf := make([]byte, 256)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if stored := rack.HostWrite(buf[:n]); stored < n {
				logger.Warn("host input overflow", "dropped", n-stored)
			}
		}
		if err != nil {
			return
		}
	}
}
