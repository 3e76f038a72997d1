package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"panelbus/config"
	"panelbus/host/bridge"
	"panelbus/host/monitor"
	"panelbus/host/serial"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	device     = flag.String("device", config.DefaultSerialDevice, "Serial device path")
	baud       = flag.Int("baud", config.DefaultBaud, "Baud rate")
	socket     = flag.String("socket", "", "Unix socket of a simulated rack (overrides -device)")
	monitorArg = flag.String("monitor", "", "Listen address for the websocket monitor (e.g. :8090)")
	timeoutMs  = flag.Int("timeout", config.DefaultQueryTimeoutMs, "Query timeout in milliseconds")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	fmt.Println("panelbus host")
	fmt.Println("=============")

	var b *bridge.Bridge
	if cfg.Socket != "" {
		fmt.Printf("Connecting to simulated rack on %s...\n", cfg.Socket)
		b, err = bridge.ConnectSocket(cfg.Socket, logger)
	} else {
		fmt.Printf("Connecting to controller on %s at %d baud...\n", cfg.Device, cfg.Baud)
		b, err = bridge.ConnectWithConfig(&serial.Config{Device: cfg.Device, Baud: cfg.Baud, ReadTimeout: 100}, logger)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()
	fmt.Println("Connected.")

	if cfg.MonitorAddr != "" {
		hub := monitor.NewHub(b.Panels, logger)
		hub.Attach(b)
		mux := http.NewServeMux()
		mux.Handle("/websocket", hub)
		go func() {
			if err := http.ListenAndServe(cfg.MonitorAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("monitor stopped", "error", err)
			}
		}()
		fmt.Printf("Monitor listening on ws://%s/websocket\n", cfg.MonitorAddr)
	} else {
		b.OnPanelEvent(func(e bridge.PanelEvent) {
			fmt.Printf("\n[event] panel %d %s % x\n> ", e.ShortID, e.Opcode, e.Payload)
		})
	}

	sh := newShell(b, os.Stdout, time.Duration(cfg.QueryTimeoutMs)*time.Millisecond)

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		quit, err := sh.exec(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if quit {
			fmt.Println("Goodbye!")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the host section of the config file, then applies
// any flags given on the command line
func loadConfig() (config.HostConfig, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return config.HostConfig{}, err
		}
	}

	host := cfg.Host
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			host.Device = *device
		case "baud":
			host.Baud = *baud
		case "socket":
			host.Socket = *socket
		case "monitor":
			host.MonitorAddr = *monitorArg
		case "timeout":
			host.QueryTimeoutMs = *timeoutMs
		}
	})
	if host.QueryTimeoutMs <= 0 {
		return host, fmt.Errorf("query timeout must be positive")
	}
	return host, nil
}
