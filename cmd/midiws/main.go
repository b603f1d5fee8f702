package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leandrodaf/midiws/internal/config"
	"github.com/leandrodaf/midiws/internal/logger"
	"github.com/leandrodaf/midiws/sdk/contracts"
	"github.com/leandrodaf/midiws/sdk/midi"
	flag "github.com/spf13/pflag"
)

var (
	configPath  = flag.StringP("config", "c", "", "Path to YAML configuration file")
	host        = flag.StringP("host", "H", "", "Interface to listen on (env HOST, default 0.0.0.0)")
	port        = flag.IntP("port", "p", 0, "Port to listen on (env PORT, default 8765)")
	backend     = flag.String("backend", "", "MIDI backend: auto, rtmidi, coremidi, winmm or virtual")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn or error")
	logFile     = flag.String("log-file", "", "Write logs to this file instead of stderr")
	listPorts   = flag.Bool("list-ports", false, "List MIDI input ports and exit")
	writeConfig = flag.String("write-config", "", "Write the effective configuration to this file and exit")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "midiws: %v\n", err)
		os.Exit(2)
	}

	if *writeConfig != "" {
		if err := config.SaveConfig(*writeConfig, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "midiws: %v\n", err)
			os.Exit(1)
		}
		return
	}

	log := logger.NewZapLogger()
	relay, err := midi.NewRelay(append(cfg.Options(), contracts.WithLogger(log))...)
	if err != nil {
		log.Error("Failed to initialize relay", log.Field().Error("error", err))
		_ = log.Sync()
		os.Exit(1)
	}

	if *listPorts {
		err := printPorts(relay)
		if cerr := relay.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "midiws: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relay.Run(ctx); err != nil {
		log.Error("Relay stopped with error", log.Field().Error("error", err))
		_ = log.Sync()
		stop()
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and the command line, in
// increasing precedence.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if flag.CommandLine.Changed("host") {
		cfg.Server.Host = *host
	}
	if flag.CommandLine.Changed("port") {
		cfg.Server.Port = *port
	}
	if *backend != "" {
		cfg.MIDI.Backend = *backend
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	return cfg, cfg.Validate()
}

func printPorts(relay *midi.Relay) error {
	ports, err := relay.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No MIDI input ports found.")
		return nil
	}
	for _, p := range ports {
		fmt.Printf("%3d  %s\n", p.Index, p.Name)
	}
	return nil
}
