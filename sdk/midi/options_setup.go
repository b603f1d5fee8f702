package midi

import (
	"time"

	"github.com/leandrodaf/midiws/internal/logger"
	"github.com/leandrodaf/midiws/sdk/contracts"
)

// Default relay settings.
const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8765
	DefaultWriteTimeout   = 10 * time.Second
	DefaultDiscovery      = time.Second
	DefaultOutputSuffix   = "_OUT"
	DefaultCoreMIDIClient = "midiws"
)

// applyDefaultOptions sets default values for RelayOptions if not explicitly provided.
//
// Host and Port are seeded before the options run, so an explicit port 0
// (any free port) survives.
//
// opts ...contracts.Option: A variadic list of option functions that can modify RelayOptions.
//
// Returns:
//   - contracts.RelayOptions: A structure containing the finalized relay options with defaults applied.
//   - error: An error if there was an issue applying the options.
func applyDefaultOptions(opts ...contracts.Option) (contracts.RelayOptions, error) {
	options := &contracts.RelayOptions{
		Host: DefaultHost,
		Port: DefaultPort,
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.Backend == "" {
		options.Backend = contracts.BackendAuto
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultWriteTimeout
	}
	if options.Discovery <= 0 {
		options.Discovery = DefaultDiscovery
	}
	if options.OutputSuffix == "" {
		options.OutputSuffix = DefaultOutputSuffix
	}
	if options.OutputPolicy == "" {
		options.OutputPolicy = contracts.OutputBySuffix
	}
	if options.Notes == nil {
		options.Notes = &contracts.NoteNaming{MiddleCOctave: 5}
	}
	if options.CoreMIDIConfig == nil {
		options.CoreMIDIConfig = &contracts.CoreMIDIConfig{ClientName: DefaultCoreMIDIClient}
	}

	options.Logger.SetLevel(options.LogLevel)
	if options.LogFilePath != "" {
		options.Logger.SetDestination(contracts.FileLog, options.LogFilePath)
	}
	return *options, nil
}
