// Package config loads the relay configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/leandrodaf/midiws/sdk/contracts"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	MIDI   MIDIConfig   `yaml:"midi"`
	Notes  NotesConfig  `yaml:"notes"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig represents the listener settings
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MIDIConfig represents hardware discovery and polling settings
type MIDIConfig struct {
	Backend           string        `yaml:"backend"`
	ClientName        string        `yaml:"client_name"` // CoreMIDI client name
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	OutputSuffix      string        `yaml:"output_suffix"`
	OutputPolicy      string        `yaml:"output_policy"`
	Poll              PollConfig    `yaml:"poll"`
}

// PollConfig represents the poll loop backoff
type PollConfig struct {
	MinInterval   time.Duration `yaml:"min_interval"`
	MaxInterval   time.Duration `yaml:"max_interval"`
	IdleThreshold time.Duration `yaml:"idle_threshold"`
}

// NotesConfig represents note naming
type NotesConfig struct {
	UseFlats      bool `yaml:"use_flats"`
	MiddleCOctave int  `yaml:"middle_c_octave"`
}

// LogConfig represents logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8765,
			WriteTimeout: 10 * time.Second,
		},
		MIDI: MIDIConfig{
			Backend:           string(contracts.BackendAuto),
			ClientName:        "midiws",
			DiscoveryInterval: time.Second,
			OutputSuffix:      "_OUT",
			OutputPolicy:      string(contracts.OutputBySuffix),
			Poll: PollConfig{
				MinInterval:   8 * time.Millisecond,
				MaxInterval:   time.Second,
				IdleThreshold: 2 * time.Second,
			},
		},
		Notes: NotesConfig{MiddleCOctave: 5},
		Log:   LogConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from file. Keys absent from the file keep
// their defaults; a missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides the listener from HOST and PORT.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if host := getenv("HOST"); host != "" {
		c.Server.Host = host
	}
	if port := getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: PORT %q is not a number", ErrInvalidConfig, port)
		}
		c.Server.Port = p
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	switch contracts.Backend(c.MIDI.Backend) {
	case contracts.BackendAuto, contracts.BackendRtMidi, contracts.BackendCoreMIDI,
		contracts.BackendWinMM, contracts.BackendVirtual:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.MIDI.Backend)
	}
	switch contracts.OutputPolicy(c.MIDI.OutputPolicy) {
	case contracts.OutputBySuffix, contracts.OutputAll, contracts.OutputNone:
	default:
		return fmt.Errorf("%w: unknown output policy %q", ErrInvalidConfig, c.MIDI.OutputPolicy)
	}
	p := c.MIDI.Poll
	if p.MinInterval <= 0 || p.MaxInterval < p.MinInterval || p.IdleThreshold <= 0 {
		return fmt.Errorf("%w: poll intervals min=%s max=%s threshold=%s",
			ErrInvalidConfig, p.MinInterval, p.MaxInterval, p.IdleThreshold)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	if c.MIDI.DiscoveryInterval <= 0 {
		return fmt.Errorf("%w: discovery interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// Options converts the configuration to relay options.
func (c *Config) Options() []contracts.Option {
	opts := []contracts.Option{
		contracts.WithListenAddress(c.Server.Host, c.Server.Port),
		contracts.WithWriteTimeout(c.Server.WriteTimeout),
		contracts.WithBackend(contracts.Backend(c.MIDI.Backend)),
		contracts.WithDiscoveryInterval(c.MIDI.DiscoveryInterval),
		contracts.WithOutputs(c.MIDI.OutputSuffix, contracts.OutputPolicy(c.MIDI.OutputPolicy)),
		contracts.WithPollConfig(contracts.PollConfig{
			MinInterval:   c.MIDI.Poll.MinInterval,
			MaxInterval:   c.MIDI.Poll.MaxInterval,
			IdleThreshold: c.MIDI.Poll.IdleThreshold,
		}),
		contracts.WithNoteNaming(contracts.NoteNaming{
			UseFlats:      c.Notes.UseFlats,
			MiddleCOctave: c.Notes.MiddleCOctave,
		}),
		contracts.WithCoreMIDIConfig(contracts.CoreMIDIConfig{ClientName: c.MIDI.ClientName}),
		contracts.WithLogLevel(contracts.ParseLogLevel(c.Log.Level)),
	}
	if c.Log.File != "" {
		opts = append(opts, contracts.WithLogFile(c.Log.File))
	}
	return opts
}
