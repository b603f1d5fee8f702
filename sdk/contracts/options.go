package contracts

import "time"

// Backend names a hardware driver implementation.
type Backend string

const (
	// BackendAuto picks the native backend for the running OS, rtmidi otherwise.
	BackendAuto     Backend = "auto"
	BackendRtMidi   Backend = "rtmidi"
	BackendCoreMIDI Backend = "coremidi"
	BackendWinMM    Backend = "winmm"
	// BackendVirtual is the in-memory loopback driver.
	BackendVirtual Backend = "virtual"
)

// OutputPolicy decides which discovered ports also get their output side opened.
type OutputPolicy string

const (
	// OutputBySuffix opens an output unless the port name already ends with the output suffix.
	OutputBySuffix OutputPolicy = "suffix"
	// OutputAll opens an output for every port.
	OutputAll OutputPolicy = "all"
	// OutputNone never opens outputs; play commands are dropped.
	OutputNone OutputPolicy = "none"
)

// PollConfig holds the adaptive backoff parameters of a device poll loop.
type PollConfig struct {
	MinInterval   time.Duration // Sleep between polls right after activity.
	MaxInterval   time.Duration // Upper bound of the doubled sleep.
	IdleThreshold time.Duration // Accumulated idle time that triggers a doubling.
}

// NoteNaming controls how note numbers are rendered.
type NoteNaming struct {
	UseFlats      bool // Render accidentals as flats (Db) instead of sharps (C#).
	MiddleCOctave int  // Octave number assigned to note 60.
}

// CoreMIDIConfig holds configuration for CoreMIDI.
type CoreMIDIConfig struct {
	ClientName string // Name of the MIDI client.
}

// RelayOptions defines the configuration options for the relay.
type RelayOptions struct {
	Logger         Logger          // Logger for logging events and errors.
	LogLevel       LogLevel        // Level of logging to use.
	LogFilePath    string          // File path for logging if file logging is enabled.
	Backend        Backend         // Hardware backend, ignored when Driver is set.
	Driver         Driver          // Explicit driver, e.g. a shared virtual driver.
	Host           string          // Interface to listen on.
	Port           int             // TCP port to listen on.
	WriteTimeout   time.Duration   // Per-message write deadline on client connections.
	Discovery      time.Duration   // Interval between port enumerations.
	OutputSuffix   string          // Marker distinguishing output-side names.
	OutputPolicy   OutputPolicy    // Which ports get an output opened.
	Poll           PollConfig      // Poll loop backoff.
	Notes          *NoteNaming     // Note naming.
	CoreMIDIConfig *CoreMIDIConfig // Configuration specific to CoreMIDI.
}

// Option is a function that modifies RelayOptions.
type Option func(*RelayOptions)

// WithLogger sets the logger for the relay.
func WithLogger(l Logger) Option {
	return func(opts *RelayOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level for the relay.
func WithLogLevel(level LogLevel) Option {
	return func(opts *RelayOptions) {
		opts.LogLevel = level
	}
}

// WithLogFile directs logs to a file instead of the console.
func WithLogFile(path string) Option {
	return func(opts *RelayOptions) {
		opts.LogFilePath = path
	}
}

// WithBackend selects the hardware backend by name.
func WithBackend(b Backend) Option {
	return func(opts *RelayOptions) {
		opts.Backend = b
	}
}

// WithDriver supplies a ready driver, bypassing backend selection.
func WithDriver(d Driver) Option {
	return func(opts *RelayOptions) {
		opts.Driver = d
	}
}

// WithListenAddress sets the interface and port of the WebSocket listener.
func WithListenAddress(host string, port int) Option {
	return func(opts *RelayOptions) {
		opts.Host = host
		opts.Port = port
	}
}

// WithWriteTimeout sets the client write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(opts *RelayOptions) {
		opts.WriteTimeout = d
	}
}

// WithDiscoveryInterval sets how often ports are enumerated.
func WithDiscoveryInterval(d time.Duration) Option {
	return func(opts *RelayOptions) {
		opts.Discovery = d
	}
}

// WithOutputs sets the output suffix and policy.
func WithOutputs(suffix string, policy OutputPolicy) Option {
	return func(opts *RelayOptions) {
		opts.OutputSuffix = suffix
		opts.OutputPolicy = policy
	}
}

// WithPollConfig sets the poll loop backoff parameters.
func WithPollConfig(cfg PollConfig) Option {
	return func(opts *RelayOptions) {
		opts.Poll = cfg
	}
}

// WithNoteNaming sets the note naming convention.
func WithNoteNaming(n NoteNaming) Option {
	return func(opts *RelayOptions) {
		opts.Notes = &n
	}
}

// WithCoreMIDIConfig sets the CoreMIDI configuration.
func WithCoreMIDIConfig(config CoreMIDIConfig) Option {
	return func(opts *RelayOptions) {
		opts.CoreMIDIConfig = &config
	}
}
