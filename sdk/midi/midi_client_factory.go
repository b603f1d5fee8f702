package midi

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/leandrodaf/midiws/internal/midi/mididarwin"
	"github.com/leandrodaf/midiws/internal/midi/midirtmidi"
	"github.com/leandrodaf/midiws/internal/midi/midivirtual"
	"github.com/leandrodaf/midiws/internal/midi/midiwindows"
	"github.com/leandrodaf/midiws/sdk/contracts"
)

// ErrUnsupportedBackend is returned when no driver is registered under the requested backend name.
var ErrUnsupportedBackend = errors.New("unsupported MIDI backend")

// VirtualPortName is the single port exposed by the virtual backend.
const VirtualPortName = "midiws virtual"

// driverInitializers maps backend names to corresponding driver initializers.
var driverInitializers = map[contracts.Backend]func(*contracts.RelayOptions) (contracts.Driver, error){
	contracts.BackendRtMidi:   midirtmidi.NewDriver,  // Cross-platform rtmidi driver.
	contracts.BackendCoreMIDI: mididarwin.NewDriver,  // macOS (Darwin) CoreMIDI driver.
	contracts.BackendWinMM:    midiwindows.NewDriver, // Windows multimedia driver.
	contracts.BackendVirtual:  newVirtualDriver,      // In-memory loopback driver.
}

// nativeBackends maps OS names to the backend "auto" resolves to.
var nativeBackends = map[string]contracts.Backend{
	"darwin":  contracts.BackendCoreMIDI,
	"windows": contracts.BackendWinMM,
}

func newVirtualDriver(*contracts.RelayOptions) (contracts.Driver, error) {
	return midivirtual.NewDriver(VirtualPortName), nil
}

// resolveBackend turns "auto" into the native backend for goos, or rtmidi when there is none.
func resolveBackend(backend contracts.Backend, goos string) contracts.Backend {
	if backend != contracts.BackendAuto {
		return backend
	}
	if native, ok := nativeBackends[goos]; ok {
		return native
	}
	return contracts.BackendRtMidi
}

// NewDriver initializes the hardware driver selected by opts.
//
// opts *contracts.RelayOptions: Configuration options for the relay.
//
// Returns:
//   - contracts.Driver: opts.Driver when set, otherwise a new driver for opts.Backend.
//   - error: An error if the backend is unknown or if initialization fails.
func NewDriver(opts *contracts.RelayOptions) (contracts.Driver, error) {
	if opts.Driver != nil {
		return opts.Driver, nil
	}
	backend := resolveBackend(opts.Backend, runtime.GOOS)
	initializer, exists := driverInitializers[backend]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)
	}
	drv, err := initializer(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize %s backend: %w", backend, err)
	}
	opts.Logger.Info("MIDI backend ready", opts.Logger.Field().String("backend", string(backend)))
	return drv, nil
}
