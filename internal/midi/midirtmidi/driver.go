//go:build cgo

// Package midirtmidi implements contracts.Driver on gomidi's rtmidi driver,
// which covers ALSA, CoreMIDI and WinMM through a single cgo binding.
package midirtmidi

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/midiws/sdk/contracts"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Error definitions for rtmidi port handling.
var (
	ErrPortNotFound = errors.New("MIDI port not found")
	ErrNoOutput     = errors.New("no MIDI output matches port")
	ErrListTimeout  = errors.New("MIDI port enumeration timed out")
	ErrPortClosed   = errors.New("MIDI port closed")
)

const (
	inputBuffer = 1024
	listTimeout = 3 * time.Second
)

// Driver wraps an rtmididrv.Driver. Enumeration and open calls are serialized.
type Driver struct {
	mu     sync.Mutex
	drv    *rtmididrv.Driver
	logger contracts.Logger
}

// NewDriver initialises the rtmidi driver. Call Close when done.
func NewDriver(options *contracts.RelayOptions) (contracts.Driver, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	options.Logger.Info("rtmidi driver created")
	return &Driver{drv: drv, logger: options.Logger}, nil
}

// ListPorts returns the input ports. Enumeration is abandoned after a few
// seconds because a wedged MIDI server can block it indefinitely.
func (d *Driver) ListPorts() ([]contracts.Port, error) {
	type result struct {
		ins []drivers.In
		err error
	}
	ch := make(chan result, 1)
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		ins, err := d.drv.Ins()
		ch <- result{ins: ins, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("error listing MIDI inputs: %w", r.err)
		}
		ports := make([]contracts.Port, len(r.ins))
		for i, in := range r.ins {
			ports[i] = contracts.Port{Index: in.Number(), Name: in.String()}
		}
		return ports, nil
	case <-time.After(listTimeout):
		return nil, ErrListTimeout
	}
}

// OpenIn opens the input whose name matches port and starts buffering its messages.
func (d *Driver) OpenIn(port contracts.Port) (contracts.InPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ins, err := d.drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI inputs: %w", err)
	}
	var found drivers.In
	for _, in := range ins {
		if in.String() == port.Name {
			found = in
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: input %q", ErrPortNotFound, port.Name)
	}
	if err := found.Open(); err != nil {
		return nil, fmt.Errorf("open input %q: %w", port.Name, err)
	}

	in := &inPort{
		name:     port.Name,
		port:     found,
		messages: make(chan contracts.RawMessage, inputBuffer),
		logger:   d.logger,
	}
	// Everything is let through here and filtered in onMessage so the
	// ignore flags can be flipped after the port is listening.
	stop, err := found.Listen(in.onMessage, drivers.ListenConfig{
		TimeCode:    true,
		ActiveSense: true,
		SysEx:       true,
		OnErr:       in.onError,
	})
	if err != nil {
		_ = found.Close()
		return nil, fmt.Errorf("listen %q: %w", port.Name, err)
	}
	in.stop = stop
	return in, nil
}

// OpenOut opens the output with the same name as port. Indices of inputs and
// outputs do not line up across backends, so matching is by name only.
func (d *Driver) OpenOut(port contracts.Port) (contracts.OutPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	outs, err := d.drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI outputs: %w", err)
	}
	for _, out := range outs {
		if out.String() != port.Name {
			continue
		}
		if err := out.Open(); err != nil {
			return nil, fmt.Errorf("open output %q: %w", port.Name, err)
		}
		return &outPort{port: out}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoOutput, port.Name)
}

// Close releases the rtmidi driver and every port it still has open.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drv.Close()
}

type inPort struct {
	name     string
	port     drivers.In
	stop     func()
	messages chan contracts.RawMessage
	logger   contracts.Logger

	ignore   atomic.Bool
	failed   atomic.Pointer[error]
	closeErr error
	once     sync.Once
}

func (in *inPort) onMessage(msg []byte, _ int32) {
	if len(msg) == 0 {
		return
	}
	if in.ignore.Load() && (msg[0] == 0xF0 || msg[0] == 0xFE) {
		return
	}
	select {
	case in.messages <- append(contracts.RawMessage(nil), msg...):
	default:
		in.logger.Warn("input buffer full; dropping MIDI message",
			in.logger.Field().String("port", in.name))
	}
}

func (in *inPort) onError(err error) {
	in.failed.Store(&err)
}

func (in *inPort) IgnoreSysexAndActiveSense() {
	in.ignore.Store(true)
}

func (in *inPort) Poll(timeout time.Duration) (contracts.RawMessage, bool, error) {
	if err := in.failed.Load(); err != nil {
		return nil, false, fmt.Errorf("input %q: %w", in.name, *err)
	}
	if !in.port.IsOpen() {
		return nil, false, fmt.Errorf("%w: %q", ErrPortClosed, in.name)
	}

	if timeout <= 0 {
		select {
		case msg := <-in.messages:
			return msg, true, nil
		default:
			return nil, false, nil
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-in.messages:
		return msg, true, nil
	case <-timer.C:
		return nil, false, nil
	}
}

func (in *inPort) Close() error {
	in.once.Do(func() {
		if in.stop != nil {
			in.stop()
		}
		in.closeErr = in.port.Close()
	})
	return in.closeErr
}

type outPort struct {
	port     drivers.Out
	closeErr error
	once     sync.Once
}

func (out *outPort) Send(msg contracts.RawMessage) error {
	return out.port.Send(msg)
}

func (out *outPort) Close() error {
	out.once.Do(func() {
		out.closeErr = out.port.Close()
	})
	return out.closeErr
}
