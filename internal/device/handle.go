// Package device owns the hardware side of the relay: one Handle per logical
// device, its poll loop, and the Registry that discovers ports and swaps
// generations of handles.
package device

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midiws/sdk/contracts"
	"go.uber.org/multierr"
)

var (
	// ErrHandleClosed is returned by Poll and Send after Close.
	ErrHandleClosed = errors.New("device handle closed")
	// ErrNoOutput is returned by Send on an input-only device.
	ErrNoOutput = errors.New("device has no output")
)

// Direction tells which sides of a device are open.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
	DirectionBoth   Direction = "both"
)

// Handle owns the hardware connections of one logical device. Poll is only
// called from the handle's own poll loop; Send may be called concurrently.
type Handle struct {
	name       string
	outputName string
	port       contracts.Port
	generation uint64

	in  contracts.InPort
	out contracts.OutPort

	sendMu   sync.Mutex
	closed   atomic.Bool
	failed   atomic.Bool
	once     sync.Once
	closeErr error
}

// openHandle opens the input side of port and, when withOutput is set, the
// matching output. A missing output leaves the device input-only.
func openHandle(driver contracts.Driver, port contracts.Port, withOutput bool, outputSuffix string, generation uint64, log contracts.Logger) (*Handle, error) {
	in, err := driver.OpenIn(port)
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", port.Name, err)
	}
	in.IgnoreSysexAndActiveSense()

	h := &Handle{
		name:       port.Name,
		outputName: port.Name + outputSuffix,
		port:       port,
		generation: generation,
		in:         in,
	}
	if !withOutput {
		return h, nil
	}

	out, err := driver.OpenOut(port)
	if err != nil {
		log.Warn("device output unavailable; continuing input-only",
			log.Field().String("device", port.Name),
			log.Field().Error("error", err))
		return h, nil
	}
	h.out = out
	return h, nil
}

// Name is the logical device name clients address.
func (h *Handle) Name() string { return h.name }

// OutputName is the name of the output side: the logical name plus the output suffix.
func (h *Handle) OutputName() string { return h.outputName }

// Port is the hardware port the handle was opened on.
func (h *Handle) Port() contracts.Port { return h.port }

// Generation is the registry generation that created the handle.
func (h *Handle) Generation() uint64 { return h.generation }

// Direction reports which sides are open.
func (h *Handle) Direction() Direction {
	if h.out != nil {
		return DirectionBoth
	}
	return DirectionInput
}

// Failed reports whether the handle hit a hardware error.
func (h *Handle) Failed() bool { return h.failed.Load() }

// Poll returns the next pending input message without blocking.
func (h *Handle) Poll() (contracts.RawMessage, bool, error) {
	if h.closed.Load() {
		return nil, false, ErrHandleClosed
	}
	msg, ok, err := h.in.Poll(0)
	if err != nil {
		h.failed.Store(true)
		return nil, false, err
	}
	return msg, ok, nil
}

// Send writes msg to the device output.
func (h *Handle) Send(msg contracts.RawMessage) error {
	if h.out == nil {
		return ErrNoOutput
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if h.closed.Load() {
		return ErrHandleClosed
	}
	if err := h.out.Send(msg); err != nil {
		h.failed.Store(true)
		return fmt.Errorf("send to %q: %w", h.outputName, err)
	}
	return nil
}

// Close releases both hardware sides. It is idempotent and returns the same
// error on every call.
func (h *Handle) Close() error {
	h.once.Do(func() {
		h.closed.Store(true)
		// Wait out an in-flight Send before pulling the port from under it.
		h.sendMu.Lock()
		defer h.sendMu.Unlock()

		err := h.in.Close()
		if h.out != nil {
			err = multierr.Append(err, h.out.Close())
		}
		h.closeErr = err
	})
	return h.closeErr
}
