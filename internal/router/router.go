// Package router turns inbound client messages into MIDI sent to device outputs.
package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leandrodaf/midiws/internal/device"
	"github.com/leandrodaf/midiws/internal/midi"
	"github.com/leandrodaf/midiws/sdk/contracts"
)

var (
	// ErrMalformedCommand is returned for input that is not a valid play command.
	ErrMalformedCommand = errors.New("malformed play command")
	// ErrUnknownDevice is returned when no device in the current generation has the requested name.
	ErrUnknownDevice = errors.New("unknown device")
)

// Devices resolves logical names against the current generation.
type Devices interface {
	Lookup(name string) (*device.Handle, bool)
}

// Router dispatches play commands. It holds no per-client state.
type Router struct {
	devices Devices
	log     contracts.Logger
}

// New creates a router over devices.
func New(devices Devices, log contracts.Logger) *Router {
	return &Router{devices: devices, log: log.Named("router")}
}

// playCommand mirrors contracts.PlayCommand with pointers so missing fields
// can be told apart from zero values.
type playCommand struct {
	DeviceName *string `json:"device_name"`
	Status     *string `json:"status"`
	NoteNumber *int    `json:"note_number"`
	Velocity   *int    `json:"velocity"`
}

// Parse validates raw as a play command.
func Parse(raw []byte) (contracts.PlayCommand, error) {
	var wire playCommand
	if err := json.Unmarshal(raw, &wire); err != nil {
		return contracts.PlayCommand{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if wire.DeviceName == nil || wire.Status == nil || wire.NoteNumber == nil || wire.Velocity == nil {
		return contracts.PlayCommand{}, fmt.Errorf("%w: missing field", ErrMalformedCommand)
	}

	cmd := contracts.PlayCommand{
		DeviceName: *wire.DeviceName,
		Status:     contracts.Status(*wire.Status),
		NoteNumber: *wire.NoteNumber,
		Velocity:   *wire.Velocity,
	}
	// Encoding checks status and ranges; the bytes are rebuilt on dispatch.
	if _, err := midi.EncodePlay(cmd); err != nil {
		return contracts.PlayCommand{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	return cmd, nil
}

// Handle parses raw from client and sends it to the addressed device.
// Every failure is logged here; the returned error is informational and
// never means the client should be dropped.
func (r *Router) Handle(client string, raw []byte) error {
	cmd, err := Parse(raw)
	if err != nil {
		r.log.Warn("dropping malformed client message",
			r.log.Field().String("client", client),
			r.log.Field().Error("error", err))
		return err
	}
	return r.Dispatch(client, cmd)
}

// Dispatch sends an already validated command.
func (r *Router) Dispatch(client string, cmd contracts.PlayCommand) error {
	h, ok := r.devices.Lookup(cmd.DeviceName)
	if !ok {
		r.log.Debug("play command for unknown device",
			r.log.Field().String("client", client),
			r.log.Field().String("device", cmd.DeviceName))
		return fmt.Errorf("%w: %q", ErrUnknownDevice, cmd.DeviceName)
	}

	msg, err := midi.EncodePlay(cmd)
	if err != nil {
		r.log.Warn("dropping invalid play command",
			r.log.Field().String("client", client),
			r.log.Field().Error("error", err))
		return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	if err := h.Send(msg); err != nil {
		r.log.Warn("failed to send to device",
			r.log.Field().String("client", client),
			r.log.Field().String("device", cmd.DeviceName),
			r.log.Field().Error("error", err))
		return err
	}
	r.log.Debug("play command sent",
		r.log.Field().String("device", h.OutputName()),
		r.log.Field().String("status", string(cmd.Status)),
		r.log.Field().Int("note", cmd.NoteNumber),
		r.log.Field().Int("velocity", cmd.Velocity))
	return nil
}
