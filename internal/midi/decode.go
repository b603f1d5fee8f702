package midi

import (
	"errors"
	"fmt"

	"github.com/leandrodaf/midiws/sdk/contracts"
)

// ErrInvalidPlayCommand is returned when a play command cannot be encoded.
var ErrInvalidPlayCommand = errors.New("invalid play command")

// Decoder turns raw input messages into midi_data payloads.
type Decoder struct {
	namer Namer
}

// NewDecoder creates a Decoder using the given namer.
func NewDecoder(namer Namer) Decoder {
	return Decoder{namer: namer}
}

// Classify maps a raw message to its status. Only 3-byte messages can be
// anything other than StatusOther.
func Classify(msg contracts.RawMessage) contracts.Status {
	if len(msg) != 3 {
		return contracts.StatusOther
	}
	switch msg.Command() {
	case contracts.NoteOn:
		return contracts.StatusNoteOn
	case contracts.NoteOff:
		return contracts.StatusNoteOff
	case contracts.ControlChange:
		return contracts.StatusController
	default:
		return contracts.StatusOther
	}
}

// Decode builds the midi_data content for a message received on device.
func (d Decoder) Decode(device string, msg contracts.RawMessage) contracts.MIDIData {
	data := contracts.MIDIData{
		DeviceName: device,
		Status:     Classify(msg),
		Msg:        msg.Ints(),
	}

	switch data.Status {
	case contracts.StatusNoteOn, contracts.StatusNoteOff:
		note, velocity := int(msg[1]), int(msg[2])
		data.NoteNumber = &note
		data.NoteName = d.namer.NoteName(note)
		data.Velocity = &velocity
	case contracts.StatusController:
		cc, value := int(msg[1]), int(msg[2])
		data.ControllerNumber = &cc
		data.ControllerName = d.namer.ControllerName(cc)
		data.ControllerValue = &value
	}
	return data
}

// EncodePlay converts a validated play command into a channel 1 message.
func EncodePlay(cmd contracts.PlayCommand) (contracts.RawMessage, error) {
	var status contracts.MIDICommand
	switch cmd.Status {
	case contracts.StatusNoteOn:
		status = contracts.NoteOn
	case contracts.StatusNoteOff:
		status = contracts.NoteOff
	default:
		return nil, fmt.Errorf("%w: status %q", ErrInvalidPlayCommand, cmd.Status)
	}
	if !inDataRange(cmd.NoteNumber) || !inDataRange(cmd.Velocity) {
		return nil, fmt.Errorf("%w: note %d velocity %d", ErrInvalidPlayCommand, cmd.NoteNumber, cmd.Velocity)
	}
	return contracts.RawMessage{byte(status), byte(cmd.NoteNumber), byte(cmd.Velocity)}, nil
}

func inDataRange(v int) bool {
	return v >= 0 && v <= 127
}
