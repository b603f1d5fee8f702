package contracts

// MIDICommand is the high nibble of a channel-voice status byte.
type MIDICommand byte

const (
	// NoteOff is the MIDI command for a Note Off event (0x80).
	NoteOff MIDICommand = 0x80
	// NoteOn is the MIDI command for a Note On event (0x90).
	NoteOn MIDICommand = 0x90
	// ControlChange is the MIDI command for a controller event (0xB0).
	ControlChange MIDICommand = 0xB0
)

// RawMessage is a single MIDI message exactly as it came off (or goes onto) the wire.
type RawMessage []byte

// Command returns the command nibble of the status byte, or 0 for an empty message.
func (m RawMessage) Command() MIDICommand {
	if len(m) == 0 {
		return 0
	}
	return MIDICommand(m[0] & 0xF0)
}

// Ints copies the message into an int slice so it serializes as a JSON array
// of numbers instead of base64.
func (m RawMessage) Ints() []int {
	out := make([]int, len(m))
	for i, b := range m {
		out[i] = int(b)
	}
	return out
}
