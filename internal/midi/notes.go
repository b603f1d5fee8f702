package midi

import (
	"strconv"

	"github.com/leandrodaf/midiws/sdk/contracts"
)

// DefaultMiddleCOctave is the octave number of note 60 (C5 convention).
const DefaultMiddleCOctave = 5

var sharpNoteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var flatNoteNames = [12]string{"C", "Db", "D", "Eb", "E", "F", "Gb", "G", "Ab", "A", "Bb", "B"}

// Standard controller assignments from the MIDI 1.0 standard; everything else is unnamed.
var controllerNames = map[int]string{
	0:   "Bank Select",
	1:   "Modulation",
	2:   "Breath",
	4:   "Foot",
	5:   "Portamento Time",
	7:   "Volume",
	8:   "Balance",
	10:  "Pan",
	11:  "Expression",
	64:  "Sustain",
	65:  "Portamento",
	66:  "Sostenuto",
	67:  "Soft Pedal",
	71:  "Resonance",
	74:  "Cutoff",
	120: "All Sound Off",
	121: "Reset All Controllers",
	123: "All Notes Off",
}

// Namer renders note and controller numbers for display.
type Namer struct {
	useFlats bool
	middleC  int
}

// NewNamer builds a Namer; a nil naming gives sharps with middle C = C5.
func NewNamer(naming *contracts.NoteNaming) Namer {
	if naming == nil {
		return Namer{middleC: DefaultMiddleCOctave}
	}
	return Namer{useFlats: naming.UseFlats, middleC: naming.MiddleCOctave}
}

// NoteName returns e.g. "C5" for 60 and "C#5" for 61 under the default convention.
func (n Namer) NoteName(note int) string {
	if note < 0 {
		return ""
	}
	names := sharpNoteNames
	if n.useFlats {
		names = flatNoteNames
	}
	return names[note%12] + strconv.Itoa(note/12+n.middleC-DefaultMiddleCOctave)
}

// ControllerName returns the conventional name of a controller, or "" when it has none.
func (n Namer) ControllerName(cc int) string {
	return controllerNames[cc]
}
