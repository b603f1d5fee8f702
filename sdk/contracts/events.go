package contracts

// EventType names the payload carried in an Event's content.
type EventType string

const (
	// EventMIDIData carries one decoded input message.
	EventMIDIData EventType = "midi_data"
	// EventDeviceList carries the logical device names of the current generation.
	EventDeviceList EventType = "device_list"
)

// Status is the semantic class of a MIDI message.
type Status string

const (
	StatusNoteOn     Status = "note_on"
	StatusNoteOff    Status = "note_off"
	StatusController Status = "controller"
	StatusOther      Status = "other"
)

// Event is the wire envelope shared by every server-to-client message.
type Event struct {
	Type    EventType `json:"type"`
	Content any       `json:"content"`
}

// MIDIData is the content of a midi_data event. Semantic fields are only set
// for the status they belong to; Msg is always present.
type MIDIData struct {
	DeviceName       string `json:"device_name"`
	Status           Status `json:"status"`
	NoteNumber       *int   `json:"note_number,omitempty"`
	NoteName         string `json:"note_name,omitempty"`
	Velocity         *int   `json:"velocity,omitempty"`
	ControllerNumber *int   `json:"controller_number,omitempty"`
	ControllerName   string `json:"controller_name,omitempty"`
	ControllerValue  *int   `json:"controller_value,omitempty"`
	Msg              []int  `json:"msg"`
}

// DeviceList is the content of a device_list event.
type DeviceList struct {
	Devices []string `json:"devices"`
}

// NewDeviceListEvent builds a device_list event. A nil slice is sent as [].
func NewDeviceListEvent(names []string) Event {
	if names == nil {
		names = []string{}
	}
	return Event{Type: EventDeviceList, Content: DeviceList{Devices: names}}
}

// NewMIDIDataEvent wraps decoded MIDI data in its envelope.
func NewMIDIDataEvent(data MIDIData) Event {
	return Event{Type: EventMIDIData, Content: data}
}

// PlayCommand asks the relay to send a note to a device's output.
type PlayCommand struct {
	DeviceName string `json:"device_name"`
	Status     Status `json:"status"`
	NoteNumber int    `json:"note_number"`
	Velocity   int    `json:"velocity"`
}

// Client is one connected subscriber as seen by the hub.
type Client interface {
	ID() string
	// Send delivers one serialized message. It may fail if the remote went away.
	Send(msg []byte) error
}
