package contracts

import "time"

// Port is an enumerable hardware MIDI connection point.
// Index is only stable within one enumeration; Name is what the relay keys on.
type Port struct {
	Index int    // Position in the driver's enumeration order.
	Name  string // Human-readable port name.
}

// Driver is the hardware capability the relay is built on. Only the device
// registry calls Open*; everything else goes through the handles it owns.
type Driver interface {
	ListPorts() ([]Port, error)         // Enumerates input ports in driver order.
	OpenIn(port Port) (InPort, error)   // Opens the input side of a port.
	OpenOut(port Port) (OutPort, error) // Opens the output side matching a port.
	Close() error                       // Releases the driver itself.
}

// InPort is an opened MIDI input.
type InPort interface {
	// IgnoreSysexAndActiveSense drops SysEx and Active Sensing messages from
	// the input stream. Timing messages are kept.
	IgnoreSysexAndActiveSense()
	// Poll returns the next buffered message, waiting at most timeout.
	// A zero timeout never blocks.
	Poll(timeout time.Duration) (RawMessage, bool, error)
	Close() error
}

// OutPort is an opened MIDI output.
type OutPort interface {
	Send(msg RawMessage) error
	Close() error
}
