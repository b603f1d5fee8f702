//go:build darwin
// +build darwin

package mididarwin

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leandrodaf/midiws/sdk/contracts"
	"github.com/youpy/go-coremidi"
)

// Error definitions for CoreMIDI connection and handling issues.
var (
	ErrPortNotFound        = errors.New("MIDI source not found")
	ErrNoOutput            = errors.New("no MIDI destination matches source")
	ErrMIDIConnectionError = errors.New("error connecting to MIDI device")
	ErrCreateInputPort     = errors.New("error creating input port")
	ErrCreateOutputPort    = errors.New("error creating output port")
	ErrPortClosed          = errors.New("MIDI port closed")
)

const inputBuffer = 1024

// internalPortConnection is an interface for handling disconnection from a MIDI port.
type internalPortConnection interface {
	Disconnect()
}

// Driver talks to CoreMIDI directly. One CoreMIDI client is shared by every
// port opened through it.
type Driver struct {
	logger contracts.Logger
	client coremidi.Client
	mu     sync.Mutex
}

// NewDriver creates the CoreMIDI client named by options.CoreMIDIConfig.
func NewDriver(options *contracts.RelayOptions) (contracts.Driver, error) {
	client, err := coremidi.NewClient(options.CoreMIDIConfig.ClientName)
	if err != nil {
		return nil, err
	}
	options.Logger.Info("CoreMIDI client successfully created",
		options.Logger.Field().String("client", options.CoreMIDIConfig.ClientName))
	return &Driver{logger: options.Logger, client: client}, nil
}

// ListPorts enumerates CoreMIDI sources.
func (d *Driver) ListPorts() ([]contracts.Port, error) {
	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI sources: %w", err)
	}
	ports := make([]contracts.Port, len(sources))
	for i, source := range sources {
		ports[i] = contracts.Port{Index: i, Name: source.Name()}
	}
	return ports, nil
}

// OpenIn connects a new input port to the source named like port.
func (d *Driver) OpenIn(port contracts.Port) (contracts.InPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("error retrieving MIDI sources: %w", err)
	}
	var source *coremidi.Source
	for i := range sources {
		if sources[i].Name() == port.Name {
			source = &sources[i]
			break
		}
	}
	if source == nil {
		return nil, fmt.Errorf("%w: %q", ErrPortNotFound, port.Name)
	}

	in := &inPort{
		name:     port.Name,
		messages: make(chan contracts.RawMessage, inputBuffer),
		logger:   d.logger,
	}
	inputPort, err := coremidi.NewInputPort(d.client, port.Name, in.handlePacket)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateInputPort, err)
	}
	conn, err := inputPort.Connect(*source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMIDIConnectionError, err)
	}
	in.conn = conn
	return in, nil
}

// OpenOut finds the destination with the same name as port.
func (d *Driver) OpenOut(port contracts.Port) (contracts.OutPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return nil, fmt.Errorf("error retrieving MIDI destinations: %w", err)
	}
	for i := range destinations {
		if destinations[i].Name() != port.Name {
			continue
		}
		outputPort, err := coremidi.NewOutputPort(d.client, port.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCreateOutputPort, err)
		}
		return &outPort{port: outputPort, destination: destinations[i]}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoOutput, port.Name)
}

// Close is a no-op; CoreMIDI clients live for the whole process.
func (d *Driver) Close() error {
	return nil
}

type inPort struct {
	name     string
	conn     internalPortConnection
	messages chan contracts.RawMessage
	logger   contracts.Logger

	mu     sync.Mutex
	ignore bool
	closed bool
	wg     sync.WaitGroup // In-flight CoreMIDI callbacks.
}

// handlePacket runs on a CoreMIDI thread. A packet may hold several messages.
func (in *inPort) handlePacket(_ coremidi.Source, packet coremidi.Packet) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.wg.Add(1)
	ignore := in.ignore
	in.mu.Unlock()
	defer in.wg.Done()

	for _, msg := range splitPacket(packet.Data) {
		if ignore && (msg[0] == 0xF0 || msg[0] == 0xFE) {
			continue
		}
		select {
		case in.messages <- msg:
		default:
			in.logger.Warn("Event buffer full; dropping MIDI event",
				in.logger.Field().String("port", in.name))
		}
	}
}

func (in *inPort) IgnoreSysexAndActiveSense() {
	in.mu.Lock()
	in.ignore = true
	in.mu.Unlock()
}

func (in *inPort) Poll(timeout time.Duration) (contracts.RawMessage, bool, error) {
	in.mu.Lock()
	closed := in.closed
	in.mu.Unlock()
	if closed {
		return nil, false, ErrPortClosed
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

// Close disconnects the source and waits for callbacks already running.
func (in *inPort) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	in.mu.Unlock()

	in.conn.Disconnect()
	in.wg.Wait()
	return nil
}

type outPort struct {
	mu          sync.Mutex
	port        coremidi.OutputPort
	destination coremidi.Destination
	closed      bool
}

func (out *outPort) Send(msg contracts.RawMessage) error {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.closed {
		return ErrPortClosed
	}
	packet := coremidi.NewPacket(msg, 0)
	return packet.Send(&out.port, &out.destination)
}

func (out *outPort) Close() error {
	out.mu.Lock()
	out.closed = true
	out.mu.Unlock()
	return nil
}
