// Package midivirtual is an in-memory MIDI driver. Ports are created and
// removed programmatically, and anything sent to a port's output is looped
// back into its input.
package midivirtual

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leandrodaf/midiws/sdk/contracts"
)

var (
	ErrPortNotFound = errors.New("virtual port not found")
	ErrPortBusy     = errors.New("virtual port already open")
	ErrPortClosed   = errors.New("virtual port closed")
)

const inputBuffer = 256

type port struct {
	name     string
	in       *inPort
	out      *outPort
	sent     []contracts.RawMessage
	pollErr  error
	sendErr  error
	inOpens  int
	outOpens int
}

// Driver is a contracts.Driver backed by memory. It is safe for concurrent use.
type Driver struct {
	mu     sync.Mutex
	ports  []*port
	closed bool
}

// NewDriver creates a driver with the given ports, in enumeration order.
func NewDriver(names ...string) *Driver {
	d := &Driver{}
	d.SetPorts(names...)
	return d
}

// SetPorts replaces the enumerable port set. Ports that disappear lose their
// open connections, like an unplugged device.
func (d *Driver) SetPorts(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing := make(map[string]*port, len(d.ports))
	for _, p := range d.ports {
		existing[p.name] = p
	}
	next := make([]*port, 0, len(names))
	for _, name := range names {
		if p, ok := existing[name]; ok {
			next = append(next, p)
			delete(existing, name)
			continue
		}
		next = append(next, &port{name: name})
	}
	for _, gone := range existing {
		if gone.in != nil {
			gone.in.unplug()
		}
	}
	d.ports = next
}

// AddPort appends a port to the enumeration.
func (d *Driver) AddPort(name string) {
	d.SetPorts(append(d.names(), name)...)
}

// RemovePort drops a port from the enumeration.
func (d *Driver) RemovePort(name string) {
	var keep []string
	for _, n := range d.names() {
		if n != name {
			keep = append(keep, n)
		}
	}
	d.SetPorts(keep...)
}

func (d *Driver) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.ports))
	for i, p := range d.ports {
		out[i] = p.name
	}
	return out
}

func (d *Driver) find(name string) (*port, error) {
	for _, p := range d.ports {
		if p.name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPortNotFound, name)
}

// ListPorts implements contracts.Driver.
func (d *Driver) ListPorts() ([]contracts.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrPortClosed
	}
	ports := make([]contracts.Port, len(d.ports))
	for i, p := range d.ports {
		ports[i] = contracts.Port{Index: i, Name: p.name}
	}
	return ports, nil
}

// OpenIn implements contracts.Driver. A port's input can be held by one opener at a time.
func (d *Driver) OpenIn(cp contracts.Port) (contracts.InPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.find(cp.Name)
	if err != nil {
		return nil, err
	}
	if p.in != nil {
		return nil, fmt.Errorf("%w: %s input", ErrPortBusy, p.name)
	}
	p.in = &inPort{driver: d, port: p, messages: make(chan contracts.RawMessage, inputBuffer)}
	p.inOpens++
	return p.in, nil
}

// OpenOut implements contracts.Driver. A port's output can be held by one opener at a time.
func (d *Driver) OpenOut(cp contracts.Port) (contracts.OutPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.find(cp.Name)
	if err != nil {
		return nil, err
	}
	if p.out != nil {
		return nil, fmt.Errorf("%w: %s output", ErrPortBusy, p.name)
	}
	p.out = &outPort{driver: d, port: p}
	p.outOpens++
	return p.out, nil
}

// Close implements contracts.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Inject delivers msg to the open input of the named port, as if the device sent it.
func (d *Driver) Inject(name string, msg contracts.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.find(name)
	if err != nil {
		return err
	}
	if p.in == nil {
		return fmt.Errorf("%w: %s input", ErrPortClosed, name)
	}
	p.in.push(msg)
	return nil
}

// Sent returns a copy of everything written to the named port's output.
func (d *Driver) Sent(name string) []contracts.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.find(name)
	if err != nil {
		return nil
	}
	return append([]contracts.RawMessage(nil), p.sent...)
}

// IsOpen reports whether the named port's input and output are currently held.
func (d *Driver) IsOpen(name string) (in, out bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.find(name)
	if err != nil {
		return false, false
	}
	return p.in != nil, p.out != nil
}

// Opens returns how many times the named port's input and output were opened.
func (d *Driver) Opens(name string) (in, out int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.find(name)
	if err != nil {
		return 0, 0
	}
	return p.inOpens, p.outOpens
}

// FailPoll makes every following Poll on the named port return err.
func (d *Driver) FailPoll(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ferr := d.find(name); ferr == nil {
		p.pollErr = err
	}
}

// FailSend makes every following Send on the named port return err.
func (d *Driver) FailSend(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ferr := d.find(name); ferr == nil {
		p.sendErr = err
	}
}

type inPort struct {
	driver      *Driver
	port        *port
	messages    chan contracts.RawMessage
	ignoreSysex bool
	closed      bool
	unplugged   bool
}

// push is called with the driver lock held.
func (in *inPort) push(msg contracts.RawMessage) {
	if in.ignoreSysex && len(msg) > 0 && (msg[0] == 0xF0 || msg[0] == 0xFE) {
		return
	}
	select {
	case in.messages <- append(contracts.RawMessage(nil), msg...):
	default:
	}
}

// unplug is called with the driver lock held.
func (in *inPort) unplug() {
	in.unplugged = true
}

func (in *inPort) IgnoreSysexAndActiveSense() {
	in.driver.mu.Lock()
	in.ignoreSysex = true
	in.driver.mu.Unlock()
}

func (in *inPort) Poll(timeout time.Duration) (contracts.RawMessage, bool, error) {
	in.driver.mu.Lock()
	closed, unplugged, pollErr := in.closed, in.unplugged, in.port.pollErr
	in.driver.mu.Unlock()

	switch {
	case closed:
		return nil, false, ErrPortClosed
	case unplugged:
		return nil, false, fmt.Errorf("%w: %s unplugged", ErrPortClosed, in.port.name)
	case pollErr != nil:
		return nil, false, pollErr
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
	in.driver.mu.Lock()
	defer in.driver.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	if in.port.in == in {
		in.port.in = nil
	}
	return nil
}

type outPort struct {
	driver *Driver
	port   *port
	closed bool
}

// Send records msg and loops it back into the port's open input.
func (out *outPort) Send(msg contracts.RawMessage) error {
	out.driver.mu.Lock()
	defer out.driver.mu.Unlock()
	if out.closed {
		return ErrPortClosed
	}
	if out.port.sendErr != nil {
		return out.port.sendErr
	}
	out.port.sent = append(out.port.sent, append(contracts.RawMessage(nil), msg...))
	if out.port.in != nil {
		out.port.in.push(msg)
	}
	return nil
}

func (out *outPort) Close() error {
	out.driver.mu.Lock()
	defer out.driver.mu.Unlock()
	if out.closed {
		return nil
	}
	out.closed = true
	if out.port.out == out {
		out.port.out = nil
	}
	return nil
}
