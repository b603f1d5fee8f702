//go:build windows
// +build windows

package midiwindows

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/leandrodaf/midiws/sdk/contracts"
	"golang.org/x/sys/windows"
)

// Type definitions for MIDI handles
type (
	HMIDIIN  windows.Handle
	HMIDIOUT windows.Handle
)

// Constants for callback flags
const (
	CALLBACK_NULL     = 0x00000000 // No callback
	CALLBACK_FUNCTION = 0x00030000 // Indicates that the callback is a function
	MIDI_IO_STATUS    = 0x00000020 // MIDI input/output status
)

// Constants for MIDI message types
const (
	MIM_OPEN      = 0x3C1 // MIDI device opened
	MIM_CLOSE     = 0x3C2 // MIDI device closed
	MIM_DATA      = 0x3C3 // MIDI data received
	MIM_ERROR     = 0x3C5 // MIDI error
	MIM_LONGERROR = 0x3C6 // Long MIDI error
	MIM_MOREDATA  = 0x3CC // More MIDI data available
)

const inputBuffer = 1024

// Error definitions for winmm port handling.
var (
	ErrPortNotFound = errors.New("MIDI input device not found")
	ErrNoOutput     = errors.New("no MIDI output device matches input")
	ErrPortClosed   = errors.New("MIDI port closed")
)

// Struct representing MIDI input device capabilities
type midiInCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	dwSupport      uint32
}

// Struct representing MIDI output device capabilities
type midiOutCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	wTechnology    uint16
	wVoices        uint16
	wNotes         uint16
	wChannelMask   uint16
	dwSupport      uint32
}

// Load the winmm.dll library and required functions
var (
	winmm                 = windows.NewLazySystemDLL("winmm.dll")
	procMidiInGetNumDevs  = winmm.NewProc("midiInGetNumDevs")
	procMidiInGetDevCaps  = winmm.NewProc("midiInGetDevCapsW")
	procMidiInOpen        = winmm.NewProc("midiInOpen")
	procMidiInStart       = winmm.NewProc("midiInStart")
	procMidiInStop        = winmm.NewProc("midiInStop")
	procMidiInClose       = winmm.NewProc("midiInClose")
	procMidiOutGetNumDevs = winmm.NewProc("midiOutGetNumDevs")
	procMidiOutGetDevCaps = winmm.NewProc("midiOutGetDevCapsW")
	procMidiOutOpen       = winmm.NewProc("midiOutOpen")
	procMidiOutShortMsg   = winmm.NewProc("midiOutShortMsg")
	procMidiOutClose      = winmm.NewProc("midiOutClose")
)

// Callbacks are keyed by an instance id rather than a Go pointer handed to
// winmm. windows.NewCallback slots are limited, so one callback serves all ports.
var (
	callbackOnce sync.Once
	callbackPtr  uintptr
	instances    sync.Map // uintptr -> *inPort
	nextInstance atomic.Uintptr
)

// Driver manages winmm devices on Windows.
type Driver struct {
	logger contracts.Logger
	mu     sync.Mutex
}

// NewDriver creates a winmm driver.
func NewDriver(options *contracts.RelayOptions) (contracts.Driver, error) {
	if err := winmm.Load(); err != nil {
		return nil, fmt.Errorf("load winmm.dll: %w", err)
	}
	options.Logger.Info("MIDI driver created for Windows")
	return &Driver{logger: options.Logger}, nil
}

func inputNames() []string {
	r0, _, _ := procMidiInGetNumDevs.Call()
	numDevices := uint32(r0)
	names := make([]string, 0, numDevices)
	for i := uint32(0); i < numDevices; i++ {
		var caps midiInCaps
		r1, _, _ := procMidiInGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r1 != 0 {
			names = append(names, "")
			continue
		}
		names = append(names, windows.UTF16ToString(caps.szPname[:]))
	}
	return names
}

func outputNames() []string {
	r0, _, _ := procMidiOutGetNumDevs.Call()
	numDevices := uint32(r0)
	names := make([]string, 0, numDevices)
	for i := uint32(0); i < numDevices; i++ {
		var caps midiOutCaps
		r1, _, _ := procMidiOutGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r1 != 0 {
			names = append(names, "")
			continue
		}
		names = append(names, windows.UTF16ToString(caps.szPname[:]))
	}
	return names
}

// ListPorts lists the MIDI input devices. Devices whose caps cannot be read are skipped.
func (d *Driver) ListPorts() ([]contracts.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ports []contracts.Port
	for i, name := range inputNames() {
		if name == "" {
			d.logger.Warn("Failed to get information for MIDI device", d.logger.Field().Int("device", i))
			continue
		}
		ports = append(ports, contracts.Port{Index: i, Name: name})
	}
	return ports, nil
}

// OpenIn opens and starts the input device with port's name.
func (d *Driver) OpenIn(port contracts.Port) (contracts.InPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	deviceID := -1
	for i, name := range inputNames() {
		if name == port.Name {
			deviceID = i
			break
		}
	}
	if deviceID < 0 {
		return nil, fmt.Errorf("%w: %q", ErrPortNotFound, port.Name)
	}

	callbackOnce.Do(func() {
		callbackPtr = windows.NewCallback(midiInCallback)
	})
	in := &inPort{
		name:     port.Name,
		messages: make(chan contracts.RawMessage, inputBuffer),
		logger:   d.logger,
		instance: nextInstance.Add(1),
	}
	instances.Store(in.instance, in)

	r1, _, err := procMidiInOpen.Call(
		uintptr(unsafe.Pointer(&in.handle)),
		uintptr(deviceID),
		callbackPtr,
		in.instance,
		uintptr(CALLBACK_FUNCTION|MIDI_IO_STATUS),
	)
	if r1 != 0 {
		instances.Delete(in.instance)
		return nil, fmt.Errorf("failed to open MIDI device %d: %v", deviceID, err)
	}
	if r1, _, err := procMidiInStart.Call(uintptr(in.handle)); r1 != 0 {
		procMidiInClose.Call(uintptr(in.handle))
		instances.Delete(in.instance)
		return nil, fmt.Errorf("failed to start MIDI capture: %v", err)
	}
	return in, nil
}

// OpenOut opens the output device with port's name.
func (d *Driver) OpenOut(port contracts.Port) (contracts.OutPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, name := range outputNames() {
		if name != port.Name {
			continue
		}
		out := &outPort{}
		r1, _, err := procMidiOutOpen.Call(
			uintptr(unsafe.Pointer(&out.handle)),
			uintptr(i),
			0, 0,
			uintptr(CALLBACK_NULL),
		)
		if r1 != 0 {
			return nil, fmt.Errorf("failed to open MIDI output %d: %v", i, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNoOutput, port.Name)
}

// Close is a no-op; ports are released individually.
func (d *Driver) Close() error {
	return nil
}

// midiInCallback processes incoming MIDI messages
func midiInCallback(hMidiIn uintptr, wMsg uint32, dwInstance uintptr, dwParam1 uintptr, dwParam2 uintptr) uintptr {
	v, ok := instances.Load(dwInstance)
	if !ok {
		return 0
	}
	in := v.(*inPort)

	switch wMsg {
	case MIM_DATA:
		status := byte(dwParam1 & 0xFF)
		msg := contracts.RawMessage{status, byte((dwParam1 >> 8) & 0xFF), byte((dwParam1 >> 16) & 0xFF)}
		msg = msg[:shortMessageLength(status)]
		if in.ignore.Load() && status == 0xFE {
			return 0
		}
		select {
		case in.messages <- msg:
		default:
			in.logger.Warn("MIDI event channel is full; event discarded",
				in.logger.Field().String("port", in.name))
		}
	case MIM_LONGERROR:
		// SysEx arrives through long buffers, which are never prepared, so there is nothing to read.
	case MIM_ERROR:
		in.logger.Error("MIDI error", in.logger.Field().String("port", in.name))
	case MIM_OPEN, MIM_CLOSE, MIM_MOREDATA:
	}
	return 0
}

// shortMessageLength is the byte count of a short message by its status.
func shortMessageLength(status byte) int {
	switch {
	case status >= 0xF8, status == 0xF6, status == 0xF7:
		return 1
	case status == 0xF1, status == 0xF3, status&0xF0 == 0xC0, status&0xF0 == 0xD0:
		return 2
	default:
		return 3
	}
}

type inPort struct {
	name     string
	handle   HMIDIIN
	instance uintptr
	messages chan contracts.RawMessage
	logger   contracts.Logger
	ignore   atomic.Bool
	closed   atomic.Bool
	once     sync.Once
	closeErr error
}

func (in *inPort) IgnoreSysexAndActiveSense() {
	in.ignore.Store(true)
}

func (in *inPort) Poll(timeout time.Duration) (contracts.RawMessage, bool, error) {
	if in.closed.Load() {
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

// Close stops the capture and releases the device handle.
func (in *inPort) Close() error {
	in.once.Do(func() {
		in.closed.Store(true)
		if r1, _, err := procMidiInStop.Call(uintptr(in.handle)); r1 != 0 {
			in.closeErr = fmt.Errorf("failed to stop MIDI capture: %v", err)
		}
		if r1, _, err := procMidiInClose.Call(uintptr(in.handle)); r1 != 0 {
			in.closeErr = fmt.Errorf("failed to close MIDI device: %v", err)
		}
		instances.Delete(in.instance)
	})
	return in.closeErr
}

type outPort struct {
	handle   HMIDIOUT
	mu       sync.Mutex
	closed   bool
	closeErr error
}

// Send packs a short message into the DWORD winmm expects. Longer messages are rejected.
func (out *outPort) Send(msg contracts.RawMessage) error {
	if len(msg) == 0 || len(msg) > 3 {
		return fmt.Errorf("winmm: cannot send %d-byte message", len(msg))
	}
	var packed uint32
	for i, b := range msg {
		packed |= uint32(b) << (8 * i)
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	if out.closed {
		return ErrPortClosed
	}
	if r1, _, err := procMidiOutShortMsg.Call(uintptr(out.handle), uintptr(packed)); r1 != 0 {
		return fmt.Errorf("midiOutShortMsg: %v", err)
	}
	return nil
}

func (out *outPort) Close() error {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.closed {
		return out.closeErr
	}
	out.closed = true
	if r1, _, err := procMidiOutClose.Call(uintptr(out.handle)); r1 != 0 {
		out.closeErr = fmt.Errorf("failed to close MIDI output: %v", err)
	}
	return out.closeErr
}
