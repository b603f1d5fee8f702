package router

import (
	"context"
	"errors"
	"testing"

	"github.com/leandrodaf/midiws/internal/device"
	"github.com/leandrodaf/midiws/internal/logger"
	"github.com/leandrodaf/midiws/internal/midi/midivirtual"
	"github.com/leandrodaf/midiws/sdk/contracts"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type nopPublisher struct{}

func (nopPublisher) Publish(contracts.Event) {}
func (nopPublisher) Len() int                { return 0 }

func newRegistry(t *testing.T, drv *midivirtual.Driver) *device.Registry {
	t.Helper()
	reg := device.NewRegistry(drv, nopPublisher{}, &contracts.RelayOptions{Logger: logger.NewNopLogger()})
	t.Cleanup(reg.Shutdown)
	if _, err := reg.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestParse(t *testing.T) {
	cases := []struct {
		name  string
		input string
		ok    bool
	}{
		{"note on", `{"device_name":"Keys","status":"note_on","note_number":60,"velocity":100}`, true},
		{"note off zero velocity", `{"device_name":"Keys","status":"note_off","note_number":0,"velocity":0}`, true},
		{"not json", `play C5`, false},
		{"missing velocity", `{"device_name":"Keys","status":"note_on","note_number":60}`, false},
		{"missing device", `{"status":"note_on","note_number":60,"velocity":1}`, false},
		{"controller status", `{"device_name":"Keys","status":"controller","note_number":60,"velocity":1}`, false},
		{"note too high", `{"device_name":"Keys","status":"note_on","note_number":128,"velocity":1}`, false},
		{"negative velocity", `{"device_name":"Keys","status":"note_on","note_number":60,"velocity":-1}`, false},
		{"wrong type", `{"device_name":"Keys","status":"note_on","note_number":"60","velocity":1}`, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse([]byte(c.input))
			if c.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !c.ok && !errors.Is(err, ErrMalformedCommand) {
				t.Fatalf("err = %v, want ErrMalformedCommand", err)
			}
		})
	}
}

func TestHandleSendsToDeviceOutput(t *testing.T) {
	drv := midivirtual.NewDriver("Keys")
	r := New(newRegistry(t, drv), logger.NewNopLogger())

	err := r.Handle("c1", []byte(`{"device_name":"Keys","status":"note_on","note_number":60,"velocity":100}`))
	if err != nil {
		t.Fatal(err)
	}
	sent := drv.Sent("Keys")
	if len(sent) != 1 || string(sent[0]) != string([]byte{0x90, 60, 100}) {
		t.Errorf("sent = %v", sent)
	}
}

func TestUnknownDeviceIsDroppedQuietly(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	drv := midivirtual.NewDriver("Keys")
	r := New(newRegistry(t, drv), logger.NewZapLoggerWithCore(core))

	err := r.Handle("c1", []byte(`{"device_name":"Drums","status":"note_on","note_number":36,"velocity":90}`))
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("err = %v", err)
	}
	if n := logs.FilterLevelExact(zap.WarnLevel).Len(); n != 0 {
		t.Errorf("unknown device logged %d warnings", n)
	}
	if logs.FilterMessage("play command for unknown device").Len() != 1 {
		t.Errorf("logs = %v", logs.All())
	}
	if len(drv.Sent("Keys")) != 0 {
		t.Error("message reached another device")
	}
}

func TestMalformedInputIsWarned(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := New(newRegistry(t, midivirtual.NewDriver("Keys")), logger.NewZapLoggerWithCore(core))

	if err := r.Handle("c1", []byte(`{`)); !errors.Is(err, ErrMalformedCommand) {
		t.Fatalf("err = %v", err)
	}
	if logs.FilterMessage("dropping malformed client message").Len() != 1 {
		t.Errorf("logs = %v", logs.All())
	}
}

func TestInputOnlyDeviceRejectsPlay(t *testing.T) {
	drv := midivirtual.NewDriver("Keys_OUT")
	r := New(newRegistry(t, drv), logger.NewNopLogger())

	err := r.Handle("c1", []byte(`{"device_name":"Keys_OUT","status":"note_on","note_number":60,"velocity":1}`))
	if !errors.Is(err, device.ErrNoOutput) {
		t.Fatalf("err = %v", err)
	}
}

func TestSendFailureForcesRebuild(t *testing.T) {
	drv := midivirtual.NewDriver("Keys")
	reg := newRegistry(t, drv)
	r := New(reg, logger.NewNopLogger())

	drv.FailSend("Keys", errors.New("cable pulled"))
	if err := r.Handle("c1", []byte(`{"device_name":"Keys","status":"note_on","note_number":60,"velocity":1}`)); err == nil {
		t.Fatal("expected send error")
	}
	drv.FailSend("Keys", nil)

	replaced, err := reg.Scan(context.Background())
	if err != nil || !replaced {
		t.Fatalf("scan = %v, %v", replaced, err)
	}
	if err := r.Handle("c1", []byte(`{"device_name":"Keys","status":"note_on","note_number":60,"velocity":1}`)); err != nil {
		t.Fatalf("send after rebuild: %v", err)
	}
}
