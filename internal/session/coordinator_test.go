package session

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leandrodaf/midiws/internal/hub"
	"github.com/leandrodaf/midiws/internal/logger"
	"github.com/leandrodaf/midiws/sdk/contracts"
)

type fakeClient struct {
	id   string
	err  error
	mu   sync.Mutex
	msgs []string
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(msg []byte) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, string(msg))
	return nil
}

func (c *fakeClient) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

type staticDevices []string

func (d staticDevices) Names() []string { return d }

type recordingRouter struct {
	calls []string
}

func (r *recordingRouter) Handle(client string, raw []byte) error {
	r.calls = append(r.calls, client+":"+string(raw))
	return errors.New("ignored")
}

func TestOnConnectRegistersThenSendsSnapshot(t *testing.T) {
	h := hub.New(logger.NewNopLogger())
	co := NewCoordinator(h, &recordingRouter{}, staticDevices{"Keys", "Pads"}, logger.NewNopLogger())
	c := &fakeClient{id: "c1"}

	if err := co.OnConnect(c); err != nil {
		t.Fatal(err)
	}
	if h.Len() != 1 {
		t.Fatalf("hub has %d clients", h.Len())
	}
	want := `{"type":"device_list","content":{"devices":["Keys","Pads"]}}`
	if len(c.msgs) != 1 || c.msgs[0] != want {
		t.Errorf("messages = %v", c.msgs)
	}
}

// swappingDevices reports the old device list while a discovery swap
// publishes the new one from another goroutine.
type swappingDevices struct {
	hub       *hub.Hub
	published chan struct{}
}

func (d *swappingDevices) Names() []string {
	go func() {
		d.hub.Publish(contracts.NewDeviceListEvent([]string{"Keys", "Pads"}))
		close(d.published)
	}()
	// Give the publish every chance to overtake the snapshot.
	time.Sleep(20 * time.Millisecond)
	return []string{"Keys"}
}

func TestConcurrentPublishArrivesAfterSnapshot(t *testing.T) {
	h := hub.New(logger.NewNopLogger())
	devices := &swappingDevices{hub: h, published: make(chan struct{})}
	co := NewCoordinator(h, &recordingRouter{}, devices, logger.NewNopLogger())
	c := &fakeClient{id: "c1"}

	if err := co.OnConnect(c); err != nil {
		t.Fatal(err)
	}
	select {
	case <-devices.published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish never completed")
	}

	want := []string{
		`{"type":"device_list","content":{"devices":["Keys"]}}`,
		`{"type":"device_list","content":{"devices":["Keys","Pads"]}}`,
	}
	if got := c.received(); !slices.Equal(got, want) {
		t.Errorf("messages = %v", got)
	}
}

func TestOnConnectWithNoDevicesSendsEmptyList(t *testing.T) {
	co := NewCoordinator(hub.New(logger.NewNopLogger()), &recordingRouter{}, staticDevices(nil), logger.NewNopLogger())
	c := &fakeClient{id: "c1"}
	if err := co.OnConnect(c); err != nil {
		t.Fatal(err)
	}
	if want := `{"type":"device_list","content":{"devices":[]}}`; c.msgs[0] != want {
		t.Errorf("message = %s", c.msgs[0])
	}
}

func TestOnConnectSendFailure(t *testing.T) {
	co := NewCoordinator(hub.New(logger.NewNopLogger()), &recordingRouter{}, staticDevices(nil), logger.NewNopLogger())
	if err := co.OnConnect(&fakeClient{id: "c1", err: errors.New("closed")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestOnMessageSwallowsRouterErrors(t *testing.T) {
	r := &recordingRouter{}
	co := NewCoordinator(hub.New(logger.NewNopLogger()), r, staticDevices(nil), logger.NewNopLogger())
	co.OnMessage(&fakeClient{id: "c1"}, []byte("{}"))
	if len(r.calls) != 1 || r.calls[0] != "c1:{}" {
		t.Errorf("router calls = %v", r.calls)
	}
}

func TestOnDisconnectIsUnconditional(t *testing.T) {
	h := hub.New(logger.NewNopLogger())
	co := NewCoordinator(h, &recordingRouter{}, staticDevices(nil), logger.NewNopLogger())
	c := &fakeClient{id: "c1"}

	co.OnDisconnect(c) // never connected
	if err := co.OnConnect(c); err != nil {
		t.Fatal(err)
	}
	co.OnDisconnect(c)
	co.OnDisconnect(c)
	if h.Len() != 0 {
		t.Errorf("hub has %d clients", h.Len())
	}
}

func TestNewIDIsUUID(t *testing.T) {
	a, b := NewID(), NewID()
	if _, err := uuid.Parse(a); err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("ids repeat")
	}
}
