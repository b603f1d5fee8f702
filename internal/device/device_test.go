package device

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/leandrodaf/midiws/internal/logger"
	"github.com/leandrodaf/midiws/internal/midi/midivirtual"
	"github.com/leandrodaf/midiws/sdk/contracts"
)

type recordingPublisher struct {
	mu      sync.Mutex
	clients int
	events  []contracts.Event
}

func (p *recordingPublisher) Publish(e contracts.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients
}

func (p *recordingPublisher) ofType(t contracts.EventType) []contracts.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []contracts.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testOptions() *contracts.RelayOptions {
	return &contracts.RelayOptions{
		Logger: logger.NewNopLogger(),
		Poll:   contracts.PollConfig{MinInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond, IdleThreshold: 10 * time.Millisecond},
	}
}

func newTestRegistry(t *testing.T, drv contracts.Driver, pub Publisher, opts *contracts.RelayOptions) *Registry {
	t.Helper()
	r := NewRegistry(drv, pub, opts)
	t.Cleanup(r.Shutdown)
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func deviceLists(p *recordingPublisher) [][]string {
	var out [][]string
	for _, e := range p.ofType(contracts.EventDeviceList) {
		out = append(out, e.Content.(contracts.DeviceList).Devices)
	}
	return out
}

func TestScanReplacesOnlyWhenPortSetChanges(t *testing.T) {
	drv := midivirtual.NewDriver("Keys", "Pads")
	pub := &recordingPublisher{}
	reg := newTestRegistry(t, drv, pub, testOptions())
	ctx := context.Background()

	replaced, err := reg.Scan(ctx)
	if err != nil || !replaced {
		t.Fatalf("first scan = %v, %v", replaced, err)
	}
	if got := deviceLists(pub); len(got) != 1 || !slices.Equal(got[0], []string{"Keys", "Pads"}) {
		t.Fatalf("device lists = %v", got)
	}
	if reg.Generation() != 1 {
		t.Errorf("generation = %d", reg.Generation())
	}

	replaced, err = reg.Scan(ctx)
	if err != nil || replaced {
		t.Fatalf("unchanged scan = %v, %v", replaced, err)
	}
	if got := deviceLists(pub); len(got) != 1 {
		t.Fatalf("unchanged scan published: %v", got)
	}

	drv.SetPorts("Pads", "Knobs")
	replaced, err = reg.Scan(ctx)
	if err != nil || !replaced {
		t.Fatalf("changed scan = %v, %v", replaced, err)
	}
	got := deviceLists(pub)
	if len(got) != 2 || !slices.Equal(got[1], []string{"Pads", "Knobs"}) {
		t.Fatalf("device lists = %v", got)
	}
	if reg.Generation() != 2 {
		t.Errorf("generation = %d", reg.Generation())
	}
	if !slices.Equal(reg.Names(), []string{"Pads", "Knobs"}) {
		t.Errorf("names = %v", reg.Names())
	}
}

func TestReorderedEnumerationIsNotAChange(t *testing.T) {
	drv := midivirtual.NewDriver("Keys", "Pads")
	pub := &recordingPublisher{}
	reg := newTestRegistry(t, drv, pub, testOptions())

	if _, err := reg.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	drv.SetPorts("Pads", "Keys")
	if replaced, _ := reg.Scan(context.Background()); replaced {
		t.Error("reordering replaced the generation")
	}
}

func TestFullReplaceReopensEveryPort(t *testing.T) {
	drv := midivirtual.NewDriver("Keys")
	reg := newTestRegistry(t, drv, &recordingPublisher{}, testOptions())
	ctx := context.Background()

	if _, err := reg.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	old, _ := reg.Lookup("Keys")

	drv.AddPort("Pads")
	if _, err := reg.Scan(ctx); err != nil {
		t.Fatal(err)
	}

	// The virtual driver refuses a second opener, so a successful reopen
	// proves the previous handle released the port first.
	if in, out := drv.Opens("Keys"); in != 2 || out != 2 {
		t.Errorf("Keys opened in=%d out=%d times", in, out)
	}
	if _, _, err := old.Poll(); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("superseded handle poll err = %v", err)
	}
	cur, ok := reg.Lookup("Keys")
	if !ok || cur == old || cur.Generation() != 2 {
		t.Errorf("Keys handle not replaced: %+v", cur)
	}
}

func TestOutputPolicy(t *testing.T) {
	cases := []struct {
		policy   contracts.OutputPolicy
		keys     Direction
		keysEcho Direction
	}{
		{contracts.OutputBySuffix, DirectionBoth, DirectionInput},
		{contracts.OutputAll, DirectionBoth, DirectionBoth},
		{contracts.OutputNone, DirectionInput, DirectionInput},
	}
	for _, c := range cases {
		t.Run(string(c.policy), func(t *testing.T) {
			drv := midivirtual.NewDriver("Keys", "Keys_OUT")
			opts := testOptions()
			opts.OutputPolicy = c.policy
			reg := newTestRegistry(t, drv, &recordingPublisher{}, opts)
			if _, err := reg.Scan(context.Background()); err != nil {
				t.Fatal(err)
			}

			keys, _ := reg.Lookup("Keys")
			echo, _ := reg.Lookup("Keys_OUT")
			if keys.Direction() != c.keys || echo.Direction() != c.keysEcho {
				t.Errorf("directions = %s, %s", keys.Direction(), echo.Direction())
			}
			if keys.OutputName() != "Keys_OUT" {
				t.Errorf("output name = %q", keys.OutputName())
			}
		})
	}
}

func TestPollLoopPublishesDecodedInput(t *testing.T) {
	drv := midivirtual.NewDriver("Keys")
	pub := &recordingPublisher{clients: 1}
	reg := newTestRegistry(t, drv, pub, testOptions())
	if _, err := reg.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := drv.Inject("Keys", contracts.RawMessage{0x90, 60, 100}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "midi_data", func() bool { return len(pub.ofType(contracts.EventMIDIData)) == 1 })

	data := pub.ofType(contracts.EventMIDIData)[0].Content.(contracts.MIDIData)
	if data.DeviceName != "Keys" || data.Status != contracts.StatusNoteOn || data.NoteName != "C5" {
		t.Errorf("event = %+v", data)
	}
}

func TestPollLoopDiscardsInputWithoutClients(t *testing.T) {
	drv := midivirtual.NewDriver("Keys")
	pub := &recordingPublisher{}
	reg := newTestRegistry(t, drv, pub, testOptions())
	if _, err := reg.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	_ = drv.Inject("Keys", contracts.RawMessage{0x90, 60, 100})
	time.Sleep(30 * time.Millisecond)
	if got := pub.ofType(contracts.EventMIDIData); len(got) != 0 {
		t.Errorf("published %d events without clients", len(got))
	}
}

func TestPollFailureTriggersRebuild(t *testing.T) {
	drv := midivirtual.NewDriver("Keys")
	pub := &recordingPublisher{}
	reg := newTestRegistry(t, drv, pub, testOptions())
	ctx := context.Background()
	if _, err := reg.Scan(ctx); err != nil {
		t.Fatal(err)
	}

	h, _ := reg.Lookup("Keys")
	drv.FailPoll("Keys", errors.New("usb reset"))
	waitFor(t, "handle failure", h.Failed)
	drv.FailPoll("Keys", nil)

	replaced, err := reg.Scan(ctx)
	if err != nil || !replaced {
		t.Fatalf("scan after failure = %v, %v", replaced, err)
	}
	if reg.Generation() != 2 {
		t.Errorf("generation = %d", reg.Generation())
	}
	if replaced, _ := reg.Scan(ctx); replaced {
		t.Error("healthy generation replaced again")
	}
}

func TestRunStopsAndClosesOnCancel(t *testing.T) {
	drv := midivirtual.NewDriver("Keys")
	opts := testOptions()
	opts.Discovery = 5 * time.Millisecond
	reg := NewRegistry(drv, &recordingPublisher{}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()

	waitFor(t, "first generation", func() bool { return reg.Generation() == 1 })
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if in, out := drv.IsOpen("Keys"); in || out {
		t.Errorf("ports still open after shutdown: in=%v out=%v", in, out)
	}
	if len(reg.Names()) != 0 {
		t.Errorf("names after shutdown = %v", reg.Names())
	}
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	drv := midivirtual.NewDriver("Keys")
	h, err := openHandle(drv, contracts.Port{Name: "Keys"}, false, DefaultOutputSuffix, 1, logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Send(contracts.RawMessage{0x90, 1, 1}); !errors.Is(err, ErrNoOutput) {
		t.Errorf("send on input-only handle err = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close err = %v", err)
	}
	if in, _ := drv.IsOpen("Keys"); in {
		t.Error("input still held after Close")
	}
	if _, _, err := h.Poll(); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("poll after close err = %v", err)
	}
}

func TestHandleSendFailureMarksFailed(t *testing.T) {
	drv := midivirtual.NewDriver("Synth")
	h, err := openHandle(drv, contracts.Port{Name: "Synth"}, true, DefaultOutputSuffix, 1, logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	drv.FailSend("Synth", errors.New("cable pulled"))
	if err := h.Send(contracts.RawMessage{0x90, 1, 1}); err == nil {
		t.Fatal("expected send error")
	}
	if !h.Failed() {
		t.Error("handle not marked failed")
	}
}

func TestOpenRetryRepublishesOnlyWhenDevicesChange(t *testing.T) {
	drv := midivirtual.NewDriver("Keys", "Pads")
	pub := &recordingPublisher{}
	reg := newTestRegistry(t, drv, pub, testOptions())
	ctx := context.Background()

	// Another program holds Keys, so it fails to open.
	held, err := drv.OpenIn(contracts.Port{Name: "Keys"})
	if err != nil {
		t.Fatal(err)
	}
	if replaced, err := reg.Scan(ctx); err != nil || !replaced {
		t.Fatalf("first scan = %v, %v", replaced, err)
	}

	// The retry rebuilds but ends with the same devices: nothing to announce.
	if replaced, err := reg.Scan(ctx); err != nil || !replaced {
		t.Fatalf("retry scan = %v, %v", replaced, err)
	}
	if got := deviceLists(pub); len(got) != 1 || !slices.Equal(got[0], []string{"Pads"}) {
		t.Fatalf("device lists after retry = %v", got)
	}

	_ = held.Close()
	if replaced, err := reg.Scan(ctx); err != nil || !replaced {
		t.Fatalf("recovery scan = %v, %v", replaced, err)
	}
	got := deviceLists(pub)
	if len(got) != 2 || !slices.Equal(got[1], []string{"Keys", "Pads"}) {
		t.Fatalf("device lists after recovery = %v", got)
	}
	if replaced, _ := reg.Scan(ctx); replaced {
		t.Error("healthy generation replaced again")
	}
}
