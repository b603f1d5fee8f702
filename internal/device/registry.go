package device

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/midiws/internal/midi"
	"github.com/leandrodaf/midiws/sdk/contracts"
	"go.uber.org/multierr"
)

// Registry defaults.
const (
	DefaultDiscoveryInterval = time.Second
	DefaultOutputSuffix      = "_OUT"
	// maxOpenRetries bounds how many consecutive rebuilds a port that fails
	// to open may trigger before the registry waits for the port set to change.
	maxOpenRetries = 3
)

// generation is one immutable set of handles plus the machinery to stop their
// poll loops. Readers only ever see a generation through Registry.current.
type generation struct {
	number  uint64
	order   []string
	devices map[string]*Handle

	cancel context.CancelFunc
	wg     sync.WaitGroup
	dirty  atomic.Bool
}

// unhealthy reports whether a poll loop or a send hit a hardware error.
func (g *generation) unhealthy() bool {
	if g.dirty.Load() {
		return true
	}
	for _, h := range g.devices {
		if h.Failed() {
			return true
		}
	}
	return false
}

// DeviceInfo describes one device of a generation.
type DeviceInfo struct {
	Name       string    `json:"name"`
	OutputName string    `json:"output_name,omitempty"`
	Direction  Direction `json:"direction"`
}

// Snapshot is a consistent view of a single generation.
type Snapshot struct {
	Generation uint64       `json:"generation"`
	Devices    []DeviceInfo `json:"devices"`
}

// Registry discovers hardware ports and owns every Handle. Any change of the
// port name set replaces the whole generation: hardware indices are not stable
// across hot-plug, so patching individual handles could bind a name to a
// different physical port.
type Registry struct {
	driver   contracts.Driver
	pub      Publisher
	decoder  midi.Decoder
	log      contracts.Logger
	interval time.Duration
	suffix   string
	policy   contracts.OutputPolicy
	poll     contracts.PollConfig

	current atomic.Pointer[generation]

	mu          sync.Mutex // Serializes Scan and Shutdown.
	lastNames   []string   // Sorted port names seen by the previous cycle.
	openRetries int
}

// NewRegistry creates a registry with an empty generation 0.
func NewRegistry(driver contracts.Driver, pub Publisher, options *contracts.RelayOptions) *Registry {
	r := &Registry{
		driver:   driver,
		pub:      pub,
		decoder:  midi.NewDecoder(midi.NewNamer(options.Notes)),
		log:      options.Logger.Named("registry"),
		interval: options.Discovery,
		suffix:   options.OutputSuffix,
		policy:   options.OutputPolicy,
		poll:     options.Poll,
	}
	if r.interval <= 0 {
		r.interval = DefaultDiscoveryInterval
	}
	if r.suffix == "" {
		r.suffix = DefaultOutputSuffix
	}
	if r.policy == "" {
		r.policy = contracts.OutputBySuffix
	}
	r.current.Store(&generation{devices: map[string]*Handle{}, cancel: func() {}})
	return r
}

// Run scans immediately and then on every interval until ctx is done, at
// which point the last generation is torn down.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.scanAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			r.Shutdown()
			return
		case <-ticker.C:
			r.scanAndLog(ctx)
		}
	}
}

func (r *Registry) scanAndLog(ctx context.Context) {
	if _, err := r.Scan(ctx); err != nil {
		r.log.Warn("device discovery failed", r.log.Field().Error("error", err))
	}
}

// Scan runs one discovery cycle and reports whether the generation was replaced.
// Poll loops of a new generation run until ctx is done or the generation is superseded.
func (r *Registry) Scan(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	ports, err := r.driver.ListPorts()
	if err != nil {
		return false, fmt.Errorf("list ports: %w", err)
	}

	names := sortedNames(ports)
	cur := r.current.Load()
	changed := !slices.Equal(names, r.lastNames)
	r.lastNames = names

	switch {
	case changed:
		r.openRetries = 0
		r.log.Info("port set changed; replacing devices",
			r.log.Field().Strings("ports", portNames(ports)))
	case cur.unhealthy():
		r.log.Info("rebuilding devices after a hardware failure",
			r.log.Field().Uint64("generation", cur.number))
	default:
		return false, nil
	}

	r.replace(ctx, cur, ports)
	return true, nil
}

// replace tears down old and installs a generation built from ports.
func (r *Registry) replace(ctx context.Context, old *generation, ports []contracts.Port) {
	r.teardown(old)

	genCtx, cancel := context.WithCancel(ctx)
	next := &generation{
		number:  old.number + 1,
		devices: make(map[string]*Handle, len(ports)),
		cancel:  cancel,
	}

	openFailed := false
	for _, port := range ports {
		name := port.Name
		if _, dup := next.devices[name]; dup {
			r.log.Warn("duplicate port name; keeping the first",
				r.log.Field().String("device", name),
				r.log.Field().Int("index", port.Index))
			continue
		}
		h, err := openHandle(r.driver, port, r.wantsOutput(name), r.suffix, next.number, r.log)
		if err != nil {
			r.log.Error("failed to open device",
				r.log.Field().String("device", name),
				r.log.Field().Error("error", err))
			openFailed = true
			continue
		}
		next.devices[name] = h
		next.order = append(next.order, name)
	}

	switch {
	case !openFailed:
		r.openRetries = 0
	case r.openRetries < maxOpenRetries:
		r.openRetries++
		next.dirty.Store(true)
	}

	for _, name := range next.order {
		h := next.devices[name]
		next.wg.Add(1)
		go func() {
			defer next.wg.Done()
			pollLoop(genCtx, h, r.pub, r.decoder, r.poll, r.log, func(*Handle) {
				next.dirty.Store(true)
			})
		}()
	}

	// Swap before publishing: a client that registers after the publish must
	// already read the new generation in its snapshot.
	r.current.Store(next)
	// A rebuild that reopens the same devices leaves clients' lists valid.
	if !slices.Equal(next.order, old.order) {
		r.pub.Publish(contracts.NewDeviceListEvent(slices.Clone(next.order)))
	}

	r.log.Info("device generation installed",
		r.log.Field().Uint64("generation", next.number),
		r.log.Field().Strings("devices", next.order))
}

// teardown cancels every poll loop of g, waits for them to exit and only then
// closes the handles, so no poll is ever in flight against a closed port.
func (r *Registry) teardown(g *generation) {
	g.cancel()
	g.wg.Wait()

	var err error
	for _, name := range g.order {
		err = multierr.Append(err, g.devices[name].Close())
	}
	if err != nil {
		r.log.Warn("errors closing superseded devices",
			r.log.Field().Uint64("generation", g.number),
			r.log.Field().Error("error", err))
	}
}

// Shutdown closes every handle of the current generation and leaves an empty one.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	r.teardown(cur)
	r.current.Store(&generation{number: cur.number + 1, devices: map[string]*Handle{}, cancel: func() {}})
	r.lastNames = nil
	r.log.Info("device registry shut down")
}

func (r *Registry) wantsOutput(name string) bool {
	switch r.policy {
	case contracts.OutputAll:
		return true
	case contracts.OutputNone:
		return false
	default:
		return !strings.HasSuffix(name, r.suffix)
	}
}

// Lookup returns the handle for name in the current generation.
func (r *Registry) Lookup(name string) (*Handle, bool) {
	h, ok := r.current.Load().devices[name]
	return h, ok
}

// Names returns the logical device names of the current generation in enumeration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.current.Load().order)
}

// Generation returns the current generation number.
func (r *Registry) Generation() uint64 {
	return r.current.Load().number
}

// Snapshot describes the current generation.
func (r *Registry) Snapshot() Snapshot {
	g := r.current.Load()
	s := Snapshot{Generation: g.number, Devices: make([]DeviceInfo, 0, len(g.order))}
	for _, name := range g.order {
		h := g.devices[name]
		info := DeviceInfo{Name: name, Direction: h.Direction()}
		if h.Direction() == DirectionBoth {
			info.OutputName = h.OutputName()
		}
		s.Devices = append(s.Devices, info)
	}
	return s
}

func portNames(ports []contracts.Port) []string {
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return names
}

// sortedNames is the comparison key of a port set. Duplicates are kept so a
// second identical device still counts as a change.
func sortedNames(ports []contracts.Port) []string {
	names := portNames(ports)
	slices.Sort(names)
	return names
}
