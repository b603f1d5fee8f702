package midi

import (
	"context"
	"net"
	"sync"

	"github.com/leandrodaf/midiws/internal/device"
	"github.com/leandrodaf/midiws/internal/hub"
	"github.com/leandrodaf/midiws/internal/router"
	"github.com/leandrodaf/midiws/internal/server"
	"github.com/leandrodaf/midiws/internal/session"
	"github.com/leandrodaf/midiws/sdk/contracts"
)

// Relay bridges MIDI hardware and WebSocket clients.
type Relay struct {
	options    contracts.RelayOptions
	driver     contracts.Driver
	ownsDriver bool
	hub        *hub.Hub
	registry   *device.Registry
	server     *server.Server
	log        contracts.Logger
	closeOnce  sync.Once
}

// NewRelay creates a relay with the specified options.
// It applies default options and initializes the hardware driver; nothing is
// opened or bound until Run.
//
// opts ...contracts.Option: A variadic list of option functions to customize the relay configuration.
//
// Returns:
//   - *Relay: The relay.
//   - error: An error, if any occurred while selecting the driver.
func NewRelay(opts ...contracts.Option) (*Relay, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}

	ownsDriver := options.Driver == nil
	driver, err := NewDriver(&options)
	if err != nil {
		return nil, err
	}

	h := hub.New(options.Logger)
	registry := device.NewRegistry(driver, h, &options)
	coordinator := session.NewCoordinator(h, router.New(registry, options.Logger), registry, options.Logger)

	return &Relay{
		options:    options,
		driver:     driver,
		ownsDriver: ownsDriver,
		hub:        h,
		registry:   registry,
		server:     server.New(&options, coordinator, registry),
		log:        options.Logger,
	}, nil
}

// Run binds the listener, starts device discovery and serves clients until
// ctx is done. A bind failure is returned immediately. On return every device
// handle is closed and, if the relay created it, the driver too.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.server.Listen(); err != nil {
		r.closeDriver()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.registry.Run(ctx)
	}()

	err := r.server.Serve(ctx)
	cancel()
	wg.Wait()
	r.closeDriver()

	r.log.Info("relay stopped")
	_ = r.log.Sync()
	return err
}

func (r *Relay) closeDriver() {
	if err := r.Close(); err != nil {
		r.log.Warn("failed to close MIDI driver", r.log.Field().Error("error", err))
	}
}

// Close releases the driver if the relay created it. Run calls it on return;
// call it directly for a relay that is never run. It is idempotent.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.ownsDriver {
			err = r.driver.Close()
		}
	})
	return err
}

// Devices returns the device names of the current generation.
func (r *Relay) Devices() []string {
	return r.registry.Names()
}

// Addr returns the listening address once Run has bound it, nil before.
func (r *Relay) Addr() net.Addr {
	return r.server.Addr()
}

// Clients returns the number of connected clients.
func (r *Relay) Clients() int {
	return r.hub.Len()
}

// Ports lists the hardware ports the driver currently sees, without opening them.
func (r *Relay) Ports() ([]contracts.Port, error) {
	return r.driver.ListPorts()
}
