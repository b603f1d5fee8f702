// Package session ties one client connection to the hub and the router.
package session

import (
	"github.com/google/uuid"
	"github.com/leandrodaf/midiws/sdk/contracts"
)

// Hub is the subset of the broadcast hub a session needs.
type Hub interface {
	RegisterWithSnapshot(c contracts.Client, snapshot func() contracts.Event) error
	Unregister(c contracts.Client)
}

// Router handles inbound client messages.
type Router interface {
	Handle(client string, raw []byte) error
}

// Devices provides the device names of the current generation.
type Devices interface {
	Names() []string
}

// Coordinator runs the connect, message and disconnect steps of every session.
type Coordinator struct {
	hub     Hub
	router  Router
	devices Devices
	log     contracts.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(hub Hub, router Router, devices Devices, log contracts.Logger) *Coordinator {
	return &Coordinator{hub: hub, router: router, devices: devices, log: log.Named("session")}
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}

// OnConnect registers c and sends it the current device list. The hub holds
// publishes off meanwhile, so a generation swapped in concurrently is seen
// either in the snapshot or in the broadcast that follows it.
func (co *Coordinator) OnConnect(c contracts.Client) error {
	err := co.hub.RegisterWithSnapshot(c, func() contracts.Event {
		return contracts.NewDeviceListEvent(co.devices.Names())
	})
	if err != nil {
		return err
	}
	co.log.Debug("session started", co.log.Field().String("client", c.ID()))
	return nil
}

// OnMessage routes one inbound message. Failures never end the session.
func (co *Coordinator) OnMessage(c contracts.Client, raw []byte) {
	_ = co.router.Handle(c.ID(), raw)
}

// OnDisconnect unregisters c. It is safe to call on any exit path, more than once.
func (co *Coordinator) OnDisconnect(c contracts.Client) {
	co.hub.Unregister(c)
	co.log.Debug("session ended", co.log.Field().String("client", c.ID()))
}
