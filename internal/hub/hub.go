// Package hub fans events out to every connected client.
package hub

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/leandrodaf/midiws/sdk/contracts"
)

// Hub is the live set of clients. The zero value is not usable; call New.
type Hub struct {
	mu      sync.RWMutex
	clients map[contracts.Client]struct{}

	// publishMu keeps every client seeing events in publish order.
	publishMu sync.Mutex
	log       contracts.Logger
}

// New creates an empty hub.
func New(log contracts.Logger) *Hub {
	return &Hub{
		clients: make(map[contracts.Client]struct{}),
		log:     log.Named("hub"),
	}
}

// Register adds c to the broadcast set. Registering twice is a no-op.
func (h *Hub) Register(c contracts.Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("client registered",
		h.log.Field().String("client", c.ID()),
		h.log.Field().Int("clients", n))
}

// RegisterWithSnapshot registers c and sends it the event built by snapshot,
// both while publishes are held off. An event published concurrently therefore
// reaches c after the snapshot, never before it.
func (h *Hub) RegisterWithSnapshot(c contracts.Client, snapshot func() contracts.Event) error {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.Register(c)
	payload, err := json.Marshal(snapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.Send(payload); err != nil {
		return fmt.Errorf("send snapshot: %w", err)
	}
	return nil
}

// Unregister removes c. Unknown clients are ignored.
func (h *Hub) Unregister(c contracts.Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.log.Info("client unregistered",
			h.log.Field().String("client", c.ID()),
			h.log.Field().Int("clients", n))
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish serializes event once and sends it to every registered client
// concurrently, returning when all sends have finished. Delivery failures are
// logged; the failing client is left for its session to unregister.
func (h *Hub) Publish(event contracts.Event) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	targets := h.snapshot()
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to encode event",
			h.log.Field().String("type", string(event.Type)),
			h.log.Field().Error("error", err))
		return
	}

	var wg sync.WaitGroup
	for _, c := range targets {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Send(payload); err != nil {
				h.log.Warn("failed to deliver event",
					h.log.Field().String("client", c.ID()),
					h.log.Field().String("type", string(event.Type)),
					h.log.Field().Error("error", err))
			}
		}()
	}
	wg.Wait()
}

func (h *Hub) snapshot() []contracts.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]contracts.Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}
