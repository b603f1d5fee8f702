package device

import (
	"context"
	"errors"
	"time"

	"github.com/leandrodaf/midiws/internal/midi"
	"github.com/leandrodaf/midiws/sdk/contracts"
)

// Publisher receives the events produced by poll loops and discovery.
type Publisher interface {
	Publish(event contracts.Event)
	// Len is the number of connected clients.
	Len() int
}

// pollLoop drains one handle until ctx is cancelled or the hardware fails.
// It never closes the handle; that belongs to the registry.
func pollLoop(ctx context.Context, h *Handle, pub Publisher, decoder midi.Decoder, cfg contracts.PollConfig, log contracts.Logger, onFailure func(*Handle)) {
	backoff := NewBackoff(cfg)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		msg, ok, err := h.Poll()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrHandleClosed) {
				log.Error("device poll failed; dropping handle until next discovery",
					log.Field().String("device", h.Name()),
					log.Field().Uint64("generation", h.Generation()),
					log.Field().Error("error", err))
				onFailure(h)
			}
			return
		}

		// Input with nobody listening is discarded and counts as idle.
		if ok && pub.Len() > 0 {
			pub.Publish(contracts.NewMIDIDataEvent(decoder.Decode(h.Name(), msg)))
			backoff.Reset()
			continue
		}

		if sleep := backoff.Idle(); timer == nil {
			timer = time.NewTimer(sleep)
		} else {
			timer.Reset(sleep)
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}
