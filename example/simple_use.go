package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/leandrodaf/midiws/internal/logger"
	"github.com/leandrodaf/midiws/internal/midi/midivirtual"
	"github.com/leandrodaf/midiws/sdk/contracts"
	"github.com/leandrodaf/midiws/sdk/midi"
)

func main() {
	log := logger.NewZapLogger()

	// Two virtual keyboards; the second one appears a few seconds in, like a
	// device being plugged in.
	driver := midivirtual.NewDriver("Virtual Keys")

	relay, err := midi.NewRelay(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.DebugLevel),
		contracts.WithDriver(driver),
		contracts.WithListenAddress("127.0.0.1", 8765),
		contracts.WithNoteNaming(contracts.NoteNaming{UseFlats: true, MiddleCOctave: 4}),
	)
	if err != nil {
		log.Error("Failed to initialize relay", log.Field().Error("error", err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
		driver.AddPort("Virtual Pads")

		// Play a C major arpeggio on the keyboard every second.
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for step := 0; ; step++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			note := byte([]int{60, 64, 67}[step%3])
			if err := driver.Inject("Virtual Keys", contracts.RawMessage{0x90, note, 100}); err != nil {
				log.Warn("Inject failed", log.Field().Error("error", err))
			}
		}
	}()

	fmt.Println("Relay on ws://127.0.0.1:8765/ ... Press Ctrl+C to exit.")
	if err := relay.Run(ctx); err != nil {
		log.Error("Relay stopped with error", log.Field().Error("error", err))
	}
}
