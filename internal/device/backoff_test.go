package device

import (
	"testing"
	"time"

	"github.com/leandrodaf/midiws/sdk/contracts"
)

func TestBackoffDoublesAfterThresholdAndCaps(t *testing.T) {
	b := NewBackoff(contracts.PollConfig{
		MinInterval:   10 * time.Millisecond,
		MaxInterval:   40 * time.Millisecond,
		IdleThreshold: 30 * time.Millisecond,
	})

	want := []time.Duration{
		10, 10, 10, // 30ms accumulated: doubles to 20
		20, 20, // 40ms accumulated: doubles to 40
		40, // 40ms accumulated: would be 80, capped
		40, 40,
	}
	for i, w := range want {
		if got := b.Idle(); got != w*time.Millisecond {
			t.Fatalf("idle %d slept %v, want %v", i, got, w*time.Millisecond)
		}
	}
}

func TestBackoffResetsOnActivity(t *testing.T) {
	b := NewBackoff(contracts.PollConfig{
		MinInterval:   10 * time.Millisecond,
		MaxInterval:   time.Second,
		IdleThreshold: 20 * time.Millisecond,
	})
	b.Idle()
	b.Idle()
	if b.Interval() != 20*time.Millisecond {
		t.Fatalf("interval = %v", b.Interval())
	}
	b.Idle() // 20ms accumulated towards the next doubling

	b.Reset()
	if b.Interval() != 10*time.Millisecond {
		t.Errorf("interval after reset = %v", b.Interval())
	}
	// The accumulator restarted too: one idle poll must not double.
	b.Idle()
	if b.Interval() != 10*time.Millisecond {
		t.Errorf("interval after one idle = %v", b.Interval())
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(contracts.PollConfig{})
	if b.Interval() != DefaultMinInterval {
		t.Fatalf("initial interval = %v", b.Interval())
	}
	// 8ms * 250 = 2s of idle time.
	for i := 0; i < 249; i++ {
		b.Idle()
	}
	if b.Interval() != DefaultMinInterval {
		t.Fatalf("doubled early: %v", b.Interval())
	}
	b.Idle()
	if b.Interval() != 2*DefaultMinInterval {
		t.Errorf("interval after 2s idle = %v", b.Interval())
	}

	for i := 0; i < 10000; i++ {
		b.Idle()
	}
	if b.Interval() != DefaultMaxInterval {
		t.Errorf("interval not capped: %v", b.Interval())
	}
}
