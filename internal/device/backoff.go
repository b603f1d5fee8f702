package device

import (
	"time"

	"github.com/leandrodaf/midiws/sdk/contracts"
)

// Default poll loop timings.
const (
	DefaultMinInterval   = 8 * time.Millisecond
	DefaultMaxInterval   = time.Second
	DefaultIdleThreshold = 2 * time.Second
)

// Backoff is the idle-sleep state machine of a poll loop. The interval starts
// at the minimum; every time the accumulated idle time reaches the threshold
// the interval doubles, capped at the maximum, and the accumulator restarts.
// Any activity resets both.
type Backoff struct {
	min, max, threshold time.Duration

	interval time.Duration
	idle     time.Duration
}

// NewBackoff creates a Backoff, filling zero fields of cfg with the defaults.
func NewBackoff(cfg contracts.PollConfig) *Backoff {
	b := &Backoff{min: cfg.MinInterval, max: cfg.MaxInterval, threshold: cfg.IdleThreshold}
	if b.min <= 0 {
		b.min = DefaultMinInterval
	}
	if b.max <= 0 {
		b.max = DefaultMaxInterval
	}
	if b.max < b.min {
		b.max = b.min
	}
	if b.threshold <= 0 {
		b.threshold = DefaultIdleThreshold
	}
	b.interval = b.min
	return b
}

// Interval is the sleep the next idle poll will use.
func (b *Backoff) Interval() time.Duration { return b.interval }

// Reset returns to the minimum interval after activity.
func (b *Backoff) Reset() {
	b.interval = b.min
	b.idle = 0
}

// Idle records an empty poll. It returns how long to sleep now and advances
// the state for the following one.
func (b *Backoff) Idle() time.Duration {
	sleep := b.interval
	b.idle += sleep
	if b.idle >= b.threshold {
		b.interval *= 2
		if b.interval > b.max {
			b.interval = b.max
		}
		b.idle = 0
	}
	return sleep
}
