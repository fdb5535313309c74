package util

import (
	"sync"
	"time"
)

// Debouncer is a resettable one-shot timer whose expiry is read from C. It is
// meant to sit in a select loop next to the events that postpone it.
//
// Example usage:
//
//	closer := NewDebouncer()
//	defer closer.Stop()
//
//	closer.ResetTo(5 * time.Second) // arm, replacing any earlier deadline
//	for {
//	    select {
//	    case ev := <-events:
//	        handle(ev)
//	    case <-closer.C():
//	        shutdown()
//	        return
//	    }
//	}
type Debouncer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer that does not fire until it is armed with
// ResetTo.
func NewDebouncer() *Debouncer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &Debouncer{timer: t}
}

// ResetTo arms the timer for duration. A pending expiry from an earlier arm is
// discarded.
func (d *Debouncer) ResetTo(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopLocked()
	d.timer.Reset(duration)
}

// C returns the timer's channel.
func (d *Debouncer) C() <-chan time.Time {
	return d.timer.C
}

// Stop disarms the debouncer for good. Safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.stopped {
		d.stopLocked()
		d.stopped = true
	}
}

func (d *Debouncer) stopLocked() {
	if !d.timer.Stop() {
		select {
		case <-d.timer.C:
		default:
		}
	}
}
