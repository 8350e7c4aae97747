package draft

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of write-backs: each Trigger restarts the timer
// and only the last scheduled call within the window actually fires. Typing
// quickly therefore produces one cache write, not one per keystroke.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	stopped  bool
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules fn to run after the debounce window, cancelling any
// previously scheduled call.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, fn)
}

// Flush cancels any pending call and runs fn immediately. Used when the form
// is about to be persisted and a stale scheduled write must not land after.
func (d *Debouncer) Flush(fn func()) {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	stopped := d.stopped
	d.mu.Unlock()
	if !stopped {
		fn()
	}
}

// Cancel drops any pending call without blocking future triggers.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Stop cancels any pending call and prevents further scheduling.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
