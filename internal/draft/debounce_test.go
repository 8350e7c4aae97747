package draft

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalescesTriggers(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { fired.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
}

func TestDebouncerCancelDropsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	d.Trigger(func() { fired.Add(1) })
	d.Cancel()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("cancelled trigger fired")
	}

	// Cancel is not terminal; a later trigger still fires.
	d.Trigger(func() { fired.Add(1) })
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatal("trigger after cancel did not fire")
	}
}

func TestDebouncerStopIsTerminal(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)

	var fired atomic.Int32
	d.Trigger(func() { fired.Add(1) })
	d.Stop()
	d.Trigger(func() { fired.Add(1) })

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired %d times after stop", fired.Load())
	}
}

func TestDebouncerFlushRunsImmediately(t *testing.T) {
	d := NewDebouncer(time.Hour)
	defer d.Stop()

	var pending, flushed atomic.Int32
	d.Trigger(func() { pending.Add(1) })
	d.Flush(func() { flushed.Add(1) })

	if flushed.Load() != 1 {
		t.Fatal("flush did not run its callback")
	}
	time.Sleep(30 * time.Millisecond)
	if pending.Load() != 0 {
		t.Fatal("flush did not cancel the pending callback")
	}
}
