package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDriverTicks(t *testing.T) {
	var count atomic.Int64
	d := NewDriver("test", 10*time.Millisecond, func(context.Context) error {
		count.Add(1)
		return nil
	}, nil)

	d.Start(context.Background())
	defer d.Stop()

	deadline := time.After(2 * time.Second)
	for count.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d ticks before deadline", count.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDriverSkipsOverlappingTicks(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int64
	d := NewDriver("test", 10*time.Millisecond, func(context.Context) error {
		started.Add(1)
		<-release
		return nil
	}, nil)

	d.Start(context.Background())
	defer d.Stop()

	// Let several intervals elapse while the first tick is stuck.
	time.Sleep(100 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Errorf("ticks started = %d, want 1 (overlapping ticks must be skipped)", got)
	}
	close(release)
}

func TestDriverSuppression(t *testing.T) {
	var count atomic.Int64
	var suppressed atomic.Bool
	suppressed.Store(true)

	d := NewDriver("test", 10*time.Millisecond, func(context.Context) error {
		count.Add(1)
		return nil
	}, nil)
	d.Suppress(suppressed.Load)

	d.Start(context.Background())
	defer d.Stop()

	time.Sleep(60 * time.Millisecond)
	if count.Load() != 0 {
		t.Fatalf("ticks = %d while suppressed, want 0", count.Load())
	}

	suppressed.Store(false)
	deadline := time.After(2 * time.Second)
	for count.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no ticks after suppression lifted")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDriverKeepsTickingAfterError(t *testing.T) {
	var count atomic.Int64
	d := NewDriver("test", 10*time.Millisecond, func(context.Context) error {
		count.Add(1)
		return errors.New("transient fetch failure")
	}, nil)

	d.Start(context.Background())
	defer d.Stop()

	deadline := time.After(2 * time.Second)
	for count.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d ticks before deadline", count.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDriverStop(t *testing.T) {
	var count atomic.Int64
	d := NewDriver("test", 5*time.Millisecond, func(context.Context) error {
		count.Add(1)
		return nil
	}, nil)

	d.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	d.Stop()
	time.Sleep(20 * time.Millisecond)

	before := count.Load()
	time.Sleep(30 * time.Millisecond)
	if count.Load() != before {
		t.Error("driver kept ticking after Stop")
	}
}
