package status

import (
	"testing"
	"time"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if got := m.Current(); got != Starting {
		t.Errorf("Current() = %v, want %v", got, Starting)
	}
}

func TestValidTransitions(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Live, Degraded, Live, Stopped}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%v) error = %v", s, err)
		}
		if got := m.Current(); got != s {
			t.Errorf("Current() = %v, want %v", got, s)
		}
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Live); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Stopped); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Live); err == nil {
		t.Error("Transition(Stopped -> Live) should fail")
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	ch, unsub := b.Subscribe("feed.", 10)
	defer unsub()

	if err := m.Transition(Degraded); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Degraded); err != nil {
		t.Errorf("self transition error = %v", err)
	}

	// Exactly one status change should have been published.
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status change event")
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected second event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	ch, unsub := b.Subscribe(bus.KindFeedStatusChanged, 10)
	defer unsub()

	if err := m.Transition(Live); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Starting || change.To != Live {
			t.Errorf("change = %+v, want Starting->Live", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status change event")
	}
}
