// Package feed delivers row-level insert/update notifications from the
// data store's realtime channel. The poll driver covers the same ground
// on a timer; both paths converge on the engine's reconciliation.
package feed

import (
	"strconv"
	"strings"
)

// Op is the row operation carried by a feed event.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
)

// Event is a raw row-level notification. Record is the loose row shape as
// delivered by the store; normalization happens at the source boundary.
type Event struct {
	Op     Op
	Table  string
	Record map[string]any
}

// Handler consumes feed events. Handlers must not panic; they run on the
// listener's delivery goroutine.
type Handler func(Event)

// Subscription is a live registration on a listener. Unsubscribe must be
// called when the owning component loses interest, or events leak across
// conversation switches.
type Subscription interface {
	Unsubscribe()
}

// Listener is the change feed contract. Implementations report connection
// health through the state callback and must never crash the caller: a
// broken feed downgrades to polling, it does not propagate.
type Listener interface {
	Subscribe(table, filter string, h Handler) (Subscription, error)
	// OnStateChange registers a callback invoked with true when the feed
	// is delivering and false when it has degraded.
	OnStateChange(f func(live bool))
}

// MatchFilter evaluates a "column=eq.value" filter against a loose record.
// An empty filter matches everything.
func MatchFilter(filter string, rec map[string]any) bool {
	if filter == "" {
		return true
	}
	col, want, ok := strings.Cut(filter, "=eq.")
	if !ok {
		return false
	}
	got, present := rec[col]
	if !present {
		return false
	}
	return looseEqual(got, want)
}

func looseEqual(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case float64:
		// JSON numbers decode as float64.
		return t == float64(int64(t)) && strconv.FormatInt(int64(t), 10) == want
	case int64:
		return strconv.FormatInt(t, 10) == want
	case int:
		return strconv.Itoa(t) == want
	default:
		return false
	}
}
