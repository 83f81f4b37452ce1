package feed

import "sync"

// Memory is an in-process change feed used by tests and by deployments
// where the ingest path runs inside the daemon itself.
type Memory struct {
	mu    sync.RWMutex
	subs  map[int]*memorySub
	next  int
	state []func(live bool)
}

type memorySub struct {
	owner   *Memory
	id      int
	table   string
	filter  string
	handler Handler
}

// NewMemory creates an in-process feed.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]*memorySub)}
}

// Subscribe registers a handler for rows of the given table matching filter.
func (m *Memory) Subscribe(table, filter string, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	sub := &memorySub{owner: m, id: id, table: table, filter: filter, handler: h}
	m.subs[id] = sub
	return sub, nil
}

// OnStateChange registers a health callback.
func (m *Memory) OnStateChange(f func(live bool)) {
	m.mu.Lock()
	m.state = append(m.state, f)
	m.mu.Unlock()
}

// Emit delivers an event to every matching subscription.
func (m *Memory) Emit(evt Event) {
	m.mu.RLock()
	var targets []Handler
	for _, sub := range m.subs {
		if sub.table == evt.Table && MatchFilter(sub.filter, evt.Record) {
			targets = append(targets, sub.handler)
		}
	}
	m.mu.RUnlock()
	for _, h := range targets {
		h(evt)
	}
}

// SetLive drives the health callbacks; tests use it to simulate feed loss.
func (m *Memory) SetLive(live bool) {
	m.mu.RLock()
	cbs := append([]func(bool){}, m.state...)
	m.mu.RUnlock()
	for _, f := range cbs {
		f(live)
	}
}

// SubscriberCount reports active subscriptions (test helper).
func (m *Memory) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

func (s *memorySub) Unsubscribe() {
	s.owner.mu.Lock()
	delete(s.owner.subs, s.id)
	s.owner.mu.Unlock()
}
