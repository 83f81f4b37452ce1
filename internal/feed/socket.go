package feed

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// clientFrame is what the socket sends to the realtime channel.
type clientFrame struct {
	Action string `json:"action"`
	Table  string `json:"table,omitempty"`
	Filter string `json:"filter,omitempty"`
	Ref    int    `json:"ref"`
}

// serverFrame is what the realtime channel delivers.
type serverFrame struct {
	Event  string         `json:"event"`
	Table  string         `json:"table,omitempty"`
	Record map[string]any `json:"record,omitempty"`
}

// Socket is the websocket change feed listener for the hosted store's
// realtime channel. It dials lazily on the first Subscribe, replays
// subscription frames after a re-dial, and reports health transitions
// through OnStateChange. It never auto-reconnects on its own: after a
// degradation the next Subscribe call (e.g. on conversation switch)
// re-establishes the connection.
type Socket struct {
	url    string
	logger *zap.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	subs  map[int]*socketSub
	next  int
	live  bool
	state []func(live bool)
}

type socketSub struct {
	owner   *Socket
	id      int
	table   string
	filter  string
	handler Handler
}

var _ Listener = (*Socket)(nil)

// NewSocket creates a websocket listener for the given endpoint.
func NewSocket(url string, logger *zap.Logger) *Socket {
	return &Socket{
		url:    url,
		logger: logger,
		subs:   make(map[int]*socketSub),
	}
}

// Subscribe registers a handler and sends the subscription frame,
// dialing the endpoint first if no connection is up.
func (s *Socket) Subscribe(table, filter string, h Handler) (Subscription, error) {
	s.mu.Lock()
	if err := s.ensureConnLocked(); err != nil {
		s.mu.Unlock()
		s.notify(false)
		return nil, fmt.Errorf("feed subscribe: %w", err)
	}
	id := s.next
	s.next++
	sub := &socketSub{owner: s, id: id, table: table, filter: filter, handler: h}
	s.subs[id] = sub
	err := s.conn.WriteJSON(clientFrame{Action: "subscribe", Table: table, Filter: filter, Ref: id})
	if err != nil {
		// No handle is returned, so the entry must not linger: it would
		// be replayed on every re-dial with no way to unsubscribe it.
		delete(s.subs, id)
		s.mu.Unlock()
		// The read loop will observe the broken socket and degrade.
		return nil, fmt.Errorf("feed subscribe write: %w", err)
	}
	s.mu.Unlock()
	return sub, nil
}

// OnStateChange registers a health callback.
func (s *Socket) OnStateChange(f func(live bool)) {
	s.mu.Lock()
	s.state = append(s.state, f)
	s.mu.Unlock()
}

// Close tears down the connection.
func (s *Socket) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.live = false
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// ensureConnLocked dials if needed and replays subscription frames for
// registered handlers that survived a previous degradation.
func (s *Socket) ensureConnLocked() error {
	if s.conn != nil {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	s.conn = conn
	for id, sub := range s.subs {
		if err := conn.WriteJSON(clientFrame{Action: "subscribe", Table: sub.table, Filter: sub.filter, Ref: id}); err != nil {
			_ = conn.Close()
			s.conn = nil
			return fmt.Errorf("replay subscription: %w", err)
		}
	}
	wasLive := s.live
	s.live = true
	go s.readLoop(conn)
	if !wasLive {
		go s.notify(true)
	}
	return nil
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if s.logger != nil {
				s.logger.Warn("change feed disconnected", zap.Error(err))
			}
			s.degrade(conn)
			return
		}
		switch frame.Event {
		case string(OpInsert), string(OpUpdate):
			s.dispatch(Event{Op: Op(frame.Event), Table: frame.Table, Record: frame.Record})
		default:
			// Acks and heartbeats are ignored.
		}
	}
}

func (s *Socket) dispatch(evt Event) {
	s.mu.Lock()
	var targets []Handler
	for _, sub := range s.subs {
		if sub.table == evt.Table && MatchFilter(sub.filter, evt.Record) {
			targets = append(targets, sub.handler)
		}
	}
	s.mu.Unlock()
	for _, h := range targets {
		h(evt)
	}
}

// degrade marks the connection dead if it is still the active one.
func (s *Socket) degrade(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	wasLive := s.live
	s.live = false
	s.mu.Unlock()
	_ = conn.Close()
	if wasLive {
		s.notify(false)
	}
}

func (s *Socket) notify(live bool) {
	s.mu.Lock()
	cbs := append([]func(bool){}, s.state...)
	s.mu.Unlock()
	for _, f := range cbs {
		f(live)
	}
}

func (s *socketSub) Unsubscribe() {
	s.owner.mu.Lock()
	delete(s.owner.subs, s.id)
	conn := s.owner.conn
	if conn != nil {
		// Best effort; a broken socket is handled by the read loop.
		_ = conn.WriteJSON(clientFrame{Action: "unsubscribe", Ref: s.id})
	}
	s.owner.mu.Unlock()
}
