package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// feedServer is a minimal realtime endpoint: it accepts the upgrade,
// acknowledges subscribe frames and pushes whatever the test queues.
type feedServer struct {
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
}

func newFeedServer(t *testing.T) (*feedServer, string) {
	t.Helper()
	fs := &feedServer{conns: make(chan *websocket.Conn, 4)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
		// Drain client frames so writes on the client side never block.
		go func() {
			for {
				var f clientFrame
				if err := conn.ReadJSON(&f); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return fs, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (fs *feedServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for websocket connection")
		return nil
	}
}

func TestSocketDeliversEvents(t *testing.T) {
	fs, url := newFeedServer(t)
	s := NewSocket(url, nil)
	defer func() { _ = s.Close() }()

	events := make(chan Event, 4)
	if _, err := s.Subscribe("messages", "conversation_id=eq.7", func(e Event) { events <- e }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	conn := fs.waitConn(t)
	if err := conn.WriteJSON(serverFrame{
		Event:  "INSERT",
		Table:  "messages",
		Record: map[string]any{"id": float64(1), "conversation_id": float64(7), "body": "hola", "timestamp": float64(10)},
	}); err != nil {
		t.Fatal(err)
	}
	// A record for another conversation must not be delivered.
	if err := conn.WriteJSON(serverFrame{
		Event:  "INSERT",
		Table:  "messages",
		Record: map[string]any{"id": float64(2), "conversation_id": float64(8), "timestamp": float64(11)},
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-events:
		if evt.Op != OpInsert || evt.Record["body"] != "hola" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for feed event")
	}

	select {
	case evt := <-events:
		t.Errorf("unexpected event for filtered-out conversation: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSocketDegradesOnDisconnect(t *testing.T) {
	fs, url := newFeedServer(t)
	s := NewSocket(url, nil)
	defer func() { _ = s.Close() }()

	states := make(chan bool, 4)
	s.OnStateChange(func(live bool) { states <- live })

	if _, err := s.Subscribe("conversations", "", func(Event) {}); err != nil {
		t.Fatal(err)
	}

	select {
	case live := <-states:
		if !live {
			t.Fatal("expected live=true after subscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for live state")
	}

	conn := fs.waitConn(t)
	_ = conn.Close()

	select {
	case live := <-states:
		if live {
			t.Fatal("expected live=false after server closed connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for degraded state")
	}
}

func TestSocketFailedSubscribeLeavesNoRegistration(t *testing.T) {
	_, url := newFeedServer(t)
	s := NewSocket(url, nil)
	defer func() { _ = s.Close() }()

	// Install a dead connection so the subscribe frame write fails after
	// the handler has been registered.
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = conn.Close()
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if _, err := s.Subscribe("messages", "conversation_id=eq.7", func(Event) {}); err == nil {
		t.Fatal("Subscribe() should fail when the frame write fails")
	}

	s.mu.Lock()
	n := len(s.subs)
	s.mu.Unlock()
	if n != 0 {
		t.Errorf("registered subscriptions = %d, want 0 after failed subscribe", n)
	}
}

func TestSocketSubscribeFailsWhenEndpointDown(t *testing.T) {
	s := NewSocket("ws://127.0.0.1:1/feed", nil)
	if _, err := s.Subscribe("conversations", "", func(Event) {}); err == nil {
		t.Fatal("Subscribe() should fail when endpoint is unreachable")
	}
}
