// Package thread maintains the message collection for the currently
// selected conversation: ascending by timestamp, paginated backwards,
// with optimistic sends reconciled against store confirmations.
package thread

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/bus"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/source"
)

// State describes the thread lifecycle for the active conversation.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Store owns the active conversation's messages. Like the conversation
// list it is the single writer; responses from a superseded selection are
// discarded by generation check.
type Store struct {
	src      source.RowSource
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int

	mu           sync.Mutex
	activeID     int64
	state        State
	msgs         []source.Message // ascending by timestamp
	hasMore      bool
	loadingOlder bool
	gen          uint64
	watermark    int64
}

// New creates a message thread store.
func New(src source.RowSource, b *bus.Bus, logger *zap.Logger, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Store{src: src, bus: b, logger: logger, pageSize: pageSize}
}

// Select switches the thread to the given conversation and loads its most
// recent page. Selecting the already active conversation is a no-op. If a
// newer Select happens while this load is in flight, the late response is
// discarded instead of overwriting the newer thread.
func (s *Store) Select(ctx context.Context, id int64) error {
	s.mu.Lock()
	if id == s.activeID && s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.activeID = id
	s.state = StateLoading
	s.msgs = nil
	s.hasMore = false
	s.loadingOlder = false
	s.watermark = 0
	s.mu.Unlock()

	page, err := s.src.FetchMessages(ctx, id, 0, s.pageSize)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.state = StateIdle
		s.mu.Unlock()
		return fmt.Errorf("load thread %d: %w", id, err)
	}
	// Rows reconciled or sent while the fetch was in flight are already
	// in the collection; fold the page in around them instead of
	// replacing, or those rows would be lost for good (their timestamps
	// already advanced the watermark, so no later poll re-delivers them).
	for _, m := range page.Messages {
		if s.findByIDLocked(m.ID) < 0 {
			s.msgs = append(s.msgs, m)
		}
	}
	s.sortLocked()
	s.hasMore = page.HasMore
	s.state = StateReady
	s.advanceWatermarkLocked()
	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, id)
	return nil
}

// LoadOlder prepends the page behind the oldest loaded message. It is a
// no-op while the thread is not ready, while a page load is in flight, or
// when history is exhausted.
func (s *Store) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady || s.loadingOlder || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	s.loadingOlder = true
	gen := s.gen
	id := s.activeID
	cursor := int64(0)
	if len(s.msgs) > 0 {
		cursor = s.msgs[0].Timestamp
	}
	s.mu.Unlock()

	page, err := s.src.FetchMessages(ctx, id, cursor, s.pageSize)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.loadingOlder = false
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load older messages: %w", err)
	}
	s.msgs = append(reverse(page.Messages), s.msgs...)
	s.hasMore = page.HasMore
	s.sortLocked()
	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, id)
	return nil
}

// Send writes an outbound message. The entry appears in the thread
// immediately under a temporary identity; on confirmation it is replaced
// in place, on failure it is removed and the error surfaced.
func (s *Store) Send(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("send: empty message body")
	}

	s.mu.Lock()
	if s.activeID == 0 || s.state == StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("send: no active conversation")
	}
	gen := s.gen
	id := s.activeID
	temp := source.Message{
		TempID:         uuid.NewString(),
		ConversationID: id,
		Inbound:        false,
		Body:           body,
		Timestamp:      time.Now().UnixMilli(),
		Read:           true,
	}
	s.msgs = append(s.msgs, temp)
	s.mu.Unlock()
	s.publish(bus.KindMessageUpserted, id)

	confirmed, err := s.src.InsertMessage(ctx, temp)

	s.mu.Lock()
	if gen != s.gen {
		// The thread was switched away mid-send. The pending entry is
		// already gone; the write outcome only matters as an error.
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("send message: %w: %w", source.ErrStaleWrite, err)
		}
		return nil
	}
	if err != nil {
		s.removeTempLocked(temp.TempID)
		s.mu.Unlock()
		s.publish(bus.KindMessageSendFailed, temp.TempID)
		return fmt.Errorf("send message: %w: %w", source.ErrStaleWrite, err)
	}
	if s.findByIDLocked(confirmed.ID) >= 0 {
		// The feed echoed the confirmed row before the write returned.
		s.removeTempLocked(temp.TempID)
	} else if i := s.findByTempLocked(temp.TempID); i >= 0 {
		s.msgs[i] = confirmed
		s.sortLocked()
	}
	s.advanceWatermarkLocked()
	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, id)
	return nil
}

// Apply reconciles a confirmed message row from the feed or a poll into
// the active thread. Rows for other conversations and duplicate
// deliveries leave the thread unchanged; out-of-order arrivals land at
// their timestamp position. Returns whether the row was applied.
func (s *Store) Apply(m source.Message) bool {
	if !m.Confirmed() {
		return false
	}
	s.mu.Lock()
	if m.ConversationID != s.activeID || s.state == StateIdle {
		s.mu.Unlock()
		return false
	}
	if i := s.findByIDLocked(m.ID); i >= 0 {
		s.msgs[i] = m
	} else {
		s.msgs = append(s.msgs, m)
		s.sortLocked()
	}
	s.advanceWatermarkLocked()
	s.mu.Unlock()

	s.publish(bus.KindMessageUpserted, m.ConversationID)
	return true
}

// MarkReadLocally flips every inbound message in the active thread to
// read; persistence is the read-state coordinator's job.
func (s *Store) MarkReadLocally() {
	s.mu.Lock()
	for i := range s.msgs {
		if s.msgs[i].Inbound {
			s.msgs[i].Read = true
		}
	}
	id := s.activeID
	s.mu.Unlock()
	if id != 0 {
		s.publish(bus.KindConvoRead, id)
	}
}

// Snapshot returns the loaded messages in ascending timestamp order.
func (s *Store) Snapshot() []source.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]source.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// ActiveID returns the selected conversation id, zero when none.
func (s *Store) ActiveID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// State returns the thread lifecycle state.
func (s *Store) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HasMore reports whether older history exists beyond the loaded window.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Watermark returns the newest confirmed message timestamp seen for the
// active thread, the low bound for incremental polls.
func (s *Store) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

func (s *Store) findByIDLocked(id int64) int {
	if id == 0 {
		return -1
	}
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) findByTempLocked(tempID string) int {
	for i := range s.msgs {
		if s.msgs[i].TempID == tempID {
			return i
		}
	}
	return -1
}

func (s *Store) removeTempLocked(tempID string) {
	if i := s.findByTempLocked(tempID); i >= 0 {
		s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	}
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].Timestamp < s.msgs[j].Timestamp
	})
}

// advanceWatermarkLocked moves the watermark to the newest confirmed
// timestamp. It never moves backwards.
func (s *Store) advanceWatermarkLocked() {
	for i := range s.msgs {
		if s.msgs[i].Confirmed() && s.msgs[i].Timestamp > s.watermark {
			s.watermark = s.msgs[i].Timestamp
		}
	}
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// reverse flips a newest-first page into display order.
func reverse(msgs []source.Message) []source.Message {
	out := make([]source.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
