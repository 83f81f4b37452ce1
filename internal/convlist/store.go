// Package convlist maintains the client-visible conversation list:
// ordered by most recent activity, deduplicated, paginated forward with
// a keyset cursor, and updated in place by feed/poll events.
package convlist

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/bus"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/source"
)

// Event is a candidate conversation update submitted for reconciliation.
// Optional fields are nil when the originating row event did not carry them.
type Event struct {
	ID           int64
	OrderingTime int64
	Preview      *string
	UnreadCount  *int
}

// Store owns the in-memory conversation collection. It is the single
// writer; every other component only submits candidate events.
type Store struct {
	src      source.RowSource
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int
	debounce time.Duration

	mu      sync.Mutex
	convos  []source.Conversation
	cursor  int64
	hasMore bool
	loading bool

	searchTerm    string
	searchActive  bool
	searchResults []source.Conversation
	searchTimer   *time.Timer
}

// New creates a conversation list store.
func New(src source.RowSource, b *bus.Bus, logger *zap.Logger, pageSize int, searchDebounce time.Duration) *Store {
	if pageSize <= 0 {
		pageSize = 15
	}
	return &Store{
		src:      src,
		bus:      b,
		logger:   logger,
		pageSize: pageSize,
		debounce: searchDebounce,
	}
}

// LoadInitial fetches the first page. On failure previously loaded data is
// retained and the error is surfaced for a caller-driven retry.
func (s *Store) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.mu.Unlock()

	page, err := s.src.FetchConversations(ctx, 0, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	s.convos = page.Conversations
	s.sortLocked()
	s.cursor = s.edgeLocked()
	s.hasMore = page.HasMore
	return nil
}

// LoadMore fetches the next page behind the cursor. It is a no-op while a
// load is in flight, when no more data exists, or in search mode.
func (s *Store) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.loading || !s.hasMore || s.searchActive {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	cursor := s.cursor
	s.mu.Unlock()

	page, err := s.src.FetchConversations(ctx, cursor, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		return fmt.Errorf("load more conversations: %w", err)
	}

	s.mergeLocked(page.Conversations)
	s.sortLocked()
	s.cursor = s.edgeLocked()
	s.hasMore = page.HasMore
	return nil
}

// ApplyEvent reconciles a conversation update. Unknown ids are ignored: a
// full row must arrive through a page load or an explicit Upsert before
// partial events can touch it. Returns whether the id was known.
// Applying the same event twice yields the same state as applying it once.
func (s *Store) ApplyEvent(ev Event) bool {
	s.mu.Lock()
	i := s.findLocked(ev.ID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	c := &s.convos[i]
	if ev.OrderingTime > c.LastMessageAt {
		c.LastMessageAt = ev.OrderingTime
	}
	if ev.Preview != nil {
		c.Preview = *ev.Preview
	}
	if ev.UnreadCount != nil {
		c.UnreadCount = *ev.UnreadCount
	}
	c.Normalize()
	s.sortLocked()
	s.mu.Unlock()

	s.publish(bus.KindConvoUpdated, ev.ID)
	return true
}

// Upsert reconciles a full conversation row (from a page fetch-by-id or a
// poll result). Inserts when absent, replaces when present.
func (s *Store) Upsert(c source.Conversation) {
	c.Normalize()
	s.mu.Lock()
	if i := s.findLocked(c.ID); i >= 0 {
		// Never move a conversation backwards: a stale poll row must not
		// undo a newer feed event.
		if c.OrderingTime() < s.convos[i].OrderingTime() {
			c.LastMessageAt = s.convos[i].LastMessageAt
			c.UpdatedAt = s.convos[i].UpdatedAt
		}
		s.convos[i] = c
	} else {
		s.convos = append(s.convos, c)
	}
	s.sortLocked()
	s.mu.Unlock()

	s.publish(bus.KindConvoUpdated, c.ID)
}

// MarkReadLocally clears unread state in the local collection only;
// persistence is the read-state coordinator's job.
func (s *Store) MarkReadLocally(id int64) {
	s.mu.Lock()
	if i := s.findLocked(id); i >= 0 {
		s.convos[i].Unread = false
		s.convos[i].UnreadCount = 0
	}
	s.mu.Unlock()
	s.publish(bus.KindConvoRead, id)
}

// SetSearchTerm enters or leaves search mode. The query itself is issued
// after the debounce window so rapid typing does not cause request storms.
func (s *Store) SetSearchTerm(ctx context.Context, term string) {
	s.mu.Lock()
	if s.searchTimer != nil {
		s.searchTimer.Stop()
		s.searchTimer = nil
	}
	s.searchTerm = term
	if term == "" {
		s.searchActive = false
		s.searchResults = nil
		s.mu.Unlock()
		return
	}
	s.searchActive = true
	s.searchTimer = time.AfterFunc(s.debounce, func() {
		s.runSearch(ctx, term)
	})
	s.mu.Unlock()
}

func (s *Store) runSearch(ctx context.Context, term string) {
	results, err := s.src.SearchConversations(ctx, term, s.pageSize)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("conversation search failed", zap.String("term", term), zap.Error(err))
		}
		return
	}
	s.mu.Lock()
	// Discard if the term changed while the query was in flight.
	if s.searchActive && s.searchTerm == term {
		s.searchResults = results
	}
	s.mu.Unlock()
}

// Snapshot returns the visible list: search results in search mode,
// otherwise the synchronized collection.
func (s *Store) Snapshot() []source.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.convos
	if s.searchActive {
		src = s.searchResults
	}
	out := make([]source.Conversation, len(src))
	copy(out, src)
	return out
}

// Get returns the conversation with the given id, if loaded.
func (s *Store) Get(id int64) (source.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findLocked(id); i >= 0 {
		return s.convos[i], true
	}
	return source.Conversation{}, false
}

// HasMore reports whether more pages may exist beyond the cursor.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// SearchActive reports whether search mode currently suppresses
// pagination and polling.
func (s *Store) SearchActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchActive
}

// Watermark returns the newest fully reconciled ordering timestamp.
func (s *Store) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.convos) == 0 {
		return 0
	}
	return s.convos[0].OrderingTime()
}

// mergeLocked folds a fetched page into the collection, deduplicating by
// id. Rows already present keep their newer local ordering timestamps.
func (s *Store) mergeLocked(page []source.Conversation) {
	for _, c := range page {
		c.Normalize()
		i := s.findLocked(c.ID)
		if i < 0 {
			s.convos = append(s.convos, c)
			continue
		}
		if c.OrderingTime() < s.convos[i].OrderingTime() {
			c.LastMessageAt = s.convos[i].LastMessageAt
			c.UpdatedAt = s.convos[i].UpdatedAt
		}
		s.convos[i] = c
	}
}

func (s *Store) findLocked(id int64) int {
	for i := range s.convos {
		if s.convos[i].ID == id {
			return i
		}
	}
	return -1
}

// sortLocked re-derives the visible order after every mutation. The sort
// is stable: ties keep their relative order.
func (s *Store) sortLocked() {
	sort.SliceStable(s.convos, func(i, j int) bool {
		return s.convos[i].OrderingTime() > s.convos[j].OrderingTime()
	})
}

// edgeLocked returns the oldest loaded ordering timestamp, the keyset
// cursor for the next page.
func (s *Store) edgeLocked() int64 {
	if len(s.convos) == 0 {
		return 0
	}
	return s.convos[len(s.convos)-1].OrderingTime()
}

func (s *Store) publish(kind string, id int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: id})
}
