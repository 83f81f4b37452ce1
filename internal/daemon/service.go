package daemon

import (
	"context"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/convlist"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/readstate"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/source"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/status"
	intsync "github.com/Novaisolutions/TOI-MONITOR-sub001/internal/sync"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/thread"
)

// Service is the embedding surface for presentation layers: every user
// action maps to one method here, and updates flow back over the bus.
type Service struct {
	engine    *intsync.Engine
	convos    *convlist.Store
	threads   *thread.Store
	readstate *readstate.Coordinator
	machine   *status.Machine
}

// NewService wires the user-facing operations over the sync core.
func NewService(engine *intsync.Engine, convos *convlist.Store, threads *thread.Store, rs *readstate.Coordinator, machine *status.Machine) *Service {
	return &Service{
		engine:    engine,
		convos:    convos,
		threads:   threads,
		readstate: rs,
		machine:   machine,
	}
}

// Conversations returns the current conversation list view.
func (s *Service) Conversations() []source.Conversation {
	return s.convos.Snapshot()
}

// LoadMoreConversations extends the list by one page.
func (s *Service) LoadMoreConversations(ctx context.Context) error {
	return s.convos.LoadMore(ctx)
}

// Search sets the conversation search term; empty leaves search mode.
func (s *Service) Search(ctx context.Context, term string) {
	s.convos.SetSearchTerm(ctx, term)
}

// Open makes a conversation active, loads its thread and clears its
// unread state.
func (s *Service) Open(ctx context.Context, convoID int64) error {
	if err := s.engine.SelectConversation(ctx, convoID); err != nil {
		return err
	}
	return s.readstate.MarkRead(ctx, convoID)
}

// Messages returns the active thread, oldest first.
func (s *Service) Messages() []source.Message {
	return s.threads.Snapshot()
}

// LoadOlderMessages extends the active thread backwards by one page.
func (s *Service) LoadOlderMessages(ctx context.Context) error {
	return s.threads.LoadOlder(ctx)
}

// Send writes an outbound message into the active conversation.
func (s *Service) Send(ctx context.Context, body string) error {
	if err := s.threads.Send(ctx, body); err != nil {
		return err
	}
	// The write advanced the conversation row; sweep it into the list
	// now instead of waiting for the next poll tick.
	_ = s.engine.PollConversations(ctx)
	return nil
}

// MarkRead clears a conversation's unread state.
func (s *Service) MarkRead(ctx context.Context, convoID int64) error {
	return s.readstate.MarkRead(ctx, convoID)
}

// FeedState reports the health of the update delivery path.
func (s *Service) FeedState() status.State {
	return s.machine.Current()
}
