// Package sync composes the conversation list, the message thread, the
// change feed and the health machine into one reconciliation engine.
// Every update path, feed event, poll result or page load, funnels into
// the same store operations, so applying updates is idempotent and order
// independent.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/convlist"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/feed"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/source"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/status"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/thread"
)

// Engine drives synchronization: it subscribes to the change feed, routes
// row events into the stores, and exposes the tick functions the poll
// drivers run when they sweep the same tables.
type Engine struct {
	src     source.RowSource
	feed    feed.Listener
	convos  *convlist.Store
	threads *thread.Store
	machine *status.Machine
	logger  *zap.Logger

	mu       sync.Mutex
	convoSub feed.Subscription
	msgSub   feed.Subscription
}

// New creates the engine. Components are wired, not started; call Start.
func New(src source.RowSource, f feed.Listener, convos *convlist.Store, threads *thread.Store, machine *status.Machine, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		src:     src,
		feed:    f,
		convos:  convos,
		threads: threads,
		machine: machine,
		logger:  logger,
	}
}

// Start loads the first conversation page and subscribes to the
// conversations feed. A failed initial load or subscription does not
// abort startup: the engine degrades and the poll drivers carry updates
// until the paths recover.
func (e *Engine) Start(ctx context.Context) error {
	e.feed.OnStateChange(func(live bool) {
		to := status.Degraded
		if live {
			to = status.Live
		}
		if err := e.machine.Transition(to); err != nil {
			e.logger.Warn("feed state change rejected", zap.Error(err))
		}
	})

	if err := e.convos.LoadInitial(ctx); err != nil {
		e.logger.Warn("initial conversation load failed", zap.Error(err))
	}

	sub, err := e.feed.Subscribe(source.TableConversations, "", e.handleConvoEvent)
	if err != nil {
		e.logger.Warn("conversation feed subscribe failed, polling only", zap.Error(err))
		if terr := e.machine.Transition(status.Degraded); terr != nil {
			e.logger.Warn("status transition failed", zap.Error(terr))
		}
		return nil
	}
	e.mu.Lock()
	e.convoSub = sub
	e.mu.Unlock()

	if err := e.machine.Transition(status.Live); err != nil {
		e.logger.Warn("status transition failed", zap.Error(err))
	}
	return nil
}

// Stop tears down feed subscriptions and marks the engine stopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.msgSub != nil {
		e.msgSub.Unsubscribe()
		e.msgSub = nil
	}
	if e.convoSub != nil {
		e.convoSub.Unsubscribe()
		e.convoSub = nil
	}
	e.mu.Unlock()
	if err := e.machine.Transition(status.Stopped); err != nil {
		e.logger.Warn("status transition failed", zap.Error(err))
	}
}

// SelectConversation makes a conversation active: the message feed
// subscription is swapped to its rows and its thread is loaded. A failed
// message subscription degrades to polling only; it does not fail the
// selection.
func (e *Engine) SelectConversation(ctx context.Context, id int64) error {
	e.mu.Lock()
	if e.msgSub != nil {
		e.msgSub.Unsubscribe()
		e.msgSub = nil
	}
	e.mu.Unlock()

	filter := "conversation_id=eq." + strconv.FormatInt(id, 10)
	sub, err := e.feed.Subscribe(source.TableMessages, filter, e.handleMessageEvent)
	if err != nil {
		e.logger.Warn("message feed subscribe failed, polling only",
			zap.Int64("conversation_id", id), zap.Error(err))
		if terr := e.machine.Transition(status.Degraded); terr != nil {
			e.logger.Warn("status transition failed", zap.Error(terr))
		}
	} else {
		e.mu.Lock()
		e.msgSub = sub
		e.mu.Unlock()
	}

	return e.threads.Select(ctx, id)
}

// PollConversations is the conversation poll tick: fetch everything newer
// than the list watermark and reconcile it. Re-running with no new rows
// changes nothing.
func (e *Engine) PollConversations(ctx context.Context) error {
	rows, err := e.src.FetchConversationsSince(ctx, e.convos.Watermark())
	if err != nil {
		return fmt.Errorf("poll conversations: %w", err)
	}
	for _, c := range rows {
		e.convos.Upsert(c)
	}
	return nil
}

// PollMessages is the message poll tick for the active thread. A no-op
// when no conversation is selected.
func (e *Engine) PollMessages(ctx context.Context) error {
	id := e.threads.ActiveID()
	if id == 0 {
		return nil
	}
	msgs, err := e.src.FetchMessagesSince(ctx, id, e.threads.Watermark())
	if err != nil {
		return fmt.Errorf("poll messages: %w", err)
	}
	for _, m := range msgs {
		e.threads.Apply(m)
	}
	return nil
}

// handleConvoEvent reconciles a conversation row event. Known ids are
// patched in place; an event for a conversation outside the loaded window
// triggers a fetch of the authoritative row before insertion, so partial
// events never materialize half-filled entries.
func (e *Engine) handleConvoEvent(ev feed.Event) {
	c, err := source.DecodeConversation(ev.Record)
	if err != nil {
		e.logger.Warn("malformed conversation event dropped", zap.Error(err))
		return
	}

	update := convlist.Event{ID: c.ID, OrderingTime: c.OrderingTime()}
	if _, ok := ev.Record["preview"]; ok {
		update.Preview = &c.Preview
	}
	if _, ok := ev.Record["unread_count"]; ok {
		update.UnreadCount = &c.UnreadCount
	}
	if e.convos.ApplyEvent(update) {
		return
	}

	row, err := e.src.FetchConversation(context.Background(), c.ID)
	switch {
	case err == nil:
		e.convos.Upsert(row)
	case errors.Is(err, source.ErrNotFound):
		// Row deleted between the event and the fetch; nothing to show.
	default:
		e.logger.Warn("conversation fetch after feed event failed",
			zap.Int64("conversation_id", c.ID), zap.Error(err))
		// The event row itself is complete enough to display; the next
		// poll sweep replaces it with the authoritative version.
		e.convos.Upsert(c)
	}
}

// handleMessageEvent reconciles a message row event into the active
// thread and bumps its conversation's activity.
func (e *Engine) handleMessageEvent(ev feed.Event) {
	m, err := source.DecodeMessage(ev.Record)
	if err != nil {
		e.logger.Warn("malformed message event dropped", zap.Error(err))
		return
	}
	e.threads.Apply(m)
	e.convos.ApplyEvent(convlist.Event{
		ID:           m.ConversationID,
		OrderingTime: m.Timestamp,
		Preview:      &m.Body,
	})
}
