// Package readstate coordinates marking conversations as read across the
// local collections and the row source.
package readstate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/convlist"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/source"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/thread"
)

// Coordinator applies read-state transitions locally first, then persists
// them. A failed persist is logged and left to the next sync cycle; the
// local clear is not rolled back, so the user never sees a badge flicker
// back.
type Coordinator struct {
	src     source.RowSource
	convos  *convlist.Store
	threads *thread.Store
	logger  *zap.Logger
}

// New creates a read-state coordinator.
func New(src source.RowSource, convos *convlist.Store, threads *thread.Store, logger *zap.Logger) *Coordinator {
	return &Coordinator{src: src, convos: convos, threads: threads, logger: logger}
}

// MarkRead clears the unread state of a conversation. Safe to call for
// conversations that are already read; the store-side update is
// idempotent as well.
func (c *Coordinator) MarkRead(ctx context.Context, convoID int64) error {
	c.convos.MarkReadLocally(convoID)
	if c.threads != nil && c.threads.ActiveID() == convoID {
		c.threads.MarkReadLocally()
	}

	if err := c.src.MarkConversationRead(ctx, convoID); err != nil {
		if c.logger != nil {
			c.logger.Warn("mark read persist failed, local state kept",
				zap.Int64("conversation_id", convoID), zap.Error(err))
		}
		return fmt.Errorf("mark conversation %d read: %w", convoID, err)
	}
	return nil
}
