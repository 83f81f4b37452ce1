package daemon

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/bus"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/convlist"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/feed"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/lock"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/readstate"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/source"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/status"
	intsync "github.com/Novaisolutions/TOI-MONITOR-sub001/internal/sync"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/thread"
)

// TestServiceLifecycle composes the daemon by hand, the way the fx module
// does, and walks one full user flow against a real sqlite row source.
func TestServiceLifecycle(t *testing.T) {
	tmpDir := t.TempDir()

	lk, err := lock.Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	src, err := source.OpenSQLite(filepath.Join(tmpDir, "monitor.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	ctx := context.Background()
	convo, err := src.InsertConversation(ctx, source.Conversation{
		Phone:       "5215511110001",
		DisplayName: "laura",
		UpdatedAt:   1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.InsertMessage(ctx, source.Message{
		ConversationID: convo.ID, Inbound: true, Body: "hola", Timestamp: 1100,
	}); err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	mfeed := feed.NewMemory()
	convos := convlist.New(src, b, logger, 15, 0)
	threads := thread.New(src, b, logger, 50)
	rs := readstate.New(src, convos, threads, logger)
	engine := intsync.New(src, mfeed, convos, threads, machine, logger)
	svc := NewService(engine, convos, threads, rs, machine)

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("engine.Start() error = %v", err)
	}
	if got := svc.FeedState(); got != status.Live {
		t.Errorf("FeedState() = %v, want LIVE", got)
	}

	list := svc.Conversations()
	if len(list) != 1 || !list[0].Unread {
		t.Fatalf("Conversations() = %+v, want one unread conversation", list)
	}

	// Opening loads the thread and clears the unread badge locally and
	// in the store.
	if err := svc.Open(ctx, convo.ID); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if msgs := svc.Messages(); len(msgs) != 1 || msgs[0].Body != "hola" {
		t.Fatalf("Messages() = %+v", msgs)
	}
	if got := svc.Conversations(); got[0].Unread {
		t.Error("conversation still unread after Open")
	}
	row, err := src.FetchConversation(ctx, convo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Unread || row.UnreadCount != 0 {
		t.Errorf("store row = %+v, want read", row)
	}

	if err := svc.Send(ctx, "buenas"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	msgs := svc.Messages()
	if len(msgs) != 2 || !msgs[1].Confirmed() || msgs[1].Body != "buenas" {
		t.Fatalf("Messages() after send = %+v", msgs)
	}
	if got := svc.Conversations(); got[0].Preview != "buenas" {
		t.Errorf("preview = %q, want send folded into conversation", got[0].Preview)
	}

	engine.Stop()
	if got := svc.FeedState(); got != status.Stopped {
		t.Errorf("FeedState() = %v, want STOPPED", got)
	}
}
