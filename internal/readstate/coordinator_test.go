package readstate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/convlist"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/source"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/thread"
)

type fakeSource struct {
	mu        sync.Mutex
	markCalls []int64
	markErr   error
	msgs      []source.Message
}

func (f *fakeSource) MarkConversationRead(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, id)
	return f.markErr
}

func (f *fakeSource) FetchMessages(_ context.Context, convoID int64, _ int64, _ int) (source.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var page []source.Message
	for _, m := range f.msgs {
		if m.ConversationID == convoID {
			page = append(page, m)
		}
	}
	return source.MessagePage{Messages: page}, nil
}

func (f *fakeSource) FetchConversations(context.Context, int64, int) (source.ConversationPage, error) {
	return source.ConversationPage{}, nil
}

func (f *fakeSource) FetchConversation(context.Context, int64) (source.Conversation, error) {
	return source.Conversation{}, source.ErrNotFound
}

func (f *fakeSource) FetchConversationsSince(context.Context, int64) ([]source.Conversation, error) {
	return nil, nil
}

func (f *fakeSource) SearchConversations(context.Context, string, int) ([]source.Conversation, error) {
	return nil, nil
}

func (f *fakeSource) FetchMessagesSince(context.Context, int64, int64) ([]source.Message, error) {
	return nil, nil
}

func (f *fakeSource) InsertMessage(_ context.Context, m source.Message) (source.Message, error) {
	return m, nil
}

func (f *fakeSource) Close() error { return nil }

func unreadConvo(id int64) source.Conversation {
	c := source.Conversation{ID: id, Phone: "5215512345678", UpdatedAt: 100, UnreadCount: 3}
	c.Normalize()
	return c
}

func TestMarkReadClearsLocalAndPersists(t *testing.T) {
	src := &fakeSource{msgs: []source.Message{
		{ID: 1, ConversationID: 7, Inbound: true, Body: "hola", Timestamp: 100},
	}}
	convos := convlist.New(src, nil, nil, 10, 0)
	convos.Upsert(unreadConvo(7))
	threads := thread.New(src, nil, nil, 10)
	if err := threads.Select(context.Background(), 7); err != nil {
		t.Fatal(err)
	}

	c := New(src, convos, threads, nil)
	if err := c.MarkRead(context.Background(), 7); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}

	got, _ := convos.Get(7)
	if got.Unread || got.UnreadCount != 0 {
		t.Errorf("conversation unread = %v/%d, want cleared", got.Unread, got.UnreadCount)
	}
	for _, m := range threads.Snapshot() {
		if m.Inbound && !m.Read {
			t.Errorf("thread message %d still unread", m.ID)
		}
	}
	if len(src.markCalls) != 1 || src.markCalls[0] != 7 {
		t.Errorf("persist calls = %v, want [7]", src.markCalls)
	}
}

func TestMarkReadKeepsLocalStateOnPersistFailure(t *testing.T) {
	src := &fakeSource{markErr: source.ErrSourceUnavailable}
	convos := convlist.New(src, nil, nil, 10, 0)
	convos.Upsert(unreadConvo(3))

	c := New(src, convos, nil, nil)
	err := c.MarkRead(context.Background(), 3)
	if !errors.Is(err, source.ErrSourceUnavailable) {
		t.Fatalf("error = %v, want ErrSourceUnavailable", err)
	}

	got, _ := convos.Get(3)
	if got.Unread || got.UnreadCount != 0 {
		t.Error("local unread state rolled back on persist failure")
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	src := &fakeSource{}
	convos := convlist.New(src, nil, nil, 10, 0)
	convos.Upsert(unreadConvo(5))

	c := New(src, convos, nil, nil)
	for i := 0; i < 3; i++ {
		if err := c.MarkRead(context.Background(), 5); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := convos.Get(5)
	if got.Unread || got.UnreadCount != 0 {
		t.Error("conversation not read after repeated MarkRead")
	}
	if len(src.markCalls) != 3 {
		t.Errorf("persist calls = %d, want 3", len(src.markCalls))
	}
}
