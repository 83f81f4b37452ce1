package source

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func testSource(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConversation(t *testing.T, s *SQLite, phone string, updatedAt int64) Conversation {
	t.Helper()
	c, err := s.InsertConversation(context.Background(), Conversation{
		Phone:     phone,
		UpdatedAt: updatedAt,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFetchConversationsPagination(t *testing.T) {
	s := testSource(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		seedConversation(t, s, "555000"+string(rune('0'+i)), i*1000)
	}

	page, err := s.FetchConversations(ctx, 0, 2)
	if err != nil {
		t.Fatalf("FetchConversations() error = %v", err)
	}
	if len(page.Conversations) != 2 || !page.HasMore {
		t.Fatalf("got %d conversations, hasMore=%v; want 2, true", len(page.Conversations), page.HasMore)
	}
	if page.Conversations[0].OrderingTime() != 5000 || page.Conversations[1].OrderingTime() != 4000 {
		t.Errorf("page not ordered by activity descending: %+v", page.Conversations)
	}

	// Next page via cursor.
	cursor := page.Conversations[1].OrderingTime()
	page2, err := s.FetchConversations(ctx, cursor, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Conversations) != 2 || page2.Conversations[0].OrderingTime() != 3000 {
		t.Errorf("page2 = %+v", page2.Conversations)
	}

	// Last page terminates.
	page3, err := s.FetchConversations(ctx, page2.Conversations[1].OrderingTime(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page3.Conversations) != 1 || page3.HasMore {
		t.Errorf("got %d conversations, hasMore=%v; want 1, false", len(page3.Conversations), page3.HasMore)
	}
}

func TestOrderingPrefersMessageTimestamp(t *testing.T) {
	s := testSource(t)
	ctx := context.Background()

	// Conversation A touched recently at row level but with an old last message.
	a, err := s.InsertConversation(ctx, Conversation{Phone: "111", LastMessageAt: 1000, UpdatedAt: 9000})
	if err != nil {
		t.Fatal(err)
	}
	// Conversation B with a newer last message.
	b, err := s.InsertConversation(ctx, Conversation{Phone: "222", LastMessageAt: 5000, UpdatedAt: 2000})
	if err != nil {
		t.Fatal(err)
	}

	page, err := s.FetchConversations(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Conversations) != 2 {
		t.Fatalf("got %d conversations", len(page.Conversations))
	}
	if page.Conversations[0].ID != b.ID || page.Conversations[1].ID != a.ID {
		t.Errorf("order = [%d %d], want [%d %d] (message time wins over row time)",
			page.Conversations[0].ID, page.Conversations[1].ID, b.ID, a.ID)
	}
}

func TestFetchConversationNotFound(t *testing.T) {
	s := testSource(t)
	_, err := s.FetchConversation(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestInsertMessageUpdatesConversation(t *testing.T) {
	s := testSource(t)
	ctx := context.Background()
	c := seedConversation(t, s, "555", 1000)

	confirmed, err := s.InsertMessage(ctx, Message{
		ConversationID: c.ID, Inbound: true, Body: "hola, info del depto?", Timestamp: 2000,
	})
	if err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}
	if !confirmed.Confirmed() {
		t.Error("confirmed message has no store id")
	}

	got, err := s.FetchConversation(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessageAt != 2000 {
		t.Errorf("LastMessageAt = %d, want 2000", got.LastMessageAt)
	}
	if got.Preview != "hola, info del depto?" {
		t.Errorf("Preview = %q", got.Preview)
	}
	if !got.Unread || got.UnreadCount != 1 {
		t.Errorf("unread = %v/%d, want true/1", got.Unread, got.UnreadCount)
	}

	// Outbound messages do not bump unread.
	if _, err := s.InsertMessage(ctx, Message{ConversationID: c.ID, Body: "claro", Timestamp: 3000}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.FetchConversation(ctx, c.ID)
	if got.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1 after outbound", got.UnreadCount)
	}
}

func TestPreviewTruncationRuneBoundary(t *testing.T) {
	s := testSource(t)
	ctx := context.Background()
	c := seedConversation(t, s, "555", 1000)

	// The multi-byte rune straddles the preview byte limit; the cut must
	// land on a rune boundary, never mid-character.
	body := strings.Repeat("a", 99) + "ñandú"
	if _, err := s.InsertMessage(ctx, Message{ConversationID: c.ID, Body: body, Timestamp: 2000}); err != nil {
		t.Fatal(err)
	}

	got, err := s.FetchConversation(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(got.Preview) {
		t.Errorf("Preview = %q is not valid UTF-8", got.Preview)
	}
	if want := strings.Repeat("a", 99); got.Preview != want {
		t.Errorf("Preview = %q, want %q", got.Preview, want)
	}
}

func TestFetchMessagesKeysetPagination(t *testing.T) {
	s := testSource(t)
	ctx := context.Background()
	c := seedConversation(t, s, "555", 1)

	for i := int64(1); i <= 5; i++ {
		if _, err := s.InsertMessage(ctx, Message{ConversationID: c.ID, Body: "m", Timestamp: i * 10}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.FetchMessages(ctx, c.ID, 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 3 || !page.HasMore {
		t.Fatalf("got %d messages, hasMore=%v", len(page.Messages), page.HasMore)
	}
	if page.Messages[0].Timestamp != 50 || page.Messages[2].Timestamp != 30 {
		t.Errorf("messages not newest-first: %+v", page.Messages)
	}

	older, err := s.FetchMessages(ctx, c.ID, 30, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(older.Messages) != 2 || older.HasMore {
		t.Errorf("got %d older messages, hasMore=%v; want 2, false", len(older.Messages), older.HasMore)
	}
}

func TestFetchMessagesSince(t *testing.T) {
	s := testSource(t)
	ctx := context.Background()
	c := seedConversation(t, s, "555", 1)

	for i := int64(1); i <= 3; i++ {
		if _, err := s.InsertMessage(ctx, Message{ConversationID: c.ID, Body: "m", Timestamp: i * 10}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.FetchMessagesSince(ctx, c.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages since 10, want 2", len(msgs))
	}
	if msgs[0].Timestamp != 20 || msgs[1].Timestamp != 30 {
		t.Errorf("since results not ascending: %+v", msgs)
	}
}

func TestMarkConversationReadIdempotent(t *testing.T) {
	s := testSource(t)
	ctx := context.Background()
	c := seedConversation(t, s, "555", 1)
	if _, err := s.InsertMessage(ctx, Message{ConversationID: c.ID, Inbound: true, Body: "x", Timestamp: 10}); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkConversationRead(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkConversationRead(ctx, c.ID); err != nil {
		t.Errorf("second MarkConversationRead() error = %v", err)
	}

	got, _ := s.FetchConversation(ctx, c.ID)
	if got.Unread || got.UnreadCount != 0 {
		t.Errorf("unread = %v/%d, want false/0", got.Unread, got.UnreadCount)
	}
	msgs, _ := s.FetchMessagesSince(ctx, c.ID, 0)
	if len(msgs) != 1 || !msgs[0].Read {
		t.Errorf("message read flag not set: %+v", msgs)
	}
}

func TestSearchConversations(t *testing.T) {
	s := testSource(t)
	ctx := context.Background()
	if _, err := s.InsertConversation(ctx, Conversation{Phone: "5215511112222", DisplayName: "Laura Mtz", UpdatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertConversation(ctx, Conversation{Phone: "5215533334444", DisplayName: "Pedro", UpdatedAt: 2}); err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchConversations(ctx, "laura", 10)
	if err != nil {
		t.Fatal(err)
	}
	// SQLite LIKE is case-insensitive for ASCII.
	if len(got) != 1 || got[0].DisplayName != "Laura Mtz" {
		t.Errorf("search result = %+v", got)
	}
}
