package source

import "context"

// Table names shared by the row source and the change feed.
const (
	TableConversations = "conversations"
	TableMessages      = "messages"
)

// RowSource is the adapter contract over the remote data store. It is the
// only boundary through which the sync core touches remote rows. Every
// call is a suspension point: implementations must be safe to call while
// feed/poll events are being applied concurrently.
type RowSource interface {
	// FetchConversations returns up to limit conversations whose ordering
	// timestamp is strictly older than before (unix ms), most recent
	// first. before <= 0 means "from the top".
	FetchConversations(ctx context.Context, before int64, limit int) (ConversationPage, error)
	// FetchConversation returns a single conversation by id, or ErrNotFound.
	FetchConversation(ctx context.Context, id int64) (Conversation, error)
	// FetchConversationsSince returns conversations whose ordering
	// timestamp is strictly newer than the watermark, oldest first.
	FetchConversationsSince(ctx context.Context, watermark int64) ([]Conversation, error)
	// SearchConversations matches term against phone, name and preview.
	SearchConversations(ctx context.Context, term string, limit int) ([]Conversation, error)

	// FetchMessages returns up to limit messages of a conversation with
	// timestamp strictly older than before (unix ms), newest first.
	FetchMessages(ctx context.Context, convoID int64, before int64, limit int) (MessagePage, error)
	// FetchMessagesSince returns messages of a conversation with
	// timestamp strictly newer than the watermark, oldest first.
	FetchMessagesSince(ctx context.Context, convoID int64, watermark int64) ([]Message, error)
	// InsertMessage writes a message and returns the confirmed row with
	// its store-assigned identity.
	InsertMessage(ctx context.Context, m Message) (Message, error)
	// MarkConversationRead clears the unread state of a conversation.
	// Repeated calls are safe no-ops.
	MarkConversationRead(ctx context.Context, convoID int64) error

	Close() error
}
