package source

// Conversation status values as stored by the remote service.
const (
	StatusOpen    = "open"
	StatusPending = "pending"
	StatusClosed  = "closed"
)

// Conversation represents one contact thread.
type Conversation struct {
	ID          int64
	Phone       string // secondary natural key used by ingestion
	DisplayName string
	Preview     string
	// LastMessageAt is the timestamp of the latest constituent message
	// (unix ms). Zero when the remote row carries no message data.
	LastMessageAt int64
	// UpdatedAt is the row's own update timestamp (unix ms). It can lag
	// behind LastMessageAt and must not be used for ordering directly.
	UpdatedAt   int64
	Unread      bool
	UnreadCount int
	Status      string
}

// OrderingTime returns the timestamp conversations are sorted by. The
// derived latest-message timestamp wins over the row's own update
// timestamp; the row timestamp is only a fallback.
func (c *Conversation) OrderingTime() int64 {
	if c.LastMessageAt > 0 {
		return c.LastMessageAt
	}
	return c.UpdatedAt
}

// Normalize enforces the unread invariant: unread count > 0 ⇔ unread flag.
func (c *Conversation) Normalize() {
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	c.Unread = c.UnreadCount > 0
	if c.Status == "" {
		c.Status = StatusOpen
	}
}

// Message is one inbound or outbound text unit.
type Message struct {
	// ID is the store-assigned identity; zero while an optimistic send
	// is still pending.
	ID int64
	// TempID is the locally generated identity carried by optimistic
	// entries until the store confirms the write.
	TempID         string
	ConversationID int64
	Inbound        bool
	Body           string
	Timestamp      int64 // unix ms
	Read           bool
}

// Confirmed reports whether the message carries a store-assigned identity.
func (m *Message) Confirmed() bool {
	return m.ID > 0
}

// ConversationPage is one page of conversations plus a "more beyond this
// edge" hint.
type ConversationPage struct {
	Conversations []Conversation
	HasMore       bool
}

// MessagePage is one page of messages plus a "more beyond this edge" hint.
type MessagePage struct {
	Messages []Message
	HasMore  bool
}
