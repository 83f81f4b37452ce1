package source

import (
	"fmt"
	"time"
)

// DecodeConversation validates a loose change-feed record and produces a
// strict Conversation. Records missing an id or any timestamp are rejected.
func DecodeConversation(rec map[string]any) (Conversation, error) {
	id, ok := intField(rec, "id")
	if !ok || id <= 0 {
		return Conversation{}, fmt.Errorf("%w: conversation without id", ErrMalformedRow)
	}
	c := Conversation{
		ID:          id,
		Phone:       stringField(rec, "phone"),
		DisplayName: stringField(rec, "display_name"),
		Preview:     stringField(rec, "preview"),
		Status:      stringField(rec, "status"),
	}
	c.LastMessageAt, _ = timeField(rec, "last_message_at")
	c.UpdatedAt, _ = timeField(rec, "updated_at")
	if c.LastMessageAt == 0 && c.UpdatedAt == 0 {
		return Conversation{}, fmt.Errorf("%w: conversation %d without timestamps", ErrMalformedRow, id)
	}
	if n, ok := intField(rec, "unread_count"); ok {
		c.UnreadCount = int(n)
	}
	c.Normalize()
	return c, nil
}

// DecodeMessage validates a loose change-feed record and produces a strict
// Message. Only store-confirmed rows travel the feed, so an id is required.
func DecodeMessage(rec map[string]any) (Message, error) {
	id, ok := intField(rec, "id")
	if !ok || id <= 0 {
		return Message{}, fmt.Errorf("%w: message without id", ErrMalformedRow)
	}
	convoID, ok := intField(rec, "conversation_id")
	if !ok || convoID <= 0 {
		return Message{}, fmt.Errorf("%w: message %d without conversation id", ErrMalformedRow, id)
	}
	ts, ok := timeField(rec, "timestamp")
	if !ok || ts <= 0 {
		return Message{}, fmt.Errorf("%w: message %d without timestamp", ErrMalformedRow, id)
	}
	return Message{
		ID:             id,
		ConversationID: convoID,
		Inbound:        boolField(rec, "inbound"),
		Body:           stringField(rec, "body"),
		Timestamp:      ts,
		Read:           boolField(rec, "is_read"),
	}, nil
}

func intField(rec map[string]any, key string) (int64, bool) {
	switch v := rec[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		// JSON numbers decode as float64.
		return int64(v), true
	default:
		return 0, false
	}
}

func stringField(rec map[string]any, key string) string {
	s, _ := rec[key].(string)
	return s
}

func boolField(rec map[string]any, key string) bool {
	b, _ := rec[key].(bool)
	return b
}

// timeField accepts unix-ms numbers or RFC3339 strings and returns unix ms.
func timeField(rec map[string]any, key string) (int64, bool) {
	if n, ok := intField(rec, key); ok {
		return n, true
	}
	if s, ok := rec[key].(string); ok && s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UnixMilli(), true
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
