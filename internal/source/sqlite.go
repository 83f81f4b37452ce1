package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"
)

// orderingExpr is the SQL rendering of Conversation.OrderingTime: the
// derived latest-message timestamp wins, the row timestamp is a fallback.
const orderingExpr = "CASE WHEN last_message_at > 0 THEN last_message_at ELSE updated_at END"

// SQLite is the embedded row source implementation. It backs local
// installs and tests with the same contract the hosted store serves.
type SQLite struct {
	db *sql.DB
}

var _ RowSource = (*SQLite)(nil)

// OpenSQLite opens the database with WAL mode and recommended pragmas.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const conversationCols = "id, phone, display_name, preview, last_message_at, updated_at, unread, unread_count, status"

func scanConversation(row interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Phone, &c.DisplayName, &c.Preview,
		&c.LastMessageAt, &c.UpdatedAt, &c.Unread, &c.UnreadCount, &c.Status)
	if err != nil {
		return Conversation{}, err
	}
	c.Normalize()
	return c, nil
}

// FetchConversations returns one page ordered by activity descending.
func (s *SQLite) FetchConversations(ctx context.Context, before int64, limit int) (ConversationPage, error) {
	if limit <= 0 {
		limit = 15
	}
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE `+orderingExpr+` < ?
		ORDER BY `+orderingExpr+` DESC
		LIMIT ?`, before, limit)
	if err != nil {
		return ConversationPage{}, fmt.Errorf("fetch conversations: %w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var convos []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return ConversationPage{}, fmt.Errorf("scan conversation: %w", err)
		}
		convos = append(convos, c)
	}
	if err := rows.Err(); err != nil {
		return ConversationPage{}, fmt.Errorf("fetch conversations: %w: %w", ErrSourceUnavailable, err)
	}
	return ConversationPage{Conversations: convos, HasMore: len(convos) == limit}, nil
}

// FetchConversation returns a single conversation by id.
func (s *SQLite) FetchConversation(ctx context.Context, id int64) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("fetch conversation: %w: %w", ErrSourceUnavailable, err)
	}
	return c, nil
}

// FetchConversationsSince returns conversations changed after the watermark.
func (s *SQLite) FetchConversationsSince(ctx context.Context, watermark int64) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE `+orderingExpr+` > ?
		ORDER BY `+orderingExpr+` ASC`, watermark)
	if err != nil {
		return nil, fmt.Errorf("fetch conversations since: %w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var convos []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convos = append(convos, c)
	}
	return convos, rows.Err()
}

// SearchConversations matches term against phone, display name and preview.
func (s *SQLite) SearchConversations(ctx context.Context, term string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 15
	}
	pattern := "%" + term + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE phone LIKE ? OR display_name LIKE ? OR preview LIKE ?
		ORDER BY `+orderingExpr+` DESC
		LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var convos []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convos = append(convos, c)
	}
	return convos, rows.Err()
}

const messageCols = "id, conversation_id, inbound, body, timestamp, is_read"

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Inbound, &m.Body, &m.Timestamp, &m.Read)
	return m, err
}

// FetchMessages returns one page of a conversation's messages, newest first,
// using keyset pagination by timestamp.
func (s *SQLite) FetchMessages(ctx context.Context, convoID int64, before int64, limit int) (MessagePage, error) {
	if limit <= 0 {
		limit = 50
	}
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageCols+`
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, convoID, before, limit)
	if err != nil {
		return MessagePage{}, fmt.Errorf("fetch messages: %w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return MessagePage{}, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return MessagePage{}, fmt.Errorf("fetch messages: %w: %w", ErrSourceUnavailable, err)
	}
	return MessagePage{Messages: msgs, HasMore: len(msgs) == limit}, nil
}

// FetchMessagesSince returns a conversation's messages newer than the watermark.
func (s *SQLite) FetchMessagesSince(ctx context.Context, convoID int64, watermark int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageCols+`
		FROM messages
		WHERE conversation_id = ? AND timestamp > ?
		ORDER BY timestamp ASC`, convoID, watermark)
	if err != nil {
		return nil, fmt.Errorf("fetch messages since: %w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// InsertMessage writes a message and folds it into its conversation row
// (preview, activity timestamp, unread counters), mirroring what the hosted
// store's triggers do on insert.
func (s *SQLite) InsertMessage(ctx context.Context, m Message) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, inbound, body, timestamp, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.Inbound, m.Body, m.Timestamp, m.Read, time.Now().UnixMilli())
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w: %w", ErrSourceUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("insert message id: %w", err)
	}

	unreadDelta := 0
	if m.Inbound {
		unreadDelta = 1
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET
			preview = CASE WHEN ? >= last_message_at THEN ? ELSE preview END,
			last_message_at = MAX(last_message_at, ?),
			updated_at = ?,
			unread_count = unread_count + ?,
			unread = CASE WHEN unread_count + ? > 0 THEN 1 ELSE 0 END
		WHERE id = ?`,
		m.Timestamp, truncate(m.Body, 100), m.Timestamp, time.Now().UnixMilli(),
		unreadDelta, unreadDelta, m.ConversationID); err != nil {
		return Message{}, fmt.Errorf("update conversation: %w: %w", ErrSourceUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("insert message commit: %w: %w", ErrSourceUnavailable, err)
	}

	confirmed := m
	confirmed.ID = id
	confirmed.TempID = ""
	return confirmed, nil
}

// MarkConversationRead clears unread state. Idempotent.
func (s *SQLite) MarkConversationRead(ctx context.Context, convoID int64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET unread = 0, unread_count = 0 WHERE id = ?`, convoID); err != nil {
		return fmt.Errorf("mark conversation read: %w: %w", ErrSourceUnavailable, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND inbound = 1`, convoID); err != nil {
		return fmt.Errorf("mark messages read: %w: %w", ErrSourceUnavailable, err)
	}
	return nil
}

// InsertConversation creates a conversation row. Used by the ingestion
// collaborator and by tests; not part of the RowSource contract.
func (s *SQLite) InsertConversation(ctx context.Context, c Conversation) (Conversation, error) {
	c.Normalize()
	if c.UpdatedAt == 0 {
		c.UpdatedAt = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (phone, display_name, preview, last_message_at, updated_at, unread, unread_count, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Phone, c.DisplayName, c.Preview, c.LastMessageAt, c.UpdatedAt, c.Unread, c.UnreadCount, c.Status)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w: %w", ErrSourceUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation id: %w", err)
	}
	c.ID = id
	return c, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// Back off to a rune boundary so the cut never splits a multi-byte
	// character.
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}
