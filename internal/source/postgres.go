package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres is the row source implementation for the hosted relational
// service, using the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

var _ RowSource = (*Postgres)(nil)

// OpenPostgres opens a PostgreSQL row source and runs idempotent DDL.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w: %w", ErrSourceUnavailable, err)
	}
	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// Close closes the underlying database.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id              BIGSERIAL PRIMARY KEY,
			phone           VARCHAR(32)  UNIQUE NOT NULL,
			display_name    VARCHAR(120) NOT NULL DEFAULT '',
			preview         TEXT         NOT NULL DEFAULT '',
			last_message_at BIGINT       NOT NULL DEFAULT 0,
			updated_at      BIGINT       NOT NULL,
			unread          BOOLEAN      NOT NULL DEFAULT FALSE,
			unread_count    INTEGER      NOT NULL DEFAULT 0,
			status          VARCHAR(16)  NOT NULL DEFAULT 'open'
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT  NOT NULL REFERENCES conversations(id),
			inbound         BOOLEAN NOT NULL DEFAULT FALSE,
			body            TEXT    NOT NULL DEFAULT '',
			timestamp       BIGINT  NOT NULL,
			is_read         BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      BIGINT  NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_ordering
			ON conversations ((CASE WHEN last_message_at > 0 THEN last_message_at ELSE updated_at END))`,
		`CREATE INDEX IF NOT EXISTS idx_messages_convo_ts
			ON messages (conversation_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// FetchConversations returns one page ordered by activity descending.
func (p *Postgres) FetchConversations(ctx context.Context, before int64, limit int) (ConversationPage, error) {
	if limit <= 0 {
		limit = 15
	}
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE `+orderingExpr+` < $1
		ORDER BY `+orderingExpr+` DESC
		LIMIT $2`, before, limit)
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
func (p *Postgres) FetchConversation(ctx context.Context, id int64) (Conversation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id)
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
func (p *Postgres) FetchConversationsSince(ctx context.Context, watermark int64) ([]Conversation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE `+orderingExpr+` > $1
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
func (p *Postgres) SearchConversations(ctx context.Context, term string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 15
	}
	pattern := "%" + term + "%"
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE phone ILIKE $1 OR display_name ILIKE $1 OR preview ILIKE $1
		ORDER BY `+orderingExpr+` DESC
		LIMIT $2`, pattern, limit)
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

// FetchMessages returns one page of a conversation's messages, newest first.
func (p *Postgres) FetchMessages(ctx context.Context, convoID int64, before int64, limit int) (MessagePage, error) {
	if limit <= 0 {
		limit = 50
	}
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+messageCols+`
		FROM messages
		WHERE conversation_id = $1 AND timestamp < $2
		ORDER BY timestamp DESC
		LIMIT $3`, convoID, before, limit)
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
func (p *Postgres) FetchMessagesSince(ctx context.Context, convoID int64, watermark int64) ([]Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+messageCols+`
		FROM messages
		WHERE conversation_id = $1 AND timestamp > $2
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

// InsertMessage writes a message and folds it into its conversation row.
func (p *Postgres) InsertMessage(ctx context.Context, m Message) (Message, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w: %w", ErrSourceUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, inbound, body, timestamp, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		m.ConversationID, m.Inbound, m.Body, m.Timestamp, m.Read, time.Now().UnixMilli()).Scan(&id)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w: %w", ErrSourceUnavailable, err)
	}

	unreadDelta := 0
	if m.Inbound {
		unreadDelta = 1
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET
			preview = CASE WHEN $1 >= last_message_at THEN $2 ELSE preview END,
			last_message_at = GREATEST(last_message_at, $1),
			updated_at = $3,
			unread_count = unread_count + $4,
			unread = unread_count + $4 > 0
		WHERE id = $5`,
		m.Timestamp, truncate(m.Body, 100), time.Now().UnixMilli(), unreadDelta, m.ConversationID); err != nil {
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
func (p *Postgres) MarkConversationRead(ctx context.Context, convoID int64) error {
	if _, err := p.db.ExecContext(ctx, `
		UPDATE conversations SET unread = FALSE, unread_count = 0 WHERE id = $1`, convoID); err != nil {
		return fmt.Errorf("mark conversation read: %w: %w", ErrSourceUnavailable, err)
	}
	if _, err := p.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE WHERE conversation_id = $1 AND inbound`, convoID); err != nil {
		return fmt.Errorf("mark messages read: %w: %w", ErrSourceUnavailable, err)
	}
	return nil
}

// InsertConversation creates a conversation row. Used by the ingestion
// collaborator; not part of the RowSource contract.
func (p *Postgres) InsertConversation(ctx context.Context, c Conversation) (Conversation, error) {
	c.Normalize()
	if c.UpdatedAt == 0 {
		c.UpdatedAt = time.Now().UnixMilli()
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO conversations (phone, display_name, preview, last_message_at, updated_at, unread, unread_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		c.Phone, c.DisplayName, c.Preview, c.LastMessageAt, c.UpdatedAt, c.Unread, c.UnreadCount, c.Status).Scan(&c.ID)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w: %w", ErrSourceUnavailable, err)
	}
	return c, nil
}
