// Package store is the reference backend's sqlite persistence layer:
// profiles, conversations, and messages.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	avatar_ref   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	local_id        TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, created_at);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_local_id
	ON messages(conversation_id, sender_id, local_id)
	WHERE local_id != '';
`

// DB wraps the sqlite handle.
type DB struct {
	*sql.DB
}

// Open opens the sqlite database and applies the schema.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{db}, nil
}

// UpsertProfile creates or updates a profile row.
func (db *DB) UpsertProfile(ctx context.Context, p wire.Profile) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, avatar_ref) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name,
			avatar_ref = excluded.avatar_ref`,
		p.ID, p.DisplayName, p.AvatarRef)
	return err
}

// GetProfiles resolves a batch of user ids in one query. Unknown ids are
// absent from the result.
func (db *DB) GetProfiles(ctx context.Context, ids []string) (map[string]wire.Profile, error) {
	out := make(map[string]wire.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, display_name, avatar_ref FROM profiles WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p wire.Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.AvatarRef); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// EnsureConversation creates the conversation row if absent.
func (db *DB) EnsureConversation(ctx context.Context, id string, nowMs int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`, id, nowMs)
	return err
}

// SnapshotMessages returns the most recent limit messages for a
// conversation, ascending by created_at. limit <= 0 returns all.
func (db *DB) SnapshotMessages(ctx context.Context, conversationID string, limit int) ([]wire.Message, error) {
	q := `SELECT id, conversation_id, sender_id, local_id, content, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{conversationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []wire.Message
	for rows.Next() {
		var m wire.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.LocalID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returned newest first; callers want ascending.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// InsertMessage persists a message with a server-assigned id. A retried send
// with the same (conversation, sender, local id) returns the existing row
// instead of creating a duplicate.
func (db *DB) InsertMessage(ctx context.Context, conversationID, senderID, content, localID string, nowMs int64) (wire.Message, bool, error) {
	if localID != "" {
		existing, err := db.messageByLocalID(ctx, conversationID, senderID, localID)
		if err != nil {
			return wire.Message{}, false, err
		}
		if existing != nil {
			return *existing, false, nil
		}
	}

	msg := wire.Message{
		ID:             uuid.NewString(),
		LocalID:        localID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      nowMs,
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, local_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.LocalID, msg.Content, msg.CreatedAt)
	if err != nil {
		// The unique local_id index may have raced a concurrent retry.
		if localID != "" {
			if existing, lookupErr := db.messageByLocalID(ctx, conversationID, senderID, localID); lookupErr == nil && existing != nil {
				return *existing, false, nil
			}
		}
		return wire.Message{}, false, err
	}
	return msg, true, nil
}

func (db *DB) messageByLocalID(ctx context.Context, conversationID, senderID, localID string) (*wire.Message, error) {
	var m wire.Message
	err := db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, local_id, content, created_at
		FROM messages WHERE conversation_id = ? AND sender_id = ? AND local_id = ?`,
		conversationID, senderID, localID).
		Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.LocalID, &m.Content, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
