package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/duet/internal/state"
)

// SaveConversation upserts a conversation with its participants and last
// message.
func (db *DB) SaveConversation(c state.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin save conversation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastID sql.NullInt64
	if c.LastMessage != nil && c.LastMessage.ID != 0 {
		lastID = sql.NullInt64{Int64: c.LastMessage.ID, Valid: true}
	}
	if _, err := tx.Exec(`
		INSERT INTO conversations (id, unread_count, last_message_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			unread_count    = excluded.unread_count,
			last_message_id = COALESCE(excluded.last_message_id, conversations.last_message_id),
			created_at      = CASE WHEN excluded.created_at != 0 THEN excluded.created_at ELSE conversations.created_at END,
			updated_at      = MAX(excluded.updated_at, conversations.updated_at)`,
		c.ID, c.UnreadCount, lastID, toMillis(c.CreatedAt), toMillis(c.UpdatedAt)); err != nil {
		return fmt.Errorf("save conversation %d: %w", c.ID, err)
	}

	if len(c.Participants) > 0 {
		if _, err := tx.Exec(`DELETE FROM participants WHERE conversation_id = ?`, c.ID); err != nil {
			return fmt.Errorf("reset participants of %d: %w", c.ID, err)
		}
		for i, u := range c.Participants {
			if _, err := tx.Exec(`
				INSERT INTO users (id, name, email, avatar) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name   = CASE WHEN excluded.name   != '' THEN excluded.name   ELSE users.name   END,
					email  = CASE WHEN excluded.email  != '' THEN excluded.email  ELSE users.email  END,
					avatar = CASE WHEN excluded.avatar != '' THEN excluded.avatar ELSE users.avatar END`,
				u.ID, u.Name, u.Email, u.Avatar); err != nil {
				return fmt.Errorf("save participant %d: %w", u.ID, err)
			}
			if _, err := tx.Exec(`INSERT INTO participants (conversation_id, user_id, position) VALUES (?, ?, ?)`,
				c.ID, u.ID, i); err != nil {
				return fmt.Errorf("save participant %d: %w", u.ID, err)
			}
		}
	}
	return tx.Commit()
}

// ListConversations returns cached conversations, most recently active first.
func (db *DB) ListConversations(limit, offset int) ([]state.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT c.id, c.unread_count, c.last_message_id, c.created_at, c.updated_at
		FROM conversations c
		LEFT JOIN messages m ON m.id = c.last_message_id
		ORDER BY MAX(c.updated_at, COALESCE(m.created_at, 0)) DESC, c.id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	type row struct {
		conv   state.Conversation
		lastID sql.NullInt64
	}
	var list []row
	for rows.Next() {
		var (
			r                    row
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&r.conv.ID, &r.conv.UnreadCount, &r.lastID, &createdAt, &updatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.conv.CreatedAt, r.conv.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
		list = append(list, r)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]state.Conversation, 0, len(list))
	for _, r := range list {
		if err := db.fillConversation(&r.conv, r.lastID); err != nil {
			return nil, err
		}
		out = append(out, r.conv)
	}
	return out, nil
}

// GetConversation returns a cached conversation, or nil if absent.
func (db *DB) GetConversation(id int64) (*state.Conversation, error) {
	var (
		c                    state.Conversation
		lastID               sql.NullInt64
		createdAt, updatedAt int64
	)
	err := db.QueryRow(`SELECT id, unread_count, last_message_id, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.UnreadCount, &lastID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt, c.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	if err := db.fillConversation(&c, lastID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) fillConversation(c *state.Conversation, lastID sql.NullInt64) error {
	rows, err := db.Query(`
		SELECT u.id, u.name, u.email, u.avatar
		FROM participants p JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ?
		ORDER BY p.position`, c.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var u state.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Avatar); err != nil {
			_ = rows.Close()
			return err
		}
		c.Participants = append(c.Participants, u)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if lastID.Valid {
		m, err := db.GetMessage(lastID.Int64)
		if err != nil {
			return err
		}
		c.LastMessage = m
	}
	return nil
}
