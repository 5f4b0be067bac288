package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/duet/internal/state"
)

// SaveMessage upserts a confirmed message. An older copy never overwrites a
// newer one.
func (db *DB) SaveMessage(m state.Message) error {
	if m.ID == 0 {
		return errors.New("save message: missing server id")
	}
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	if m.Attachments == nil {
		attachments = []byte("[]")
	}
	if m.Sender != nil && m.Sender.ID != 0 {
		if err := db.SaveUser(*m.Sender); err != nil {
			return err
		}
	}
	_, err = db.Exec(`
		INSERT INTO messages (id, conversation_id, client_id, sender_id, content, attachments, is_read, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id   = CASE WHEN excluded.client_id != '' THEN excluded.client_id ELSE messages.client_id END,
			content     = excluded.content,
			attachments = excluded.attachments,
			is_read     = excluded.is_read,
			updated_at  = excluded.updated_at
		WHERE excluded.updated_at >= messages.updated_at`,
		m.ID, m.ConversationID, m.ClientID, m.SenderID, m.Content, string(attachments), m.IsRead,
		toMillis(m.CreatedAt), toMillis(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save message %d: %w", m.ID, err)
	}
	return nil
}

// GetMessage returns a cached message, or nil if absent.
func (db *DB) GetMessage(id int64) (*state.Message, error) {
	rows, err := db.Query(messageSelect+` WHERE m.id = ?`, id)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// ListMessages returns up to limit messages of a conversation created before
// before (zero means now), newest first.
func (db *DB) ListMessages(convID int64, before time.Time, limit int) ([]state.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if before.IsZero() {
		before = time.Now().Add(time.Millisecond)
	}
	rows, err := db.Query(messageSelect+`
		WHERE m.conversation_id = ? AND m.created_at < ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, convID, toMillis(before), limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.client_id, m.sender_id, m.content, m.attachments,
	       m.is_read, m.created_at, m.updated_at,
	       u.id, u.name, u.email, u.avatar
	FROM messages m
	LEFT JOIN users u ON u.id = m.sender_id`

func scanMessages(rows *sql.Rows) ([]state.Message, error) {
	defer func() { _ = rows.Close() }()
	var msgs []state.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (state.Message, error) {
	var (
		m                    state.Message
		attachments          string
		createdAt, updatedAt int64
		uid                  sql.NullInt64
		uname, email, avatar sql.NullString
	)
	if err := s.Scan(
		&m.ID, &m.ConversationID, &m.ClientID, &m.SenderID, &m.Content, &attachments,
		&m.IsRead, &createdAt, &updatedAt,
		&uid, &uname, &email, &avatar,
	); err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
		return m, fmt.Errorf("decode attachments of %d: %w", m.ID, err)
	}
	if len(m.Attachments) == 0 {
		m.Attachments = nil
	}
	m.CreatedAt, m.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	m.Status = state.StatusConfirmed
	if uid.Valid {
		m.Sender = &state.User{ID: uid.Int64, Name: uname.String, Email: email.String, Avatar: avatar.String}
	}
	return m, nil
}
