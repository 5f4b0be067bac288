package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/duet/internal/state"
)

// SaveUser inserts or updates a user. Empty fields do not erase known values.
func (db *DB) SaveUser(u state.User) error {
	_, err := db.Exec(`
		INSERT INTO users (id, name, email, avatar) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name   = CASE WHEN excluded.name   != '' THEN excluded.name   ELSE users.name   END,
			email  = CASE WHEN excluded.email  != '' THEN excluded.email  ELSE users.email  END,
			avatar = CASE WHEN excluded.avatar != '' THEN excluded.avatar ELSE users.avatar END`,
		u.ID, u.Name, u.Email, u.Avatar)
	if err != nil {
		return fmt.Errorf("save user %d: %w", u.ID, err)
	}
	return nil
}

// GetUser returns a cached user, or nil if absent.
func (db *DB) GetUser(id int64) (*state.User, error) {
	var u state.User
	err := db.QueryRow(`SELECT id, name, email, avatar FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
