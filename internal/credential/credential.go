// Package credential stores the session's bearer token on disk.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/duet/internal/state"
)

// ErrNone is returned by Load when no credential is stored.
var ErrNone = errors.New("no stored credential")

// ErrExpired is returned by Inspect for a JWT whose exp is in the past.
var ErrExpired = errors.New("credential expired")

// Credential is a bearer token plus the user it belongs to.
type Credential struct {
	Token   string    `toml:"token"`
	UserID  int64     `toml:"user_id"`
	Name    string    `toml:"name"`
	Email   string    `toml:"email"`
	SavedAt time.Time `toml:"saved_at"`
}

// User returns the owning user.
func (c *Credential) User() state.User {
	return state.User{ID: c.UserID, Name: c.Name, Email: c.Email}
}

// Save writes cred to path with mode 0600.
func Save(path string, cred *Credential) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cred)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		encErr = closeErr
	}
	if encErr != nil {
		_ = os.Remove(tmp)
		return encErr
	}
	return os.Rename(tmp, path)
}

// Load reads the credential at path. Returns ErrNone if there is none.
func Load(path string) (*Credential, error) {
	var cred Credential
	if _, err := toml.DecodeFile(path, &cred); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNone
		}
		return nil, fmt.Errorf("read credential: %w", err)
	}
	if cred.Token == "" {
		return nil, ErrNone
	}
	return &cred, nil
}

// Remove deletes the stored credential. Missing files are not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Claims is what can be learned from a token without the server's key.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Inspect reads the subject and expiry of a JWT without verifying its
// signature. Opaque tokens yield zero Claims and no error.
func Inspect(token string, now time.Time) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return Claims{}, nil
	}
	c := Claims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
		if !c.ExpiresAt.After(now) {
			return c, fmt.Errorf("%w at %s", ErrExpired, c.ExpiresAt.Format(time.RFC3339))
		}
	}
	return c, nil
}
