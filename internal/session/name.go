package session

import (
	"fmt"
	"os"
	"regexp"

	"github.com/matheus3301/duet/internal/config"
)

// DefaultSessionName is used when nothing else names a session.
const DefaultSessionName = "main"

// NameEnv selects the session when no --session flag is given.
const NameEnv = "DUET_SESSION"

var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Resolve picks the session name: the --session flag, then $DUET_SESSION,
// then default_session from config.toml, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(NameEnv); env != "" {
		return env
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// ValidateName rejects names that are unsafe as a directory name. A name is
// 1-64 lowercase letters, digits, '-' or '_' and starts with a letter or digit.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 of [a-z0-9_-], starting with a letter or digit", name)
	}
	return nil
}
