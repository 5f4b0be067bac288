package session

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/matheus3301/duet/internal/lock"
)

// Info describes one session directory.
type Info struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
}

// List returns every session under BaseDir, sorted by name.
func List() ([]Info, error) {
	root := filepath.Join(BaseDir(), "sessions")
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		dir := filepath.Join(root, e.Name())
		info := Info{Name: e.Name(), Path: dir, Running: lock.Held(dir)}
		if info.Running {
			if h, err := lock.ReadHolder(dir); err == nil {
				info.PID = h.PID
			}
		}
		out = append(out, info)
	}
	return out, nil
}
