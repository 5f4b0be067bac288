package ui

import "github.com/rivo/tview"

// MenuHint describes a keyboard shortcut for display in the menu bar.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // true for 0-9 shortcuts (displayed in a different color)
}

// Component is the lifecycle interface for all TUI views. Start runs when
// the component becomes the top page, Stop when it is covered or popped.
type Component interface {
	tview.Primitive
	Name() string
	Start()
	Stop()
	Hints() []MenuHint
}
