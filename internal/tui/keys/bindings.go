package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Key     tcell.Key
	Rune    rune
	Handler func()
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Rune builds an action for a printable key.
func Rune(r rune, fn func()) *Action {
	return &Action{Key: tcell.KeyRune, Rune: r, Handler: fn}
}

// Key builds an action for a special key.
func Key(k tcell.Key, fn func()) *Action {
	return &Action{Key: k, Handler: fn}
}

// Registry holds keybindings organized by scope. Bindings are matched in
// registration order, view bindings before global ones.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]*Action)}
}

// AddGlobal registers bindings active on every view.
func (r *Registry) AddGlobal(actions ...*Action) {
	r.global = append(r.global, actions...)
}

// AddView registers bindings active only on view.
func (r *Registry) AddView(view string, actions ...*Action) {
	r.views[view] = append(r.views[view], actions...)
}

// HandleEvent dispatches a key event to the first matching action for view.
// Returns true if a handler matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	for _, a := range r.views[view] {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
