package ui

import "github.com/rivo/tview"

// Pages is a stack of Components wrapping tview.Pages.
// It provides push/pop semantics and notifies on stack changes.
type Pages struct {
	*tview.Pages
	components map[string]Component
	stack      []string
	onChange   func(top Component, crumbs []string)
}

// NewPages creates a new stack-based page manager.
func NewPages() *Pages {
	return &Pages{
		Pages:      tview.NewPages(),
		components: make(map[string]Component),
	}
}

// Register adds a component under key without showing it.
func (p *Pages) Register(key string, c Component) {
	p.components[key] = c
	p.AddPage(key, c, true, false)
}

// SetOnChange sets a callback that fires when the stack changes.
func (p *Pages) SetOnChange(fn func(top Component, crumbs []string)) {
	p.onChange = fn
}

// Push stops the current component and starts key on top of it. Pushing the
// key already on top only restarts it.
func (p *Pages) Push(key string) {
	if p.Current() == key {
		p.components[key].Start()
		p.notify()
		return
	}
	if top := p.Top(); top != nil {
		top.Stop()
		p.HidePage(p.Current())
	}
	p.stack = append(p.stack, key)
	p.show(key)
}

// Pop removes the top component and resumes the one below it. The last
// component is never popped. Returns the popped key, or empty.
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	key := p.stack[len(p.stack)-1]
	p.components[key].Stop()
	p.HidePage(key)
	p.stack = p.stack[:len(p.stack)-1]
	p.show(p.Current())
	return key
}

// Reset clears the stack and shows only key.
func (p *Pages) Reset(key string) {
	for _, k := range p.stack {
		p.components[k].Stop()
		p.HidePage(k)
	}
	p.stack = []string{key}
	p.show(key)
}

func (p *Pages) show(key string) {
	p.ShowPage(key)
	p.SendToFront(key)
	p.components[key].Start()
	p.notify()
}

// Current returns the key of the top page.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Top returns the top component, or nil.
func (p *Pages) Top() Component {
	return p.components[p.Current()]
}

// Depth returns the current stack depth.
func (p *Pages) Depth() int {
	return len(p.stack)
}

func (p *Pages) notify() {
	if p.onChange == nil {
		return
	}
	crumbs := make([]string, len(p.stack))
	for i, k := range p.stack {
		crumbs[i] = p.components[k].Name()
	}
	p.onChange(p.Top(), crumbs)
}
