package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// maxCrumbs bounds the trail; deeper stacks collapse their oldest entries.
const maxCrumbs = 4

// Crumbs shows the page stack, newest last.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &Crumbs{TextView: tv, theme: theme}
}

// Update renders stack. Names can be chat names and are escaped.
func (c *Crumbs) Update(stack []string) {
	c.Clear()
	_, _ = fmt.Fprint(c, c.trail(stack))
}

func (c *Crumbs) trail(stack []string) string {
	if len(stack) == 0 {
		return ""
	}
	var b strings.Builder
	if len(stack) > maxCrumbs {
		fmt.Fprintf(&b, "[%s:%s:] ... [-:-:-] ", Hex(c.theme.CrumbInactiveFg), Hex(c.theme.CrumbInactiveBg))
		stack = stack[len(stack)-maxCrumbs:]
	}
	last := len(stack) - 1
	for i, name := range stack {
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == last {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		fmt.Fprintf(&b, "[%s:%s:%s] %s [-:-:-]", Hex(fg), Hex(bg), attr, tview.Escape(name))
		if i != last {
			b.WriteByte(' ')
		}
	}
	return b.String()
}
