package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is how many hints fit in one header column.
const menuRows = 6

// Menu displays keyboard shortcut hints in columns.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates a new menu hint bar.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders hints column by column, menuRows per column.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()

	keyColor := Hex(m.theme.MenuKeyColor)
	numColor := Hex(m.theme.NumericKeyColor)

	cells := make([]string, len(hints))
	width := 0
	for i, h := range hints {
		cells[i] = fmt.Sprintf("<%s> %s", h.Key, h.Description)
		width = max(width, len(cells[i]))
	}

	rows := make([]strings.Builder, min(len(hints), menuRows))
	for i, h := range hints {
		kc := keyColor
		if h.Numeric {
			kc = numColor
		}
		pad := strings.Repeat(" ", width-len(cells[i])+2)
		_, _ = fmt.Fprintf(&rows[i%menuRows], "[%s::b]<%s>[-:-:-] %s%s", kc, h.Key, h.Description, pad)
	}
	for i := range rows {
		_, _ = fmt.Fprintln(m, rows[i].String())
	}
}
