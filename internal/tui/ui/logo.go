package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Logo displays a compact ASCII art logo.
type Logo struct {
	*tview.TextView
}

// NewLogo creates a new logo component.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignRight)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 0, 1)

	title := Hex(theme.TitleColor)
	_, _ = fmt.Fprintf(tv,
		"[%[1]s::b]╔╦╗╦ ╦╔═╗╔╦╗[-:-:-]\n"+
			"[%[1]s::b] ║║║ ║║╣  ║ [-:-:-]\n"+
			"[%[1]s::b]═╩╝╚═╝╚═╝ ╩ [-:-:-]\n"+
			"[%[2]s]two-party chat[-:-:-]",
		title, Hex(theme.FgColor),
	)
	return &Logo{TextView: tv}
}
