package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/duet/internal/tui/ui"
	"github.com/rivo/tview"
)

// column is one header cell; expansion 0 keeps the column at content width.
type column struct {
	title     string
	expansion int
}

func newTable(theme *ui.Theme, title string) *tview.Table {
	t := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	t.SetBorder(true).
		SetBorderColor(theme.BorderColor).
		SetTitle(title).
		SetTitleColor(theme.TitleColor).
		SetBackgroundColor(theme.BgColor)
	t.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.TableCursorFg).Background(theme.TableCursorBg))
	return t
}

// writeHeader puts cols on row 0 of t.
func writeHeader(t *tview.Table, theme *ui.Theme, cols ...column) {
	for i, c := range cols {
		t.SetCell(0, i, tview.NewTableCell(" "+c.title).
			SetSelectable(false).
			SetExpansion(c.expansion).
			SetTextColor(theme.TableHeaderFg).
			SetBackgroundColor(theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}
}
